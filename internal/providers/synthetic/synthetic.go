// Package synthetic is a credential-free provider used in development and tests. It
// completes every job after a fixed delay with deterministic inline PNG outputs.
package synthetic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"sync"
	"time"

	"genorch/internal/domain"
	"genorch/internal/providers"
)

type Options struct {
	CompleteAfter time.Duration
	Outputs       int
	Now           func() time.Time
	// DisableWebhooks rejects every delivery; runs then finish through polling only.
	DisableWebhooks bool
}

type run struct {
	startedAt time.Time
	seed      string
	canceled  bool
}

// Provider implements providers.Adapter without any remote calls.
type Provider struct {
	name          string
	completeAfter time.Duration
	outputs       int
	now           func() time.Time
	noWebhooks    bool

	mu   sync.Mutex
	runs map[string]*run
}

// New registers the synthetic provider under name so it can stand in for a real one.
func New(name string, opts Options) *Provider {
	if opts.CompleteAfter <= 0 {
		opts.CompleteAfter = 1500 * time.Millisecond
	}
	if opts.Outputs <= 0 {
		opts.Outputs = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Provider{
		name:          name,
		completeAfter: opts.CompleteAfter,
		outputs:       opts.Outputs,
		now:           opts.Now,
		noWebhooks:    opts.DisableWebhooks,
		runs:          make(map[string]*run),
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) StartJob(ctx context.Context, req providers.StartRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "syn_" + req.JobID
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.runs[id]; !ok {
		p.runs[id] = &run{startedAt: p.now(), seed: req.Model + "|" + req.Prompt}
	}
	return id, nil
}

func (p *Provider) GetStatus(ctx context.Context, ref providers.JobRef) (domain.ProviderUpdate, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProviderUpdate{}, err
	}
	// Runs started by another process are unknown here and report as already complete.
	var snapshot run
	p.mu.Lock()
	if r, ok := p.runs[ref.ProviderJobID]; ok {
		snapshot = *r
	}
	p.mu.Unlock()

	update := domain.ProviderUpdate{Provider: p.name, ProviderJobID: ref.ProviderJobID, Source: domain.UpdateSourcePoll}
	switch {
	case snapshot.canceled:
		update.Status = domain.JobStatusCanceled
	case p.now().Sub(snapshot.startedAt) < p.completeAfter:
		update.Status = domain.JobStatusProcessing
	default:
		update.Status = domain.JobStatusSucceeded
		outputs, err := render(ref.ProviderJobID, snapshot.seed, p.outputs)
		if err != nil {
			return domain.ProviderUpdate{}, err
		}
		update.Outputs = outputs
	}
	return update, nil
}

func (p *Provider) Cancel(ctx context.Context, ref providers.JobRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.runs[ref.ProviderJobID]
	if !ok {
		r = &run{startedAt: p.now()}
		p.runs[ref.ProviderJobID] = r
	}
	r.canceled = true
	return nil
}

type webhookPayload struct {
	ID      string           `json:"id"`
	Status  domain.JobStatus `json:"status"`
	Outputs []string         `json:"outputs"`
	Error   string           `json:"error"`
}

// ParseWebhook accepts an unsigned normalized payload, which lets local tooling replay
// provider callbacks. Outside development webhooks are disabled.
func (p *Provider) ParseWebhook(_ http.Header, body []byte) (domain.ProviderUpdate, error) {
	if p.noWebhooks {
		return domain.ProviderUpdate{}, providers.ErrInvalidSignature
	}
	var hook webhookPayload
	if err := json.Unmarshal(body, &hook); err != nil {
		return domain.ProviderUpdate{}, fmt.Errorf("synthetic: %w: %v", providers.ErrMalformedPayload, err)
	}
	if hook.ID == "" || !hook.Status.Valid() {
		return domain.ProviderUpdate{}, fmt.Errorf("synthetic: %w: id and status are required", providers.ErrMalformedPayload)
	}
	update := domain.ProviderUpdate{
		Provider:      p.name,
		ProviderJobID: hook.ID,
		Status:        hook.Status,
		Outputs:       hook.Outputs,
		Source:        domain.UpdateSourceWebhook,
		Fingerprint:   providers.Fingerprint(string(body)),
	}
	if hook.Status == domain.JobStatusFailed {
		update.Error = &domain.JobError{Code: "provider_failed", Message: hook.Error}
	}
	return update, nil
}

// render produces n small solid-color PNGs whose color is derived from id and seed.
func render(id, seed string, n int) ([]string, error) {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", id, seed, i)))
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		fill := color.RGBA{R: sum[0], G: sum[1], B: sum[2], A: 0xff}
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				img.Set(x, y, fill)
			}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		out = append(out, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(buf.Bytes()))
	}
	return out, nil
}

var _ providers.Adapter = (*Provider)(nil)
