// Package providers defines the common shape every compute provider is driven through and
// the registry the orchestrator resolves adapters from. Provider wire formats never leave
// the adapter packages; callers only see domain.ProviderUpdate.
package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"sort"
	"strings"

	"genorch/internal/domain"
)

var (
	ErrInvalidSignature   = errors.New("providers: invalid webhook signature")
	ErrMissingCredentials = errors.New("providers: credentials are not configured")
	ErrMalformedPayload   = errors.New("providers: malformed payload")
)

// StartRequest is what an adapter needs to launch one remote job.
type StartRequest struct {
	JobID      string
	Model      string
	Prompt     string
	InputRefs  []string
	WebhookURL string
}

// JobRef identifies a launched remote job.
type JobRef struct {
	ProviderJobID string
	Model         string
}

// Adapter drives one provider.
type Adapter interface {
	Name() string
	StartJob(ctx context.Context, req StartRequest) (string, error)
	GetStatus(ctx context.Context, ref JobRef) (domain.ProviderUpdate, error)
	Cancel(ctx context.Context, ref JobRef) error
	ParseWebhook(header http.Header, body []byte) (domain.ProviderUpdate, error)
}

// Registry resolves adapters by provider name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[strings.ToLower(a.Name())] = a
	}
	return r
}

// Get returns the adapter registered under name or domain.ErrUnknownProvider.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return a, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Fingerprint derives a stable event fingerprint from the parts that identify a delivery.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:16])
}
