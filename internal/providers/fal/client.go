// Package fal drives the fal.ai queue API.
package fal

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genorch/internal/domain"
	"genorch/internal/infra"
	"genorch/internal/providers"
)

const (
	Name = "fal"

	HeaderRequestID = "X-Fal-Webhook-Request-Id"
	HeaderUserID    = "X-Fal-Webhook-User-Id"
	HeaderTimestamp = "X-Fal-Webhook-Timestamp"
	HeaderSignature = "X-Fal-Webhook-Signature"

	webhookTolerance = 5 * time.Minute
)

// errResultNotReady is returned by the result endpoint while a request is still queued.
var errResultNotReady = errors.New("fal: result not ready")

type Options struct {
	APIKey  string
	BaseURL string
	// VerifyWebhooks checks delivery signatures against the keys published at JWKSURL.
	VerifyWebhooks bool
	JWKSURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Client implements providers.Adapter for fal.
type Client struct {
	apiKey     string
	baseURL    string
	jwks       *jwksCache
	httpClient *http.Client
	logger     *infra.Logger
	now        func() time.Time
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type imageResult struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
	Image *struct {
		URL string `json:"url"`
	} `json:"image"`
}

type webhookPayload struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://queue.fal.run"
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.Nop())
		logger = &l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var jwks *jwksCache
	if opts.VerifyWebhooks {
		jwksURL := strings.TrimSpace(opts.JWKSURL)
		if jwksURL == "" {
			jwksURL = DefaultJWKSURL
		}
		jwks = &jwksCache{url: jwksURL, client: httpClient, now: now}
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		jwks:       jwks,
		httpClient: httpClient,
		logger:     logger,
		now:        now,
	}
}

func (c *Client) Name() string { return Name }

func (c *Client) HasCredentials() bool { return c.apiKey != "" }

// StartJob enqueues a request on the model's queue.
func (c *Client) StartJob(ctx context.Context, req providers.StartRequest) (string, error) {
	if !c.HasCredentials() {
		return "", providers.ErrMissingCredentials
	}
	input := map[string]any{}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		input["prompt"] = p
	}
	if len(req.InputRefs) > 0 {
		input["image_url"] = req.InputRefs[0]
	}
	endpoint := c.baseURL + "/" + strings.Trim(req.Model, "/")
	if req.WebhookURL != "" {
		endpoint += "?fal_webhook=" + url.QueryEscape(req.WebhookURL)
	}
	var out submitResponse
	if _, err := c.do(ctx, http.MethodPost, endpoint, input, &out); err != nil {
		return "", err
	}
	if out.RequestID == "" {
		return "", fmt.Errorf("fal: %w: request_id missing", providers.ErrMalformedPayload)
	}
	c.logger.Debug().Str("job_id", req.JobID).Str("request_id", out.RequestID).Str("model", req.Model).Msg("fal: request queued")
	return out.RequestID, nil
}

// GetStatus reads the queue status and, once completed, the result.
func (c *Client) GetStatus(ctx context.Context, ref providers.JobRef) (domain.ProviderUpdate, error) {
	if !c.HasCredentials() {
		return domain.ProviderUpdate{}, providers.ErrMissingCredentials
	}
	base := c.requestURL(ref)
	var st statusResponse
	if _, err := c.do(ctx, http.MethodGet, base+"/status", nil, &st); err != nil {
		return domain.ProviderUpdate{}, err
	}
	update := domain.ProviderUpdate{Provider: Name, ProviderJobID: ref.ProviderJobID, Source: domain.UpdateSourcePoll}
	switch st.Status {
	case "IN_QUEUE", "IN_PROGRESS":
		update.Status = domain.JobStatusProcessing
		return update, nil
	case "COMPLETED":
	default:
		return domain.ProviderUpdate{}, fmt.Errorf("fal: %w: unknown status %q", providers.ErrMalformedPayload, st.Status)
	}

	var result json.RawMessage
	status, err := c.do(ctx, http.MethodGet, base, nil, &result)
	switch {
	case err == nil:
		return withResult(update, result)
	case errors.Is(err, errResultNotReady):
		update.Status = domain.JobStatusProcessing
		return update, nil
	case status >= 400 && status < 500:
		update.Status = domain.JobStatusFailed
		update.Error = &domain.JobError{Code: "provider_failed", Message: err.Error()}
		return update, nil
	default:
		return domain.ProviderUpdate{}, err
	}
}

func (c *Client) Cancel(ctx context.Context, ref providers.JobRef) error {
	if !c.HasCredentials() {
		return providers.ErrMissingCredentials
	}
	_, err := c.do(ctx, http.MethodPut, c.requestURL(ref)+"/cancel", nil, nil)
	return err
}

// ParseWebhook verifies the delivery's ED25519 signature and normalizes the result.
func (c *Client) ParseWebhook(header http.Header, body []byte) (domain.ProviderUpdate, error) {
	if c.jwks != nil {
		if err := c.verify(header, body); err != nil {
			return domain.ProviderUpdate{}, err
		}
	}
	var hook webhookPayload
	if err := json.Unmarshal(body, &hook); err != nil {
		return domain.ProviderUpdate{}, fmt.Errorf("fal: %w: %v", providers.ErrMalformedPayload, err)
	}
	if hook.RequestID == "" {
		return domain.ProviderUpdate{}, fmt.Errorf("fal: %w: request_id missing", providers.ErrMalformedPayload)
	}
	update := domain.ProviderUpdate{
		Provider:      Name,
		ProviderJobID: hook.RequestID,
		Source:        domain.UpdateSourceWebhook,
		Fingerprint:   providers.Fingerprint(hook.RequestID, hook.Status, string(body)),
	}
	switch hook.Status {
	case "OK":
		return withResult(update, hook.Payload)
	case "ERROR":
		update.Status = domain.JobStatusFailed
		msg := hook.Error
		if msg == "" {
			msg = "request failed"
		}
		update.Error = &domain.JobError{Code: "provider_failed", Message: msg}
		return update, nil
	default:
		return domain.ProviderUpdate{}, fmt.Errorf("fal: %w: unknown webhook status %q", providers.ErrMalformedPayload, hook.Status)
	}
}

// SignedMessage is the byte string a delivery signature covers.
func SignedMessage(requestID, userID, timestamp string, body []byte) []byte {
	bodyHash := sha256.Sum256(body)
	return []byte(requestID + "\n" + userID + "\n" + timestamp + "\n" + hex.EncodeToString(bodyHash[:]))
}

func (c *Client) verify(header http.Header, body []byte) error {
	id := header.Get(HeaderRequestID)
	user := header.Get(HeaderUserID)
	ts := header.Get(HeaderTimestamp)
	sig, err := hex.DecodeString(header.Get(HeaderSignature))
	if id == "" || user == "" || ts == "" || err != nil || len(sig) != ed25519.SignatureSize {
		return providers.ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return providers.ErrInvalidSignature
	}
	if d := c.now().Sub(time.Unix(unix, 0)); d > webhookTolerance || d < -webhookTolerance {
		return providers.ErrInvalidSignature
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := SignedMessage(id, user, ts, body)
	for _, refresh := range []bool{false, true} {
		keys, err := c.jwks.get(ctx, refresh)
		if err != nil {
			c.logger.Error().Err(err).Msg("fal: webhook keys unavailable")
			return providers.ErrInvalidSignature
		}
		for _, key := range keys {
			if ed25519.Verify(key, msg, sig) {
				return nil
			}
		}
	}
	return providers.ErrInvalidSignature
}

// requestURL addresses a queued request. Queue paths use the app id, the first two
// segments of the model path.
func (c *Client) requestURL(ref providers.JobRef) string {
	parts := strings.Split(strings.Trim(ref.Model, "/"), "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return c.baseURL + "/" + strings.Join(parts, "/") + "/requests/" + ref.ProviderJobID
}

func withResult(update domain.ProviderUpdate, raw json.RawMessage) (domain.ProviderUpdate, error) {
	var res imageResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return domain.ProviderUpdate{}, fmt.Errorf("fal: %w: %v", providers.ErrMalformedPayload, err)
		}
	}
	for _, img := range res.Images {
		if u := strings.TrimSpace(img.URL); u != "" {
			update.Outputs = append(update.Outputs, u)
		}
	}
	if res.Image != nil && strings.TrimSpace(res.Image.URL) != "" {
		update.Outputs = append(update.Outputs, strings.TrimSpace(res.Image.URL))
	}
	if len(update.Outputs) == 0 {
		update.Status = domain.JobStatusFailed
		update.Error = &domain.JobError{Code: "empty_output", Message: "provider returned no images"}
		return update, nil
	}
	update.Status = domain.JobStatusSucceeded
	return update, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("fal: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, fmt.Errorf("fal: build request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fal: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("fal: read response: %w", err)
	}
	if resp.StatusCode == http.StatusAccepted && method == http.MethodGet {
		return resp.StatusCode, errResultNotReady
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("fal: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, fmt.Errorf("fal: decode response: %w", err)
	}
	return resp.StatusCode, nil
}

var _ providers.Adapter = (*Client)(nil)
