// Package replicate drives the Replicate predictions API.
package replicate

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genorch/internal/domain"
	"genorch/internal/infra"
	"genorch/internal/providers"
)

const (
	Name = "replicate"

	headerWebhookID        = "webhook-id"
	headerWebhookTimestamp = "webhook-timestamp"
	headerWebhookSignature = "webhook-signature"

	webhookTolerance = 5 * time.Minute
)

// Options configures the Replicate client.
type Options struct {
	APIToken       string
	BaseURL        string
	WebhookSecret  string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Client implements providers.Adapter for Replicate.
type Client struct {
	token         string
	baseURL       string
	webhookSecret []byte
	httpClient    *http.Client
	logger        *infra.Logger
	now           func() time.Time
}

type predictionRequest struct {
	Version             string         `json:"version,omitempty"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type prediction struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output"`
	Error       any             `json:"error"`
	CompletedAt string          `json:"completed_at"`
}

type errorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
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
		baseURL = "https://api.replicate.com/v1"
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
	return &Client{
		token:         strings.TrimSpace(opts.APIToken),
		baseURL:       baseURL,
		webhookSecret: decodeSecret(opts.WebhookSecret),
		httpClient:    httpClient,
		logger:        logger,
		now:           now,
	}
}

func (c *Client) Name() string { return Name }

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool { return c.token != "" }

// StartJob creates a prediction. Models pinned as owner/name:version go through the
// version endpoint; bare owner/name models use the official-model endpoint.
func (c *Client) StartJob(ctx context.Context, req providers.StartRequest) (string, error) {
	if !c.HasCredentials() {
		return "", providers.ErrMissingCredentials
	}
	input := map[string]any{}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		input["prompt"] = p
	}
	if len(req.InputRefs) > 0 {
		input["image"] = req.InputRefs[0]
	}
	payload := predictionRequest{Input: input}
	if req.WebhookURL != "" {
		payload.Webhook = req.WebhookURL
		payload.WebhookEventsFilter = []string{"completed"}
	}
	endpoint := c.baseURL + "/predictions"
	if _, version, pinned := strings.Cut(req.Model, ":"); pinned {
		payload.Version = version
	} else {
		endpoint = c.baseURL + "/models/" + strings.Trim(req.Model, "/") + "/predictions"
	}

	var pred prediction
	if err := c.do(ctx, http.MethodPost, endpoint, payload, &pred); err != nil {
		return "", err
	}
	if pred.ID == "" {
		return "", fmt.Errorf("replicate: %w: prediction id missing", providers.ErrMalformedPayload)
	}
	c.logger.Debug().Str("job_id", req.JobID).Str("prediction_id", pred.ID).Str("model", req.Model).Msg("replicate: prediction created")
	return pred.ID, nil
}

func (c *Client) GetStatus(ctx context.Context, ref providers.JobRef) (domain.ProviderUpdate, error) {
	if !c.HasCredentials() {
		return domain.ProviderUpdate{}, providers.ErrMissingCredentials
	}
	var pred prediction
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/predictions/"+ref.ProviderJobID, nil, &pred); err != nil {
		return domain.ProviderUpdate{}, err
	}
	update, err := normalize(pred)
	if err != nil {
		return domain.ProviderUpdate{}, err
	}
	update.Source = domain.UpdateSourcePoll
	return update, nil
}

func (c *Client) Cancel(ctx context.Context, ref providers.JobRef) error {
	if !c.HasCredentials() {
		return providers.ErrMissingCredentials
	}
	return c.do(ctx, http.MethodPost, c.baseURL+"/predictions/"+ref.ProviderJobID+"/cancel", nil, nil)
}

// ParseWebhook verifies the signed delivery and normalizes the prediction it carries. With
// no secret configured signatures are not checked.
func (c *Client) ParseWebhook(header http.Header, body []byte) (domain.ProviderUpdate, error) {
	if len(c.webhookSecret) > 0 {
		if err := c.verify(header, body); err != nil {
			return domain.ProviderUpdate{}, err
		}
	}
	var pred prediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return domain.ProviderUpdate{}, fmt.Errorf("replicate: %w: %v", providers.ErrMalformedPayload, err)
	}
	update, err := normalize(pred)
	if err != nil {
		return domain.ProviderUpdate{}, err
	}
	update.Source = domain.UpdateSourceWebhook
	if id := strings.TrimSpace(header.Get(headerWebhookID)); id != "" {
		update.Fingerprint = id
	} else {
		update.Fingerprint = providers.Fingerprint(pred.ID, pred.Status, pred.CompletedAt)
	}
	return update, nil
}

func (c *Client) verify(header http.Header, body []byte) error {
	id := header.Get(headerWebhookID)
	ts := header.Get(headerWebhookTimestamp)
	sigs := header.Get(headerWebhookSignature)
	if id == "" || ts == "" || sigs == "" {
		return providers.ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return providers.ErrInvalidSignature
	}
	if d := c.now().Sub(time.Unix(unix, 0)); d > webhookTolerance || d < -webhookTolerance {
		return providers.ErrInvalidSignature
	}
	expected := Sign(c.webhookSecret, id, ts, body)
	for _, candidate := range strings.Fields(sigs) {
		_, sig, ok := strings.Cut(candidate, ",")
		if !ok {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return providers.ErrInvalidSignature
}

// Sign computes the base64 HMAC-SHA256 of "id.timestamp.body".
func Sign(key []byte, id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func decodeSecret(secret string) []byte {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	if raw, ok := strings.CutPrefix(secret, "whsec_"); ok {
		if key, err := base64.StdEncoding.DecodeString(raw); err == nil {
			return key
		}
	}
	return []byte(secret)
}

func normalize(pred prediction) (domain.ProviderUpdate, error) {
	if pred.ID == "" {
		return domain.ProviderUpdate{}, fmt.Errorf("replicate: %w: prediction id missing", providers.ErrMalformedPayload)
	}
	update := domain.ProviderUpdate{Provider: Name, ProviderJobID: pred.ID}
	switch pred.Status {
	case "starting", "processing":
		update.Status = domain.JobStatusProcessing
	case "succeeded":
		update.Status = domain.JobStatusSucceeded
		outputs, err := decodeOutput(pred.Output)
		if err != nil {
			return domain.ProviderUpdate{}, err
		}
		update.Outputs = outputs
	case "failed":
		update.Status = domain.JobStatusFailed
		update.Error = &domain.JobError{Code: "provider_failed", Message: errorText(pred.Error)}
	case "canceled", "aborted":
		update.Status = domain.JobStatusCanceled
	default:
		return domain.ProviderUpdate{}, fmt.Errorf("replicate: %w: unknown status %q", providers.ErrMalformedPayload, pred.Status)
	}
	return update, nil
}

func decodeOutput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	return nil, fmt.Errorf("replicate: %w: unsupported output shape", providers.ErrMalformedPayload)
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return "prediction failed"
	case string:
		return e
	default:
		b, _ := json.Marshal(e)
		return string(b)
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("replicate: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("replicate: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("replicate: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
			return fmt.Errorf("replicate: %s (status %d)", detail.Detail, resp.StatusCode)
		}
		return fmt.Errorf("replicate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}

var _ providers.Adapter = (*Client)(nil)
