package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPGateway posts charges to a REST payment gateway.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ChargeResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return ChargeResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	// the addon id doubles as the gateway idempotency key so a retried checkout never charges twice
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ChargeResult{}, err
	}
	if resp.StatusCode >= 500 {
		return ChargeResult{}, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		return ChargeResult{Outcome: OutcomeDeclined}, nil
	}
	if resp.StatusCode >= 300 {
		return ChargeResult{}, fmt.Errorf("payment gateway error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out ChargeResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return ChargeResult{}, fmt.Errorf("decode charge response: %w", err)
	}
	switch out.Outcome {
	case OutcomeAuthorized, OutcomeDeclined, OutcomePending:
	default:
		return ChargeResult{}, fmt.Errorf("payment gateway returned unknown status %q", out.Outcome)
	}
	return out, nil
}

var _ Gateway = (*HTTPGateway)(nil)
