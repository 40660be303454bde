package synthetic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"genorch/internal/domain"
	"genorch/internal/providers"
)

func TestLifecycle(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	p := New("replicate", Options{CompleteAfter: 10 * time.Second, Outputs: 2, Now: func() time.Time { return now }})
	ctx := context.Background()

	id, err := p.StartJob(ctx, providers.StartRequest{JobID: "job-1", Model: "m", Prompt: "fox"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	update, err := p.GetStatus(ctx, providers.JobRef{ProviderJobID: id})
	if err != nil || update.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s, err = %v", update.Status, err)
	}

	now = now.Add(11 * time.Second)
	first, err := p.GetStatus(ctx, providers.JobRef{ProviderJobID: id})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if first.Status != domain.JobStatusSucceeded || len(first.Outputs) != 2 {
		t.Fatalf("update = %+v", first)
	}
	if !strings.HasPrefix(first.Outputs[0], "data:image/png;base64,") {
		t.Fatalf("output = %q", first.Outputs[0][:32])
	}
	second, _ := p.GetStatus(ctx, providers.JobRef{ProviderJobID: id})
	if second.Outputs[0] != first.Outputs[0] {
		t.Fatal("outputs must be deterministic")
	}
	if first.Provider != "replicate" {
		t.Fatalf("provider = %q", first.Provider)
	}
}

func TestCancel(t *testing.T) {
	p := New("fal", Options{})
	ctx := context.Background()
	id, _ := p.StartJob(ctx, providers.StartRequest{JobID: "job-2"})
	if err := p.Cancel(ctx, providers.JobRef{ProviderJobID: id}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	update, _ := p.GetStatus(ctx, providers.JobRef{ProviderJobID: id})
	if update.Status != domain.JobStatusCanceled {
		t.Fatalf("status = %s", update.Status)
	}
}

func TestUnknownRunReportsComplete(t *testing.T) {
	p := New("replicate", Options{})
	update, err := p.GetStatus(context.Background(), providers.JobRef{ProviderJobID: "syn_other-process"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if update.Status != domain.JobStatusSucceeded || len(update.Outputs) != 1 {
		t.Fatalf("update = %+v", update)
	}
}

func TestParseWebhook(t *testing.T) {
	p := New("fal", Options{})
	update, err := p.ParseWebhook(http.Header{}, []byte(`{"id":"syn_1","status":"failed","error":"boom"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if update.Status != domain.JobStatusFailed || update.Error.Message != "boom" || update.Fingerprint == "" {
		t.Fatalf("update = %+v", update)
	}
	if _, err := p.ParseWebhook(http.Header{}, []byte(`{"id":"syn_1","status":"done"}`)); !errors.Is(err, providers.ErrMalformedPayload) {
		t.Fatalf("err = %v", err)
	}
}

func TestDisabledWebhooksAreRejected(t *testing.T) {
	p := New("fal", Options{DisableWebhooks: true})
	_, err := p.ParseWebhook(http.Header{}, []byte(`{"id":"syn_1","status":"failed","error":"boom"}`))
	if !errors.Is(err, providers.ErrInvalidSignature) {
		t.Fatalf("err = %v", err)
	}
}
