package fal

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"genorch/internal/domain"
	"genorch/internal/providers"
)

func TestStartJobQueuesWithWebhook(t *testing.T) {
	var gotPath, gotHook, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHook = r.URL.Query().Get("fal_webhook")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"request_id":"req-1","status_url":"x"}`))
	}))
	defer srv.Close()

	c := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	id, err := c.StartJob(context.Background(), providers.StartRequest{
		Model:      "fal-ai/flux-pro/kontext",
		Prompt:     "make it night",
		InputRefs:  []string{"https://in/1.png"},
		WebhookURL: "https://hooks.example.com/v1/webhooks/providers/fal",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id != "req-1" || gotPath != "/fal-ai/flux-pro/kontext" || gotAuth != "Key k" {
		t.Fatalf("id=%q path=%q auth=%q", id, gotPath, gotAuth)
	}
	if gotHook != "https://hooks.example.com/v1/webhooks/providers/fal" {
		t.Fatalf("webhook = %q", gotHook)
	}
}

func TestGetStatusUsesAppPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fal-ai/flux/requests/req-2/status":
			_, _ = w.Write([]byte(`{"status":"COMPLETED"}`))
		case "/fal-ai/flux/requests/req-2":
			_, _ = w.Write([]byte(`{"images":[{"url":"https://o/1.png"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	update, err := c.GetStatus(context.Background(), providers.JobRef{ProviderJobID: "req-2", Model: "fal-ai/flux/dev/image-to-image"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if update.Status != domain.JobStatusSucceeded || len(update.Outputs) != 1 || update.Outputs[0] != "https://o/1.png" {
		t.Fatalf("update = %+v", update)
	}
}

func TestGetStatusInQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"IN_QUEUE"}`))
	}))
	defer srv.Close()

	c := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	update, err := c.GetStatus(context.Background(), providers.JobRef{ProviderJobID: "r", Model: "fal-ai/flux"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if update.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s", update.Status)
	}
}

func TestGetStatusResultClientErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fal-ai/flux/requests/r/status" {
			_, _ = w.Write([]byte(`{"status":"COMPLETED"}`))
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"image_url unreachable"}`))
	}))
	defer srv.Close()

	c := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	update, err := c.GetStatus(context.Background(), providers.JobRef{ProviderJobID: "r", Model: "fal-ai/flux/dev"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if update.Status != domain.JobStatusFailed || update.Error == nil {
		t.Fatalf("update = %+v", update)
	}
}

func TestCancelUsesPut(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_, _ = w.Write([]byte(`{"status":"CANCELLATION_REQUESTED"}`))
	}))
	defer srv.Close()

	c := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	if err := c.Cancel(context.Background(), providers.JobRef{ProviderJobID: "r", Model: "fal-ai/flux-pro/kontext"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if method != http.MethodPut || path != "/fal-ai/flux-pro/requests/r/cancel" {
		t.Fatalf("method=%s path=%s", method, path)
	}
}

func newJWKSServer(t *testing.T, pub ed25519.PublicKey, hits *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		_, _ = fmt.Fprintf(w, `{"keys":[{"kty":"OKP","crv":"Ed25519","x":%q}]}`, base64.RawURLEncoding.EncodeToString(pub))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signedHeader(priv ed25519.PrivateKey, requestID, userID, ts string, body []byte) http.Header {
	header := http.Header{}
	header.Set(HeaderRequestID, requestID)
	header.Set(HeaderUserID, userID)
	header.Set(HeaderTimestamp, ts)
	header.Set(HeaderSignature, hex.EncodeToString(ed25519.Sign(priv, SignedMessage(requestID, userID, ts, body))))
	return header
}

func TestParseWebhook(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var hits int
	jwks := newJWKSServer(t, pub, &hits)
	c := NewClient(Options{VerifyWebhooks: true, JWKSURL: jwks.URL, HTTPClient: jwks.Client(), Now: func() time.Time { return now }})

	body := []byte(`{"request_id":"req-5","status":"OK","payload":{"images":[{"url":"https://o/a.png"}]}}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	header := signedHeader(priv, "req-5", "user-1", ts, body)

	update, err := c.ParseWebhook(header, body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if update.Status != domain.JobStatusSucceeded || update.ProviderJobID != "req-5" || update.Fingerprint == "" {
		t.Fatalf("update = %+v", update)
	}
	again, _ := c.ParseWebhook(header, body)
	if again.Fingerprint != update.Fingerprint {
		t.Fatal("redelivery must carry the same fingerprint")
	}
	if hits != 1 {
		t.Fatalf("jwks fetched %d times, want 1", hits)
	}

	// The user id is part of the signed message.
	header.Set(HeaderUserID, "user-2")
	if _, err := c.ParseWebhook(header, body); !errors.Is(err, providers.ErrInvalidSignature) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseWebhookRejectsForgedDeliveries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	_, attacker, _ := ed25519.GenerateKey(rand.Reader)
	var hits int
	jwks := newJWKSServer(t, pub, &hits)
	c := NewClient(Options{VerifyWebhooks: true, JWKSURL: jwks.URL, HTTPClient: jwks.Client(), Now: func() time.Time { return now }})

	body := []byte(`{"request_id":"victim-req","status":"OK","payload":{"images":[{"url":"https://attacker.example/x.png"}]}}`)
	ts := strconv.FormatInt(now.Unix(), 10)

	cases := map[string]http.Header{
		"unsigned":    {},
		"foreign key": signedHeader(attacker, "victim-req", "user-1", ts, body),
		"stale":       signedHeader(attacker, "victim-req", "user-1", strconv.FormatInt(now.Add(-time.Hour).Unix(), 10), body),
	}
	for name, header := range cases {
		if _, err := c.ParseWebhook(header, body); !errors.Is(err, providers.ErrInvalidSignature) {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}

func TestParseWebhookError(t *testing.T) {
	c := NewClient(Options{})
	update, err := c.ParseWebhook(http.Header{}, []byte(`{"request_id":"r","status":"ERROR","error":"boom"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if update.Status != domain.JobStatusFailed || update.Error.Message != "boom" {
		t.Fatalf("update = %+v", update)
	}
}
