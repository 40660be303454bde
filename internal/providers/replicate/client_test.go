package replicate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"genorch/internal/domain"
	"genorch/internal/providers"
)

func TestStartJobUsesOfficialModelEndpoint(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"starting"}`))
	}))
	defer srv.Close()

	c := NewClient(Options{APIToken: "tok", BaseURL: srv.URL})
	id, err := c.StartJob(context.Background(), providers.StartRequest{
		JobID:      "job-1",
		Model:      "black-forest-labs/flux-schnell",
		Prompt:     "a red fox",
		WebhookURL: "https://hooks.example.com/v1/webhooks/providers/replicate",
	})
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	if id != "pred-1" {
		t.Fatalf("id = %q", id)
	}
	if gotPath != "/models/black-forest-labs/flux-schnell/predictions" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth = %q", gotAuth)
	}
	input := gotBody["input"].(map[string]any)
	if input["prompt"] != "a red fox" {
		t.Fatalf("prompt = %v", input["prompt"])
	}
	if gotBody["webhook"] == nil {
		t.Fatal("webhook missing from payload")
	}
}

func TestStartJobPinnedVersion(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"id":"pred-2","status":"starting"}`))
	}))
	defer srv.Close()

	c := NewClient(Options{APIToken: "tok", BaseURL: srv.URL})
	_, err := c.StartJob(context.Background(), providers.StartRequest{Model: "nightmareai/real-esrgan:abc123", InputRefs: []string{"https://in/1.png"}})
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	if gotPath != "/predictions" || gotBody["version"] != "abc123" {
		t.Fatalf("path = %q version = %v", gotPath, gotBody["version"])
	}
	if gotBody["input"].(map[string]any)["image"] != "https://in/1.png" {
		t.Fatalf("image input missing: %v", gotBody["input"])
	}
}

func TestStartJobSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"title":"Invalid","detail":"prompt is required"}`))
	}))
	defer srv.Close()

	c := NewClient(Options{APIToken: "tok", BaseURL: srv.URL})
	if _, err := c.StartJob(context.Background(), providers.StartRequest{Model: "a/b"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestMissingCredentials(t *testing.T) {
	c := NewClient(Options{})
	if _, err := c.StartJob(context.Background(), providers.StartRequest{Model: "a/b"}); !errors.Is(err, providers.ErrMissingCredentials) {
		t.Fatalf("err = %v", err)
	}
}

func TestGetStatusNormalizesOutputs(t *testing.T) {
	cases := []struct {
		body    string
		status  domain.JobStatus
		outputs int
	}{
		{`{"id":"p","status":"processing"}`, domain.JobStatusProcessing, 0},
		{`{"id":"p","status":"succeeded","output":["https://o/1.png","https://o/2.png"]}`, domain.JobStatusSucceeded, 2},
		{`{"id":"p","status":"succeeded","output":"https://o/1.png"}`, domain.JobStatusSucceeded, 1},
		{`{"id":"p","status":"failed","error":"NSFW"}`, domain.JobStatusFailed, 0},
		{`{"id":"p","status":"canceled"}`, domain.JobStatusCanceled, 0},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/predictions/p" {
				t.Errorf("path = %q", r.URL.Path)
			}
			_, _ = w.Write([]byte(tc.body))
		}))
		c := NewClient(Options{APIToken: "tok", BaseURL: srv.URL})
		update, err := c.GetStatus(context.Background(), providers.JobRef{ProviderJobID: "p"})
		srv.Close()
		if err != nil {
			t.Fatalf("%s: %v", tc.body, err)
		}
		if update.Status != tc.status || len(update.Outputs) != tc.outputs {
			t.Fatalf("%s: got %s with %d outputs", tc.body, update.Status, len(update.Outputs))
		}
		if update.Source != domain.UpdateSourcePoll || update.Provider != Name {
			t.Fatalf("%s: source=%s provider=%s", tc.body, update.Source, update.Provider)
		}
		if tc.status == domain.JobStatusFailed && (update.Error == nil || update.Error.Message != "NSFW") {
			t.Fatalf("error = %+v", update.Error)
		}
	}
}

func TestParseWebhookVerifiesSignature(t *testing.T) {
	key := []byte("super-secret-key")
	secret := "whsec_" + base64.StdEncoding.EncodeToString(key)
	now := time.Unix(1_700_000_000, 0)
	c := NewClient(Options{WebhookSecret: secret, Now: func() time.Time { return now }})

	body := []byte(`{"id":"pred-9","status":"succeeded","output":["https://o/1.png"]}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	header := http.Header{}
	header.Set(headerWebhookID, "msg_1")
	header.Set(headerWebhookTimestamp, ts)
	header.Set(headerWebhookSignature, "v1,bogus v1,"+Sign(key, "msg_1", ts, body))

	update, err := c.ParseWebhook(header, body)
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if update.ProviderJobID != "pred-9" || update.Status != domain.JobStatusSucceeded {
		t.Fatalf("update = %+v", update)
	}
	if update.Fingerprint != "msg_1" || update.Source != domain.UpdateSourceWebhook {
		t.Fatalf("fingerprint = %q source = %s", update.Fingerprint, update.Source)
	}

	tampered := []byte(`{"id":"pred-9","status":"failed"}`)
	if _, err := c.ParseWebhook(header, tampered); !errors.Is(err, providers.ErrInvalidSignature) {
		t.Fatalf("tampered body err = %v", err)
	}

	stale := header.Clone()
	old := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)
	stale.Set(headerWebhookTimestamp, old)
	stale.Set(headerWebhookSignature, "v1,"+Sign(key, "msg_1", old, body))
	if _, err := c.ParseWebhook(stale, body); !errors.Is(err, providers.ErrInvalidSignature) {
		t.Fatalf("stale timestamp err = %v", err)
	}
}

func TestParseWebhookWithoutSecretDerivesFingerprint(t *testing.T) {
	c := NewClient(Options{})
	body := []byte(`{"id":"pred-3","status":"failed","error":{"code":"oom"},"completed_at":"2025-03-14T10:00:00Z"}`)
	a, err := c.ParseWebhook(http.Header{}, body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, _ := c.ParseWebhook(http.Header{}, body)
	if a.Fingerprint == "" || a.Fingerprint != b.Fingerprint {
		t.Fatalf("fingerprints %q %q", a.Fingerprint, b.Fingerprint)
	}
	if a.Error == nil || a.Error.Message != `{"code":"oom"}` {
		t.Fatalf("error = %+v", a.Error)
	}
}
