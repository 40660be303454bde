package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genorch/internal/adapter/memory"
	"genorch/internal/domain"
	"genorch/internal/engine"
	"genorch/internal/http/handlers"
	"genorch/internal/ledger"
	"genorch/internal/middleware"
	"genorch/internal/orchestrator"
	"genorch/internal/payments"
	"genorch/internal/providers"
	"genorch/internal/providers/synthetic"
	"genorch/internal/storage"
)

const (
	testSecret        = "router-test-secret"
	testPaymentSecret = "payment-secret"
)

type testServer struct {
	t       *testing.T
	app     *handlers.App
	handler http.Handler
}

func newTestServer(t *testing.T, plan domain.Plan) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	jobs := memory.NewJobStore()
	assets := memory.NewAssetStore()
	led := ledger.New(memory.NewCreditStore(), memory.NewAddonStore(), plan, ledger.Pricing{
		Currency: "USD",
		Prices: map[domain.AddonKind]int64{
			domain.AddonKindFast:    150,
			domain.AddonKindPremium: 300,
			domain.AddonKindUpscale: 100,
		},
	}, logger, ledger.WithGateway(payments.NewSandbox()))
	registry := providers.NewRegistry(
		synthetic.New(engine.ProviderReplicate, synthetic.Options{CompleteAfter: time.Hour}),
		synthetic.New(engine.ProviderFal, synthetic.Options{CompleteAfter: time.Hour}),
	)
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir, "http://assets.test/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	svc, err := orchestrator.New(orchestrator.Deps{
		Jobs:         jobs,
		Events:       memory.NewEventLog(),
		Assets:       assets,
		Ledger:       led,
		Providers:    registry,
		Materializer: storage.NewMaterializer(store, nil, logger),
		Logger:       logger,
	}, orchestrator.Options{})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	app := &handlers.App{
		Orchestrator:         svc,
		Ledger:               led,
		Providers:            registry,
		Assets:               assets,
		Files:                store,
		Logger:               logger,
		PaymentWebhookSecret: testPaymentSecret,
	}
	return &testServer{
		t:       t,
		app:     app,
		handler: NewRouter(app, Options{
			JWTSecret: testSecret,
			Limiter:   middleware.NewMemoryLimiter(100, time.Minute),
			StaticDir: dir,
			Logger:    logger,
		}),
	}
}

func (s *testServer) do(method, path, user string, body any, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := middleware.IssueToken(testSecret, user, time.Hour)
		if err != nil {
			s.t.Fatalf("IssueToken: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, domain.Plan{StandardLimit: 1})
	rec, body := s.do(http.MethodGet, "/v1/healthz", "", nil, nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", rec.Code, body)
	}
	rec, _ = s.do(http.MethodGet, "/metrics", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	s := newTestServer(t, domain.Plan{StandardLimit: 1})
	rec, body := s.do(http.MethodGet, "/v1/readyz", "", nil, nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("readyz = %d %v", rec.Code, body)
	}

	s.app.Checks = map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}
	rec, body = s.do(http.MethodGet, "/v1/readyz", "", nil, nil)
	deps, _ := body["dependencies"].(map[string]any)
	if rec.Code != http.StatusServiceUnavailable || deps["redis"] != "down" || deps["postgres"] != "ok" {
		t.Fatalf("degraded readyz = %d %v", rec.Code, body)
	}
}

func TestGenerationRequiresAuth(t *testing.T) {
	s := newTestServer(t, domain.Plan{StandardLimit: 1})
	rec, body := s.do(http.MethodPost, "/v1/generations", "", map[string]any{"prompt": "x"}, nil)
	if rec.Code != http.StatusUnauthorized || body["error"] != "unauthorized" {
		t.Fatalf("status = %d body = %v", rec.Code, body)
	}
}

func TestGenerationLifecycleThroughWebhook(t *testing.T) {
	s := newTestServer(t, domain.Plan{StandardLimit: 2})

	rec, job := s.do(http.MethodPost, "/v1/generations", "alice", map[string]any{"prompt": "a red bicycle"}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create = %d %v", rec.Code, job)
	}
	if job["status"] != string(domain.JobStatusProcessing) || job["engine"] != string(domain.EngineStandard) {
		t.Fatalf("unexpected job %v", job)
	}
	id := job["id"].(string)
	providerJobID := job["provider_job_id"].(string)

	rec, _ = s.do(http.MethodGet, "/v1/generations/"+id, "mallory", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign get = %d", rec.Code)
	}

	hook := map[string]any{
		"id":      providerJobID,
		"status":  "succeeded",
		"outputs": []string{"data:image/png;base64,iVBORw0KGgo="},
	}
	rec, body := s.do(http.MethodPost, "/v1/webhooks/providers/replicate", "", hook, nil)
	if rec.Code != http.StatusOK || body["outcome"] != string(orchestrator.OutcomeApplied) {
		t.Fatalf("webhook = %d %v", rec.Code, body)
	}
	rec, body = s.do(http.MethodPost, "/v1/webhooks/providers/replicate", "", hook, nil)
	if rec.Code != http.StatusOK || body["outcome"] != string(orchestrator.OutcomeAlreadyTerminal) {
		t.Fatalf("redelivery = %d %v", rec.Code, body)
	}

	rec, got := s.do(http.MethodGet, "/v1/generations/"+id, "alice", nil, nil)
	if rec.Code != http.StatusOK || got["status"] != string(domain.JobStatusSucceeded) {
		t.Fatalf("get = %d %v", rec.Code, got)
	}
	assets, _ := got["assets"].([]any)
	if len(assets) != 1 {
		t.Fatalf("assets = %v", got["assets"])
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/generations/"+id+"/archive", nil)
	token, _ := middleware.IssueToken(testSecret, "alice", time.Hour)
	req.Header.Set("Authorization", "Bearer "+token)
	arc := httptest.NewRecorder()
	s.handler.ServeHTTP(arc, req)
	if arc.Code != http.StatusOK || arc.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("archive = %d %s", arc.Code, arc.Header().Get("Content-Type"))
	}
	zr, err := zip.NewReader(bytes.NewReader(arc.Body.Bytes()), int64(arc.Body.Len()))
	if err != nil || len(zr.File) != 1 {
		t.Fatalf("archive entries: %v", err)
	}

	rec, credits := s.do(http.MethodGet, "/v1/credits", "alice", nil, nil)
	if rec.Code != http.StatusOK || credits["standard_used"] != float64(1) || credits["standard_remaining"] != float64(1) {
		t.Fatalf("credits = %d %v", rec.Code, credits)
	}
}

func TestWebhookErrors(t *testing.T) {
	s := newTestServer(t, domain.Plan{StandardLimit: 1})
	rec, _ := s.do(http.MethodPost, "/v1/webhooks/providers/nope", "", map[string]any{}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown provider = %d", rec.Code)
	}
	rec, _ = s.do(http.MethodPost, "/v1/webhooks/providers/fal", "", []byte("{not json"), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed = %d", rec.Code)
	}
	rec, body := s.do(http.MethodPost, "/v1/webhooks/providers/fal", "", map[string]any{"id": "missing", "status": "succeeded", "outputs": []string{"x"}}, nil)
	if rec.Code != http.StatusNotFound || body["error"] != "unknown_job" {
		t.Fatalf("unknown job = %d %v", rec.Code, body)
	}
}

func TestCancelRefunds(t *testing.T) {
	s := newTestServer(t, domain.Plan{StandardLimit: 1})
	_, job := s.do(http.MethodPost, "/v1/generations", "alice", map[string]any{"prompt": "x"}, nil)
	id := job["id"].(string)

	rec, body := s.do(http.MethodPost, "/v1/generations/"+id+"/cancel", "alice", nil, nil)
	if rec.Code != http.StatusOK || body["status"] != string(domain.JobStatusCanceled) {
		t.Fatalf("cancel = %d %v", rec.Code, body)
	}
	rec, _ = s.do(http.MethodPost, "/v1/generations", "alice", map[string]any{"prompt": "again"}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("credit not returned after cancel: %d", rec.Code)
	}
	rec, body = s.do(http.MethodPost, "/v1/generations", "alice", map[string]any{"prompt": "third"}, nil)
	if rec.Code != http.StatusForbidden || body["error"] != "quota_exceeded" {
		t.Fatalf("over quota = %d %v", rec.Code, body)
	}
}

func TestInvalidGenerationRequest(t *testing.T) {
	s := newTestServer(t, domain.Plan{StandardLimit: 1})
	rec, body := s.do(http.MethodPost, "/v1/generations", "alice", map[string]any{"mode": "edit", "prompt": "x"}, nil)
	if rec.Code != http.StatusBadRequest || body["error"] != "invalid_request" {
		t.Fatalf("status = %d body = %v", rec.Code, body)
	}
	rec, _ = s.do(http.MethodPost, "/v1/generations", "alice", map[string]any{"prompt": "x", "colour": "red"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d", rec.Code)
	}
}

func TestPremiumNeedsAddonCheckout(t *testing.T) {
	s := newTestServer(t, domain.Plan{StandardLimit: 5})
	premium := map[string]any{"quality": "premium", "prompt": "studio portrait"}

	rec, body := s.do(http.MethodPost, "/v1/generations", "alice", premium, nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("premium = %d %v", rec.Code, body)
	}
	addon := body["addon"].(map[string]any)
	if display, _ := addon["display"].(string); addon["price"] != float64(300) || !strings.Contains(display, "3.00") {
		t.Fatalf("addon = %v", addon)
	}
	addonID := addon["id"].(string)

	rec, _ = s.do(http.MethodPost, "/v1/addons/"+addonID+"/checkout", "mallory", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign checkout = %d", rec.Code)
	}
	rec, paid := s.do(http.MethodPost, "/v1/addons/"+addonID+"/checkout", "alice", nil, nil)
	if rec.Code != http.StatusOK || paid["status"] != string(domain.AddonStatusPaid) {
		t.Fatalf("checkout = %d %v", rec.Code, paid)
	}

	rec, job := s.do(http.MethodPost, "/v1/generations", "alice", premium, nil)
	if rec.Code != http.StatusAccepted || job["credit_pool"] != string(domain.CreditPoolAddon) || job["addon_id"] != addonID {
		t.Fatalf("paid premium = %d %v", rec.Code, job)
	}
}

func TestPaymentWebhook(t *testing.T) {
	s := newTestServer(t, domain.Plan{})
	rec, body := s.do(http.MethodPost, "/v1/generations", "alice", map[string]any{"quality": "fast", "prompt": "x"}, nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("fast = %d %v", rec.Code, body)
	}
	addonID := body["addon"].(map[string]any)["id"].(string)

	short, _ := json.Marshal(payments.Callback{Reference: addonID, ChargeID: "ch_41", Status: payments.OutcomeAuthorized, Amount: 1})
	rec, _ = s.do(http.MethodPost, "/v1/webhooks/payments", "", short, map[string]string{payments.SignatureHeader: payments.Sign(testPaymentSecret, short)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("underpaid callback = %d", rec.Code)
	}
	if addon, _ := s.app.Ledger.Addon(context.Background(), "alice", addonID); addon.Status != domain.AddonStatusPending {
		t.Fatalf("underpaid callback settled the addon: %s", addon.Status)
	}

	cb, _ := json.Marshal(payments.Callback{Reference: addonID, ChargeID: "ch_42", Status: payments.OutcomeAuthorized, Amount: 150})
	rec, _ = s.do(http.MethodPost, "/v1/webhooks/payments", "", cb, map[string]string{payments.SignatureHeader: "deadbeef"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature = %d", rec.Code)
	}
	sig := map[string]string{payments.SignatureHeader: payments.Sign(testPaymentSecret, cb)}
	rec, body = s.do(http.MethodPost, "/v1/webhooks/payments", "", cb, sig)
	if rec.Code != http.StatusOK || body["status"] != string(domain.AddonStatusPaid) {
		t.Fatalf("callback = %d %v", rec.Code, body)
	}
	rec, _ = s.do(http.MethodPost, "/v1/webhooks/payments", "", cb, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("replayed callback = %d", rec.Code)
	}

	rec, job := s.do(http.MethodPost, "/v1/generations", "alice", map[string]any{"quality": "fast", "prompt": "x"}, nil)
	if rec.Code != http.StatusAccepted || job["addon_id"] != addonID {
		t.Fatalf("after payment = %d %v", rec.Code, job)
	}
}
