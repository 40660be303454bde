package obs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracingWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "api", "")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSpansRecordErrors(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "work", attribute.String("job_id", "j1"))
	EndSpan(span, errors.New("boom"))
	_, ok := StartSpan(context.Background(), "fine")
	EndSpan(ok, nil)

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d", len(ended))
	}
	if ended[0].Name() != "work" || ended[0].Status().Code != codes.Error {
		t.Fatalf("first span = %s %v", ended[0].Name(), ended[0].Status())
	}
	if ended[1].Status().Code == codes.Error {
		t.Fatal("second span should not be marked as error")
	}

	h := WrapHTTP("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(rec.Ended()) != 3 {
		t.Fatalf("server span missing: %d", len(rec.Ended()))
	}
}
