package obs

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/v1/generations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/generations/{id}", "418"))
	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/generations/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/generations/{id}", "418"))
	if after-before != 3 {
		t.Fatalf("counter delta = %v, want 3", after-before)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordSubmission("standard", "accepted")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "genorch_jobs_submissions_total") {
		t.Fatal("submissions counter missing from exposition")
	}
}

func TestObserveQueryLabelsResult(t *testing.T) {
	marker := "00000000-0000-0000-0000-000000000001"
	ObserveQuery(marker, "exec", time.Now(), nil)
	ObserveQuery(marker, "exec", time.Now(), errors.New("boom"))
	if n := testutil.CollectAndCount(sqlQueryDuration, "genorch_sql_query_duration_seconds"); n < 2 {
		t.Fatalf("series = %d, want at least 2", n)
	}
}
