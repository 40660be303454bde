// Package obs holds the service's Prometheus collectors. Collectors are registered on the
// default registry at init and exposed by the API's /metrics route.
package obs

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "genorch"

var (
	appInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "info",
			Help:      "Static app info for deployment verification.",
		},
		[]string{"service", "version"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "submissions_total",
			Help:      "Generation submissions by engine and outcome.",
		},
		[]string{"engine", "result"},
	)
	finalizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finalizations_total",
			Help:      "Terminal transitions won, by engine, status and ingress source.",
		},
		[]string{"engine", "status", "source"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Time from job creation to its terminal transition.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60, 120, 300, 600},
		},
		[]string{"engine", "status"},
	)

	ledgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger debit and refund attempts by pool and result.",
		},
		[]string{"op", "pool", "result"},
	)

	providerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "events_total",
			Help:      "Provider status updates by provider and handling result.",
		},
		[]string{"provider", "result"},
	)

	workerJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total worker jobs processed.",
		},
		[]string{"worker", "result"},
	)
	workerJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Worker job duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"worker"},
	)

	// marker is the --sql uuid of an inline statement, a small fixed set.
	sqlQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sql",
			Name:      "query_duration_seconds",
			Help:      "Inline SQL statement latency by marker.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"marker", "op", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		appInfo,
		httpRequestsTotal,
		httpRequestDuration,
		submissionsTotal,
		finalizationsTotal,
		jobDuration,
		ledgerOpsTotal,
		providerEventsTotal,
		workerJobsTotal,
		workerJobDuration,
		sqlQueryDuration,
	)
}

// SetAppInfo publishes the running service name and APP_VERSION.
func SetAppInfo(service string) {
	svc := strings.TrimSpace(service)
	if svc == "" {
		svc = "genorch"
	}
	ver := strings.TrimSpace(os.Getenv("APP_VERSION"))
	if ver == "" {
		ver = "dev"
	}
	appInfo.WithLabelValues(svc, ver).Set(1)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware records request count and latency. The route label is chi's matched
// pattern so job ids never become label values.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := routeLabel(r)
		code := strconv.Itoa(rec.code)
		httpRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.code = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func RecordSubmission(engine, result string) {
	submissionsTotal.WithLabelValues(engine, result).Inc()
}

func RecordFinalization(engine, status, source string, createdAt time.Time) {
	finalizationsTotal.WithLabelValues(engine, status, source).Inc()
	if !createdAt.IsZero() {
		jobDuration.WithLabelValues(engine, status).Observe(time.Since(createdAt).Seconds())
	}
}

func RecordLedger(op, pool, result string) {
	ledgerOpsTotal.WithLabelValues(op, pool, result).Inc()
}

func RecordProviderEvent(provider, result string) {
	providerEventsTotal.WithLabelValues(provider, result).Inc()
}

func RecordWorkerJob(worker string, start time.Time, err error) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	workerJobsTotal.WithLabelValues(worker, res).Inc()
	workerJobDuration.WithLabelValues(worker).Observe(time.Since(start).Seconds())
}

func ObserveQuery(marker, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	sqlQueryDuration.WithLabelValues(marker, op, result).Observe(time.Since(start).Seconds())
}
