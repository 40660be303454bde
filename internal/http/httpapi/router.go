package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"genorch/internal/http/handlers"
	"genorch/internal/middleware"
	"genorch/internal/obs"
)

type Options struct {
	JWTSecret     string
	Limiter       middleware.Limiter
	CORSOrigins   []string
	DefaultLocale string
	// StaticDir, when set, is served under /static for the filesystem asset store.
	StaticDir string
	Logger    zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		obs.MetricsMiddleware,
		middleware.CORS(opts.CORSOrigins),
		middleware.Locale(opts.DefaultLocale),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/readyz", app.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	if dir := strings.TrimSpace(opts.StaticDir); dir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(dir))))
	}

	// Webhooks authenticate by signature, not bearer token.
	r.Route("/v1/webhooks", func(r chi.Router) {
		r.Post("/providers/{provider}", app.ProviderWebhook)
		r.Post("/payments", app.PaymentWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))

		r.Route("/v1/generations", func(r chi.Router) {
			r.With(rateLimit(opts)).Post("/", app.CreateGeneration)
			r.Get("/{id}", app.GetGeneration)
			r.Get("/{id}/archive", app.ArchiveGeneration)
			r.Post("/{id}/cancel", app.CancelGeneration)
		})
		r.Get("/v1/credits", app.Credits)
		r.Post("/v1/addons/{id}/checkout", app.AddonCheckout)
	})

	return r
}

func rateLimit(opts Options) func(http.Handler) http.Handler {
	if opts.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(opts.Limiter, opts.Logger)
}
