// Package handlers holds the HTTP handlers of the public API. Handlers translate requests
// into orchestrator and ledger calls and map the domain error taxonomy onto status codes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"genorch/internal/domain"
	"genorch/internal/ledger"
	"genorch/internal/middleware"
	"genorch/internal/orchestrator"
	"genorch/internal/payments"
	"genorch/internal/providers"
	"genorch/internal/storage"
)

const maxBodyBytes = 1 << 20

type App struct {
	Orchestrator *orchestrator.Service
	Ledger       *ledger.Service
	Providers    *providers.Registry
	Assets       domain.AssetRepository
	Files        storage.Store
	// Checks are pinged by the readiness check, keyed by dependency name.
	Checks       map[string]func(context.Context) error
	Logger       zerolog.Logger

	PaymentWebhookSecret string
	PaymentCallbackURL   string
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// domainError writes the response for an error returned by the orchestrator or ledger.
func (a *App) domainError(w http.ResponseWriter, r *http.Request, err error) {
	var pr *domain.PaymentRequiredError
	switch {
	case errors.As(err, &pr):
		a.json(w, http.StatusPaymentRequired, paymentRequiredResponse{
			Error:   "payment_required",
			Message: "this request needs a paid addon",
			Addon: addonDTO{
				ID:       pr.AddonID,
				Kind:     string(pr.Kind),
				Status:   string(domain.AddonStatusPending),
				Price:    pr.Price,
				Currency: pr.Currency,
				Display:  ledger.FormatPrice(pr.Price, pr.Currency, middleware.LanguageFromContext(r.Context())),
			},
		})
	case errors.Is(err, domain.ErrInvalidRequest):
		a.error(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrQuotaExceeded):
		a.error(w, http.StatusForbidden, "quota_exceeded", "credit quota exceeded for this period")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "resource belongs to another owner")
	case errors.Is(err, domain.ErrIllegalTransition):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrProviderStartFailed):
		a.error(w, http.StatusBadGateway, "provider_start_failed", "provider did not accept the job; credits were returned")
	case errors.Is(err, payments.ErrGatewayUnavailable):
		a.error(w, http.StatusServiceUnavailable, "payment_unavailable", "payment gateway is not configured")
	default:
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return "", false
	}
	return userID, true
}
