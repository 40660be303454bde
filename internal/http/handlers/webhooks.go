package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"genorch/internal/domain"
	"genorch/internal/payments"
	"genorch/internal/providers"
)

// ProviderWebhook ingests a provider's status callback. Anything but a 2xx asks the provider
// to redeliver, so only verified, fully applied or safely ignored updates are acknowledged.
func (a *App) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	adapter, err := a.Providers.Get(name)
	if err != nil {
		a.error(w, http.StatusNotFound, "unknown_provider", "unknown provider")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	update, err := adapter.ParseWebhook(r.Header, body)
	switch {
	case errors.Is(err, providers.ErrInvalidSignature):
		a.Logger.Warn().Str("provider", name).Msg("webhook signature rejected")
		a.error(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
		return
	case errors.Is(err, providers.ErrMalformedPayload):
		a.error(w, http.StatusBadRequest, "bad_request", "malformed payload")
		return
	case err != nil:
		a.Logger.Error().Err(err).Str("provider", name).Msg("webhook parse failed")
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported payload")
		return
	}
	update.Provider = adapter.Name()
	update.Source = domain.UpdateSourceWebhook

	outcome, err := a.Orchestrator.ApplyProviderUpdate(r.Context(), update)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The job may not have its provider id recorded yet; the provider will retry.
			a.error(w, http.StatusNotFound, "unknown_job", "no job for this provider job id")
			return
		}
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// PaymentWebhook applies the gateway's signed verdict on an addon charge.
func (a *App) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if err := payments.VerifySignature(a.PaymentWebhookSecret, body, r.Header.Get(payments.SignatureHeader)); err != nil {
		a.Logger.Warn().Err(err).Msg("payment callback signature rejected")
		a.error(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
		return
	}
	cb, err := payments.ParseCallback(body)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "malformed callback")
		return
	}
	if !cb.Final() {
		a.json(w, http.StatusOK, map[string]string{"status": string(cb.Status)})
		return
	}
	if cb.Paid() {
		if err := a.Ledger.CheckAddonAmount(r.Context(), cb.Reference, cb.Amount); err != nil {
			a.Logger.Warn().Err(err).Str("addon_id", cb.Reference).Str("charge_id", cb.ChargeID).Msg("payment callback rejected")
			a.domainError(w, r, err)
			return
		}
	}
	addon, err := a.Ledger.ConfirmAddonPayment(r.Context(), cb.Reference, cb.ChargeID, cb.Paid())
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"addon_id": addon.ID, "status": string(addon.Status)})
}
