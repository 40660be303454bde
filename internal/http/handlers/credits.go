package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"genorch/internal/ledger"
	"genorch/internal/middleware"
)

// Credits returns the caller's balance for ?period=, defaulting to the current period.
func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	acct, err := a.Ledger.Balance(r.Context(), userID, r.URL.Query().Get("period"))
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, creditsDTO{
		Period:            acct.Period,
		Plan:              a.Ledger.Plan().Name,
		StandardLimit:     acct.StandardLimit,
		StandardUsed:      acct.StandardUsed,
		StandardRemaining: acct.StandardRemaining(),
		PremiumLimit:      acct.PremiumLimit,
		PremiumUsed:       acct.PremiumUsed,
		PremiumRemaining:  acct.PremiumRemaining(),
	})
}

// AddonCheckout charges a pending addon the caller was offered in a 402 response.
func (a *App) AddonCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	addon, res, err := a.Ledger.Checkout(r.Context(), userID, chi.URLParam(r, "id"), a.PaymentCallbackURL)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, addonDTO{
		ID:          addon.ID,
		Kind:        string(addon.Kind),
		Status:      string(addon.Status),
		Price:       addon.Price,
		Currency:    addon.Currency,
		Display:     ledger.FormatPrice(addon.Price, addon.Currency, middleware.LanguageFromContext(r.Context())),
		LinkedJobID: addon.LinkedJobID,
		CheckoutURL: res.CheckoutURL,
	})
}
