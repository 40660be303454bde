// Package payments talks to the payment gateway that settles addon purchases. The gateway
// either answers a charge synchronously or accepts it and reports the outcome later through a
// signed callback.
package payments

import (
	"context"
	"errors"
)

// Outcome is the gateway's verdict on a charge.
type Outcome string

const (
	OutcomeAuthorized Outcome = "authorized"
	OutcomeDeclined   Outcome = "declined"
	OutcomePending    Outcome = "pending"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ChargeRequest asks the gateway to collect Amount (minor units) from an owner. Reference is
// the addon purchase id and comes back unchanged on callbacks.
type ChargeRequest struct {
	Reference   string `json:"reference"`
	OwnerID     string `json:"customer_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// ChargeResult is what the gateway returned for a charge.
type ChargeResult struct {
	Outcome     Outcome `json:"status"`
	ChargeID    string  `json:"charge_id"`
	CheckoutURL string  `json:"checkout_url,omitempty"`
}

// Gateway is the payment collaborator.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}
