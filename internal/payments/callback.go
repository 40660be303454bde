package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw callback body.
const SignatureHeader = "X-Payment-Signature"

var (
	ErrInvalidSignature = errors.New("invalid payment signature")
	ErrInvalidCallback  = errors.New("invalid payment callback")
)

// Callback is the gateway's asynchronous charge notification.
type Callback struct {
	Reference string  `json:"reference"`
	ChargeID  string  `json:"charge_id"`
	Status    Outcome `json:"status"`
	Amount    int64   `json:"amount"`
}

// Paid reports whether the callback settles the charge successfully.
func (c Callback) Paid() bool {
	return c.Status == OutcomeAuthorized
}

// Final reports whether the callback carries a settled outcome.
func (c Callback) Final() bool {
	return c.Status == OutcomeAuthorized || c.Status == OutcomeDeclined
}

// Sign computes the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body using a constant-time compare.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return errors.New("payment webhook secret not configured")
	}
	signature = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseCallback decodes and validates a callback body.
func ParseCallback(body []byte) (Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return Callback{}, ErrInvalidCallback
	}
	cb.Reference = strings.TrimSpace(cb.Reference)
	cb.ChargeID = strings.TrimSpace(cb.ChargeID)
	if cb.Reference == "" {
		return Callback{}, ErrInvalidCallback
	}
	switch cb.Status {
	case OutcomeAuthorized, OutcomeDeclined, OutcomePending:
	default:
		return Callback{}, ErrInvalidCallback
	}
	return cb, nil
}
