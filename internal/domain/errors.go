package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrPaymentRequired     = errors.New("payment required")
	ErrProviderStartFailed = errors.New("provider start failed")
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrDuplicateEvent      = errors.New("duplicate event")
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrAlreadyExists       = errors.New("already exists")
)

// PaymentRequiredError carries the addon purchase the client has to settle before retrying.
type PaymentRequiredError struct {
	AddonID  string
	Kind     AddonKind
	Price    int64
	Currency string
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment required: addon %s (%s) costs %d %s", e.AddonID, e.Kind, e.Price, e.Currency)
}

func (e *PaymentRequiredError) Unwrap() error { return ErrPaymentRequired }

// InvalidRequestf wraps ErrInvalidRequest with a formatted reason.
func InvalidRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
