package domain

import "time"

// CreditPool identifies which source paid for a job.
type CreditPool string

const (
	CreditPoolStandard CreditPool = "standard"
	CreditPoolPremium  CreditPool = "premium"
	CreditPoolAddon    CreditPool = "addon"
)

// CreditAccount is a per-owner, per-period quota bucket pair.
type CreditAccount struct {
	OwnerID       string
	Period        string
	StandardLimit int
	StandardUsed  int
	PremiumLimit  int
	PremiumUsed   int
	UpdatedAt     time.Time
}

// StandardRemaining returns the unused standard allotment.
func (a CreditAccount) StandardRemaining() int {
	if r := a.StandardLimit - a.StandardUsed; r > 0 {
		return r
	}
	return 0
}

// PremiumRemaining returns the unused premium allotment.
func (a CreditAccount) PremiumRemaining() int {
	if r := a.PremiumLimit - a.PremiumUsed; r > 0 {
		return r
	}
	return 0
}

// CreditDebit records a single successful debit made on behalf of a job. RefundedAt is the
// job-scoped refund flag.
type CreditDebit struct {
	JobID      string
	OwnerID    string
	Period     string
	Pool       CreditPool
	Amount     int
	CreatedAt  time.Time
	RefundedAt *time.Time
}

// AddonKind enumerates pay-per-use purchase kinds.
type AddonKind string

const (
	AddonKindFast    AddonKind = "fast"
	AddonKindPremium AddonKind = "premium"
	AddonKindUpscale AddonKind = "upscale"
)

// AddonStatus enumerates addon purchase states.
type AddonStatus string

const (
	AddonStatusPending AddonStatus = "pending"
	AddonStatusPaid    AddonStatus = "paid"
	AddonStatusFailed  AddonStatus = "failed"
)

// AddonPurchase is a pay-per-use charge that unlocks one job once paid.
type AddonPurchase struct {
	ID          string
	OwnerID     string
	Kind        AddonKind
	Price       int64
	Currency    string
	Status      AddonStatus
	ChargeID    string
	LinkedJobID string
	CreatedAt   time.Time
	PaidAt      *time.Time
}

// Plan describes the quota an owner receives each period.
type Plan struct {
	Name          string
	Period        PeriodKind
	StandardLimit int
	PremiumLimit  int
}

// PeriodKind selects how ledger periods are keyed.
type PeriodKind string

const (
	PeriodMonthly PeriodKind = "monthly"
	PeriodWeekly  PeriodKind = "weekly"
)
