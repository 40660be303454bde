package domain

import (
	"context"
	"time"
)

// JobRepository persists generation jobs. Every status change is a conditional update keyed
// on the expected current status; a false result means another writer moved the job first.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetByProviderJobID(ctx context.Context, provider, providerJobID string) (*Job, error)
	MarkProcessing(ctx context.Context, jobID, providerJobID string, at time.Time) (bool, error)
	Finish(ctx context.Context, jobID string, to JobStatus, outputs []string, jobErr *JobError, at time.Time) (*Job, bool, error)
	ListProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]Job, error)
}

// CreditRepository is the transactional store behind the credit ledger.
type CreditRepository interface {
	EnsureAccount(ctx context.Context, ownerID, period string, plan Plan) error
	Debit(ctx context.Context, debit CreditDebit) (bool, error)
	Refund(ctx context.Context, jobID string, pool CreditPool, at time.Time) (bool, error)
	GetAccount(ctx context.Context, ownerID, period string) (*CreditAccount, error)
	SetLimits(ctx context.Context, ownerID, period string, standardLimit, premiumLimit int) error
}

// AddonRepository persists pay-per-use purchases.
type AddonRepository interface {
	Create(ctx context.Context, addon *AddonPurchase) error
	GetByID(ctx context.Context, addonID string) (*AddonPurchase, error)
	FindPending(ctx context.Context, ownerID string, kind AddonKind) (*AddonPurchase, error)
	ClaimPaid(ctx context.Context, ownerID string, kind AddonKind, jobID string) (*AddonPurchase, bool, error)
	Release(ctx context.Context, jobID string) (bool, error)
	AttachCharge(ctx context.Context, addonID, chargeID string) (bool, error)
	Settle(ctx context.Context, addonID, chargeID string, status AddonStatus, at time.Time) (*AddonPurchase, bool, error)
}

// EventLog remembers provider event fingerprints so redelivered webhooks are applied once.
type EventLog interface {
	Record(ctx context.Context, provider, providerJobID, fingerprint string) (bool, error)
	Forget(ctx context.Context, provider, providerJobID, fingerprint string) error
}

// AssetRepository stores materialized output assets.
type AssetRepository interface {
	SaveAll(ctx context.Context, assets []Asset) error
	ListByJobID(ctx context.Context, jobID string) ([]Asset, error)
}
