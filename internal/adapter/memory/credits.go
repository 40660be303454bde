package memory

import (
	"context"
	"sync"
	"time"

	"genorch/internal/domain"
)

type accountKey struct {
	owner  string
	period string
}

// CreditStore keeps accounts and debit rows behind one mutex, so a debit's limit check, usage
// increment and debit row insert happen as one step like the Postgres statement.
type CreditStore struct {
	mu       sync.Mutex
	accounts map[accountKey]*domain.CreditAccount
	debits   map[string]*domain.CreditDebit
}

func NewCreditStore() *CreditStore {
	return &CreditStore{
		accounts: make(map[accountKey]*domain.CreditAccount),
		debits:   make(map[string]*domain.CreditDebit),
	}
}

func (s *CreditStore) EnsureAccount(_ context.Context, ownerID, period string, plan domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := accountKey{ownerID, period}
	if _, ok := s.accounts[k]; ok {
		return nil
	}
	s.accounts[k] = &domain.CreditAccount{
		OwnerID:       ownerID,
		Period:        period,
		StandardLimit: plan.StandardLimit,
		PremiumLimit:  plan.PremiumLimit,
		UpdatedAt:     time.Now(),
	}
	return nil
}

func (s *CreditStore) Debit(_ context.Context, debit domain.CreditDebit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.debits[debit.JobID]; ok {
		return false, domain.ErrAlreadyExists
	}
	acct, ok := s.accounts[accountKey{debit.OwnerID, debit.Period}]
	if !ok {
		return false, nil
	}
	switch debit.Pool {
	case domain.CreditPoolStandard:
		if acct.StandardUsed+debit.Amount > acct.StandardLimit {
			return false, nil
		}
		acct.StandardUsed += debit.Amount
	case domain.CreditPoolPremium:
		if acct.PremiumUsed+debit.Amount > acct.PremiumLimit {
			return false, nil
		}
		acct.PremiumUsed += debit.Amount
	default:
		return false, domain.InvalidRequestf("pool %q is not debitable", debit.Pool)
	}
	acct.UpdatedAt = debit.CreatedAt
	row := debit
	row.RefundedAt = nil
	s.debits[debit.JobID] = &row
	return true, nil
}

func (s *CreditStore) Refund(_ context.Context, jobID string, pool domain.CreditPool, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debits[jobID]
	if !ok || d.Pool != pool || d.RefundedAt != nil {
		return false, nil
	}
	refunded := at
	d.RefundedAt = &refunded
	acct, ok := s.accounts[accountKey{d.OwnerID, d.Period}]
	if !ok {
		return true, nil
	}
	switch pool {
	case domain.CreditPoolStandard:
		acct.StandardUsed = max(acct.StandardUsed-d.Amount, 0)
	case domain.CreditPoolPremium:
		acct.PremiumUsed = max(acct.PremiumUsed-d.Amount, 0)
	}
	acct.UpdatedAt = at
	return true, nil
}

func (s *CreditStore) GetAccount(_ context.Context, ownerID, period string) (*domain.CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountKey{ownerID, period}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

func (s *CreditStore) SetLimits(_ context.Context, ownerID, period string, standardLimit, premiumLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountKey{ownerID, period}]
	if !ok {
		return domain.ErrNotFound
	}
	acct.StandardLimit = standardLimit
	acct.PremiumLimit = premiumLimit
	acct.UpdatedAt = time.Now()
	return nil
}

// DebitFor returns a snapshot of the debit row for jobID.
func (s *CreditStore) DebitFor(jobID string) (domain.CreditDebit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debits[jobID]
	if !ok {
		return domain.CreditDebit{}, false
	}
	return *d, true
}

var _ domain.CreditRepository = (*CreditStore)(nil)
