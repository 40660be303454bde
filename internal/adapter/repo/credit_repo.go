package repo

import (
	"context"
	"fmt"
	"time"

	"genorch/internal/domain"
	"genorch/internal/infra"
	"genorch/internal/sqlinline"
)

// CreditRepositoryPG implements domain.CreditRepository. Debits and refunds are single
// statements so concurrent API and worker processes stay linearizable on the account row.
type CreditRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewCreditRepository(sql infra.SQLExecutor) *CreditRepositoryPG {
	return &CreditRepositoryPG{sql: sql}
}

func (r *CreditRepositoryPG) EnsureAccount(ctx context.Context, ownerID, period string, plan domain.Plan) error {
	_, err := r.sql.Exec(ctx, sqlinline.QEnsureCreditAccount, ownerID, period, plan.StandardLimit, plan.PremiumLimit)
	return err
}

func (r *CreditRepositoryPG) Debit(ctx context.Context, debit domain.CreditDebit) (bool, error) {
	var query string
	switch debit.Pool {
	case domain.CreditPoolStandard:
		query = sqlinline.QDebitStandard
	case domain.CreditPoolPremium:
		query = sqlinline.QDebitPremium
	default:
		return false, domain.InvalidRequestf("pool %q is not debitable", debit.Pool)
	}
	var jobID string
	err := r.sql.QueryRow(ctx, query, debit.OwnerID, debit.Period, debit.JobID, debit.Amount, debit.CreatedAt).Scan(&jobID)
	switch {
	case err == nil:
		return true, nil
	case infra.IsNoRows(err):
		return false, nil
	case infra.IsUniqueViolation(err):
		return false, fmt.Errorf("job %s: %w", debit.JobID, domain.ErrAlreadyExists)
	default:
		return false, err
	}
}

func (r *CreditRepositoryPG) Refund(ctx context.Context, jobID string, pool domain.CreditPool, at time.Time) (bool, error) {
	var ownerID string
	err := r.sql.QueryRow(ctx, sqlinline.QRefundDebit, jobID, string(pool), at).Scan(&ownerID)
	if infra.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *CreditRepositoryPG) GetAccount(ctx context.Context, ownerID, period string) (*domain.CreditAccount, error) {
	var acct domain.CreditAccount
	err := r.sql.QueryRow(ctx, sqlinline.QSelectCreditAccount, ownerID, period).Scan(
		&acct.OwnerID,
		&acct.Period,
		&acct.StandardLimit,
		&acct.StandardUsed,
		&acct.PremiumLimit,
		&acct.PremiumUsed,
		&acct.UpdatedAt,
	)
	if infra.IsNoRows(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (r *CreditRepositoryPG) SetLimits(ctx context.Context, ownerID, period string, standardLimit, premiumLimit int) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateCreditLimits, ownerID, period, standardLimit, premiumLimit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.CreditRepository = (*CreditRepositoryPG)(nil)
