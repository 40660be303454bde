package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"genorch/internal/domain"
	"genorch/internal/infra"
	"genorch/internal/sqlinline"
)

// AddonRepositoryPG implements domain.AddonRepository.
type AddonRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewAddonRepository(sql infra.SQLExecutor) *AddonRepositoryPG {
	return &AddonRepositoryPG{sql: sql}
}

func (r *AddonRepositoryPG) Create(ctx context.Context, addon *domain.AddonPurchase) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertAddon,
		addon.ID,
		addon.OwnerID,
		string(addon.Kind),
		addon.Price,
		addon.Currency,
		string(addon.Status),
		addon.ChargeID,
		addon.CreatedAt,
	)
	if infra.IsUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *AddonRepositoryPG) GetByID(ctx context.Context, addonID string) (*domain.AddonPurchase, error) {
	if _, err := uuid.Parse(addonID); err != nil {
		return nil, domain.ErrNotFound
	}
	return scanAddon(r.sql.QueryRow(ctx, sqlinline.QSelectAddonByID, addonID))
}

func (r *AddonRepositoryPG) FindPending(ctx context.Context, ownerID string, kind domain.AddonKind) (*domain.AddonPurchase, error) {
	return scanAddon(r.sql.QueryRow(ctx, sqlinline.QSelectPendingAddon, ownerID, string(kind)))
}

// ClaimPaid links the oldest paid, unlinked addon of kind to jobID. Concurrent claimers skip
// rows locked by each other, so one addon is never handed to two jobs.
func (r *AddonRepositoryPG) ClaimPaid(ctx context.Context, ownerID string, kind domain.AddonKind, jobID string) (*domain.AddonPurchase, bool, error) {
	addon, err := scanAddon(r.sql.QueryRow(ctx, sqlinline.QClaimPaidAddon, ownerID, string(kind), jobID))
	if err == domain.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return addon, true, nil
}

func (r *AddonRepositoryPG) Release(ctx context.Context, jobID string) (bool, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return false, nil
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QReleaseAddon, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *AddonRepositoryPG) AttachCharge(ctx context.Context, addonID, chargeID string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QAttachAddonCharge, addonID, chargeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Settle moves a pending addon to paid or failed. A settled addon is returned unchanged with
// false; an unknown id is ErrNotFound.
func (r *AddonRepositoryPG) Settle(ctx context.Context, addonID, chargeID string, status domain.AddonStatus, at time.Time) (*domain.AddonPurchase, bool, error) {
	if _, err := uuid.Parse(addonID); err != nil {
		return nil, false, domain.ErrNotFound
	}
	addon, err := scanAddon(r.sql.QueryRow(ctx, sqlinline.QSettleAddon, addonID, chargeID, string(status), at))
	if err == nil {
		return addon, true, nil
	}
	if err != domain.ErrNotFound {
		return nil, false, err
	}
	current, err := r.GetByID(ctx, addonID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func scanAddon(row pgx.Row) (*domain.AddonPurchase, error) {
	var (
		a            domain.AddonPurchase
		kind, status string
	)
	if err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&kind,
		&a.Price,
		&a.Currency,
		&status,
		&a.ChargeID,
		&a.LinkedJobID,
		&a.CreatedAt,
		&a.PaidAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	a.Kind = domain.AddonKind(kind)
	a.Status = domain.AddonStatus(status)
	return &a, nil
}

var _ domain.AddonRepository = (*AddonRepositoryPG)(nil)
