// Package ledger gates generation requests against per-owner credit pools and pay-per-use
// addon purchases. Balances live only in the backing CreditRepository; the service never
// caches them, so every debit is decided by the store's single conditional update.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genorch/internal/domain"
	"genorch/internal/obs"
	"genorch/internal/payments"
)

// Service is the credit ledger.
type Service struct {
	credits domain.CreditRepository
	addons  domain.AddonRepository
	plan    domain.Plan
	pricing Pricing
	gateway payments.Gateway
	logger  zerolog.Logger

	now   func() time.Time
	newID func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides addon id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithGateway sets the payment gateway used by Checkout.
func WithGateway(gw payments.Gateway) Option {
	return func(s *Service) { s.gateway = gw }
}

func New(credits domain.CreditRepository, addons domain.AddonRepository, plan domain.Plan, pricing Pricing, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		credits: credits,
		addons:  addons,
		plan:    plan,
		pricing: pricing,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Plan returns the plan new accounts are opened with.
func (s *Service) Plan() domain.Plan { return s.plan }

// CurrentPeriod returns the period key for now under the configured plan.
func (s *Service) CurrentPeriod() string {
	return PeriodKey(s.plan.Period, s.now())
}

// DebitStandard consumes amount credits from the owner's standard pool on behalf of jobID.
// It returns false when the pool cannot cover the amount.
func (s *Service) DebitStandard(ctx context.Context, jobID, ownerID, period string, amount int) (bool, error) {
	return s.debit(ctx, domain.CreditPoolStandard, jobID, ownerID, period, amount)
}

// DebitPremiumIncluded consumes amount credits from the owner's included premium pool.
func (s *Service) DebitPremiumIncluded(ctx context.Context, jobID, ownerID, period string, amount int) (bool, error) {
	return s.debit(ctx, domain.CreditPoolPremium, jobID, ownerID, period, amount)
}

func (s *Service) debit(ctx context.Context, pool domain.CreditPool, jobID, ownerID, period string, amount int) (bool, error) {
	if amount <= 0 {
		return false, domain.InvalidRequestf("debit amount must be positive")
	}
	if jobID == "" || ownerID == "" {
		return false, domain.InvalidRequestf("debit requires job and owner")
	}
	if period == "" {
		period = s.CurrentPeriod()
	}
	if err := s.credits.EnsureAccount(ctx, ownerID, period, s.plan); err != nil {
		return false, fmt.Errorf("ensure account: %w", err)
	}
	ok, err := s.credits.Debit(ctx, domain.CreditDebit{
		JobID:     jobID,
		OwnerID:   ownerID,
		Period:    period,
		Pool:      pool,
		Amount:    amount,
		CreatedAt: s.now(),
	})
	if err != nil {
		obs.RecordLedger("debit", string(pool), "error")
		return false, fmt.Errorf("debit %s: %w", pool, err)
	}
	if !ok {
		obs.RecordLedger("debit", string(pool), "insufficient")
		return false, nil
	}
	obs.RecordLedger("debit", string(pool), "ok")
	s.logger.Debug().Str("job_id", jobID).Str("owner_id", ownerID).Str("period", period).Str("pool", string(pool)).Int("amount", amount).Msg("credits debited")
	return true, nil
}

// RefundStandard reverses the standard-pool debit made for jobID. Refunding twice, or
// refunding a job that was never debited from this pool, returns false.
func (s *Service) RefundStandard(ctx context.Context, jobID string) (bool, error) {
	return s.refund(ctx, domain.CreditPoolStandard, jobID)
}

// RefundPremiumIncluded reverses the premium-pool debit made for jobID.
func (s *Service) RefundPremiumIncluded(ctx context.Context, jobID string) (bool, error) {
	return s.refund(ctx, domain.CreditPoolPremium, jobID)
}

func (s *Service) refund(ctx context.Context, pool domain.CreditPool, jobID string) (bool, error) {
	ok, err := s.credits.Refund(ctx, jobID, pool, s.now())
	if err != nil {
		obs.RecordLedger("refund", string(pool), "error")
		return false, fmt.Errorf("refund %s: %w", pool, err)
	}
	if !ok {
		obs.RecordLedger("refund", string(pool), "noop")
		return false, nil
	}
	obs.RecordLedger("refund", string(pool), "ok")
	s.logger.Info().Str("job_id", jobID).Str("pool", string(pool)).Msg("credits refunded")
	return true, nil
}

// RequireAddonPayment authorizes a job through a paid, unused addon of kind, linking it to
// jobID. When none exists it returns a *domain.PaymentRequiredError naming a pending purchase
// the owner can settle; it never succeeds without a paid addon.
func (s *Service) RequireAddonPayment(ctx context.Context, ownerID string, kind domain.AddonKind, jobID string) (*domain.AddonPurchase, error) {
	addon, claimed, err := s.addons.ClaimPaid(ctx, ownerID, kind, jobID)
	if err != nil {
		return nil, fmt.Errorf("claim addon: %w", err)
	}
	if claimed {
		obs.RecordLedger("addon_claim", string(kind), "ok")
		s.logger.Info().Str("job_id", jobID).Str("addon_id", addon.ID).Msg("addon linked to job")
		return addon, nil
	}

	pending, err := s.pendingAddon(ctx, ownerID, kind)
	if err != nil {
		return nil, err
	}
	obs.RecordLedger("addon_claim", string(kind), "payment_required")
	return nil, &domain.PaymentRequiredError{
		AddonID:  pending.ID,
		Kind:     pending.Kind,
		Price:    pending.Price,
		Currency: pending.Currency,
	}
}

func (s *Service) pendingAddon(ctx context.Context, ownerID string, kind domain.AddonKind) (*domain.AddonPurchase, error) {
	existing, err := s.addons.FindPending(ctx, ownerID, kind)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find pending addon: %w", err)
	}

	price, ok := s.pricing.Price(kind)
	if !ok {
		return nil, fmt.Errorf("no price configured for addon %q", kind)
	}
	addon := &domain.AddonPurchase{
		ID:        s.newID(),
		OwnerID:   ownerID,
		Kind:      kind,
		Price:     price,
		Currency:  s.pricing.Currency,
		Status:    domain.AddonStatusPending,
		CreatedAt: s.now(),
	}
	if err := s.addons.Create(ctx, addon); err != nil {
		// a concurrent request opened the pending purchase first
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.addons.FindPending(ctx, ownerID, kind)
		}
		return nil, fmt.Errorf("create addon: %w", err)
	}
	return addon, nil
}

// ConfirmAddonPayment applies the gateway's verdict to a pending addon. Repeating the same
// verdict is a no-op that returns the stored purchase; contradicting a settled purchase is an
// illegal transition.
func (s *Service) ConfirmAddonPayment(ctx context.Context, addonID, chargeID string, paid bool) (*domain.AddonPurchase, error) {
	status := domain.AddonStatusFailed
	if paid {
		status = domain.AddonStatusPaid
	}
	addon, changed, err := s.addons.Settle(ctx, addonID, strings.TrimSpace(chargeID), status, s.now())
	if err != nil {
		return nil, fmt.Errorf("settle addon: %w", err)
	}
	if changed {
		obs.RecordLedger("addon_settle", string(addon.Kind), string(status))
		s.logger.Info().Str("addon_id", addonID).Str("charge_id", chargeID).Str("status", string(status)).Msg("addon settled")
		return addon, nil
	}

	current, err := s.addons.GetByID(ctx, addonID)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	return nil, fmt.Errorf("%w: addon %s is %s", domain.ErrIllegalTransition, addonID, current.Status)
}

// CheckAddonAmount reports whether a gateway charge of amount settles addonID in full.
func (s *Service) CheckAddonAmount(ctx context.Context, addonID string, amount int64) error {
	addon, err := s.addons.GetByID(ctx, addonID)
	if err != nil {
		return err
	}
	if amount != addon.Price {
		return domain.InvalidRequestf("charge amount %d does not match addon price %d", amount, addon.Price)
	}
	return nil
}

// ReleaseAddon unlinks the addon consumed by jobID so it can pay for a later job. It is the
// addon counterpart of a credit refund and is idempotent.
func (s *Service) ReleaseAddon(ctx context.Context, jobID string) (bool, error) {
	ok, err := s.addons.Release(ctx, jobID)
	if err != nil {
		obs.RecordLedger("refund", string(domain.CreditPoolAddon), "error")
		return false, fmt.Errorf("release addon: %w", err)
	}
	if ok {
		obs.RecordLedger("refund", string(domain.CreditPoolAddon), "ok")
		s.logger.Info().Str("job_id", jobID).Msg("addon released")
	}
	return ok, nil
}

// Refund reverses whatever pool paid for jobID.
func (s *Service) Refund(ctx context.Context, jobID string, pool domain.CreditPool) (bool, error) {
	switch pool {
	case domain.CreditPoolStandard:
		return s.RefundStandard(ctx, jobID)
	case domain.CreditPoolPremium:
		return s.RefundPremiumIncluded(ctx, jobID)
	case domain.CreditPoolAddon:
		return s.ReleaseAddon(ctx, jobID)
	}
	return false, fmt.Errorf("unknown credit pool %q", pool)
}

// Balance returns the owner's account for period, opening it with plan defaults if needed.
// An empty period means the current one.
func (s *Service) Balance(ctx context.Context, ownerID, period string) (*domain.CreditAccount, error) {
	if period == "" {
		period = s.CurrentPeriod()
	}
	if !ValidPeriod(period) {
		return nil, domain.InvalidRequestf("malformed period %q", period)
	}
	if err := s.credits.EnsureAccount(ctx, ownerID, period, s.plan); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return s.credits.GetAccount(ctx, ownerID, period)
}

// SetLimits overrides an owner's limits for one period. Usage is left untouched, so lowering
// a limit below usage blocks further debits without clawing anything back.
func (s *Service) SetLimits(ctx context.Context, ownerID, period string, standardLimit, premiumLimit int) error {
	if ownerID == "" {
		return domain.InvalidRequestf("owner is required")
	}
	if standardLimit < 0 || premiumLimit < 0 {
		return domain.InvalidRequestf("limits must be non-negative")
	}
	if period == "" {
		period = s.CurrentPeriod()
	}
	if !ValidPeriod(period) {
		return domain.InvalidRequestf("malformed period %q", period)
	}
	if err := s.credits.EnsureAccount(ctx, ownerID, period, s.plan); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	if err := s.credits.SetLimits(ctx, ownerID, period, standardLimit, premiumLimit); err != nil {
		return fmt.Errorf("set limits: %w", err)
	}
	s.logger.Info().Str("owner_id", ownerID).Str("period", period).Int("standard_limit", standardLimit).Int("premium_limit", premiumLimit).Msg("limits updated")
	return nil
}

// Addon returns an addon purchase visible to ownerID.
func (s *Service) Addon(ctx context.Context, ownerID, addonID string) (*domain.AddonPurchase, error) {
	addon, err := s.addons.GetByID(ctx, addonID)
	if err != nil {
		return nil, err
	}
	if addon.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	return addon, nil
}

// Checkout charges a pending addon through the payment gateway. Synchronous verdicts are
// applied immediately; pending charges are settled later by the gateway callback.
func (s *Service) Checkout(ctx context.Context, ownerID, addonID, callbackURL string) (*domain.AddonPurchase, payments.ChargeResult, error) {
	if s.gateway == nil {
		return nil, payments.ChargeResult{}, payments.ErrGatewayUnavailable
	}
	addon, err := s.Addon(ctx, ownerID, addonID)
	if err != nil {
		return nil, payments.ChargeResult{}, err
	}
	if addon.Status != domain.AddonStatusPending {
		return addon, payments.ChargeResult{}, fmt.Errorf("%w: addon %s is %s", domain.ErrIllegalTransition, addon.ID, addon.Status)
	}

	res, err := s.gateway.Charge(ctx, payments.ChargeRequest{
		Reference:   addon.ID,
		OwnerID:     ownerID,
		Amount:      addon.Price,
		Currency:    addon.Currency,
		Description: "addon " + string(addon.Kind),
		CallbackURL: callbackURL,
	})
	if err != nil {
		return nil, payments.ChargeResult{}, fmt.Errorf("charge addon: %w", err)
	}

	switch res.Outcome {
	case payments.OutcomeAuthorized, payments.OutcomeDeclined:
		settled, err := s.ConfirmAddonPayment(ctx, addon.ID, res.ChargeID, res.Outcome == payments.OutcomeAuthorized)
		return settled, res, err
	default:
		if res.ChargeID != "" {
			if _, err := s.addons.AttachCharge(ctx, addon.ID, res.ChargeID); err != nil {
				return nil, res, fmt.Errorf("attach charge: %w", err)
			}
			addon.ChargeID = res.ChargeID
		}
		return addon, res, nil
	}
}
