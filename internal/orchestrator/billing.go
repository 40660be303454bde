package orchestrator

import (
	"fmt"

	"genorch/internal/domain"
)

// PoolPolicy says which prepaid pools an engine draws from, in order, and which addon kind
// can pay for it once those are exhausted. An empty Addon means no pay-per-use fallback.
type PoolPolicy struct {
	Pools []domain.CreditPool
	Addon domain.AddonKind
}

// Billing maps every engine to its pool policy.
type Billing map[domain.Engine]PoolPolicy

// DefaultBilling is the production pool order. Every engine tries the standard pool first
// except premium, which never draws standard credits and goes straight to the premium pool.
func DefaultBilling() Billing {
	return Billing{
		domain.EngineStandard: {Pools: []domain.CreditPool{domain.CreditPoolStandard}},
		domain.EngineEdit:     {Pools: []domain.CreditPool{domain.CreditPoolStandard}},
		domain.EngineFast:     {Pools: []domain.CreditPool{domain.CreditPoolStandard, domain.CreditPoolPremium}, Addon: domain.AddonKindFast},
		domain.EngineKontext:  {Pools: []domain.CreditPool{domain.CreditPoolStandard, domain.CreditPoolPremium}, Addon: domain.AddonKindPremium},
		domain.EnginePremium:  {Pools: []domain.CreditPool{domain.CreditPoolPremium}, Addon: domain.AddonKindPremium},
		domain.EngineUpscale:  {Pools: []domain.CreditPool{domain.CreditPoolStandard, domain.CreditPoolPremium}, Addon: domain.AddonKindUpscale},
	}
}

// Validate checks that every listed pool is a prepaid pool and every engine has a way to pay.
func (b Billing) Validate() error {
	for e, p := range b {
		if !e.Valid() {
			return fmt.Errorf("billing: unknown engine %q", e)
		}
		if len(p.Pools) == 0 && p.Addon == "" {
			return fmt.Errorf("billing: engine %q has no pools and no addon", e)
		}
		for _, pool := range p.Pools {
			if pool != domain.CreditPoolStandard && pool != domain.CreditPoolPremium {
				return fmt.Errorf("billing: engine %q lists non-prepaid pool %q", e, pool)
			}
		}
	}
	return nil
}

func (b Billing) policy(e domain.Engine) (PoolPolicy, bool) {
	p, ok := b[e]
	return p, ok
}
