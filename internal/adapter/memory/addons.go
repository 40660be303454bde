package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"genorch/internal/domain"
)

type AddonStore struct {
	mu     sync.Mutex
	addons map[string]*domain.AddonPurchase
}

func NewAddonStore() *AddonStore {
	return &AddonStore{addons: make(map[string]*domain.AddonPurchase)}
}

func (s *AddonStore) Create(_ context.Context, addon *domain.AddonPurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.addons[addon.ID]; ok {
		return domain.ErrAlreadyExists
	}
	// one open purchase per owner and kind, mirroring the partial unique index
	if addon.Status == domain.AddonStatusPending {
		for _, a := range s.addons {
			if a.OwnerID == addon.OwnerID && a.Kind == addon.Kind && a.Status == domain.AddonStatusPending {
				return domain.ErrAlreadyExists
			}
		}
	}
	cp := copyAddon(addon)
	s.addons[addon.ID] = cp
	return nil
}

func (s *AddonStore) GetByID(_ context.Context, addonID string) (*domain.AddonPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addons[addonID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyAddon(a), nil
}

func (s *AddonStore) FindPending(_ context.Context, ownerID string, kind domain.AddonKind) (*domain.AddonPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.ordered() {
		if a.OwnerID == ownerID && a.Kind == kind && a.Status == domain.AddonStatusPending {
			return copyAddon(a), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *AddonStore) ClaimPaid(_ context.Context, ownerID string, kind domain.AddonKind, jobID string) (*domain.AddonPurchase, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.ordered() {
		if a.OwnerID == ownerID && a.Kind == kind && a.Status == domain.AddonStatusPaid && a.LinkedJobID == "" {
			a.LinkedJobID = jobID
			return copyAddon(a), true, nil
		}
	}
	return nil, false, nil
}

func (s *AddonStore) Release(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.addons {
		if jobID != "" && a.LinkedJobID == jobID {
			a.LinkedJobID = ""
			return true, nil
		}
	}
	return false, nil
}

func (s *AddonStore) AttachCharge(_ context.Context, addonID, chargeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addons[addonID]
	if !ok || a.Status != domain.AddonStatusPending {
		return false, nil
	}
	a.ChargeID = chargeID
	return true, nil
}

func (s *AddonStore) Settle(_ context.Context, addonID, chargeID string, status domain.AddonStatus, at time.Time) (*domain.AddonPurchase, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addons[addonID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if a.Status != domain.AddonStatusPending {
		return copyAddon(a), false, nil
	}
	a.Status = status
	if chargeID != "" {
		a.ChargeID = chargeID
	}
	if status == domain.AddonStatusPaid {
		paid := at
		a.PaidAt = &paid
	}
	return copyAddon(a), true, nil
}

// ordered returns addons oldest first so claims are deterministic. Callers hold mu.
func (s *AddonStore) ordered() []*domain.AddonPurchase {
	out := make([]*domain.AddonPurchase, 0, len(s.addons))
	for _, a := range s.addons {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func copyAddon(a *domain.AddonPurchase) *domain.AddonPurchase {
	cp := *a
	if a.PaidAt != nil {
		t := *a.PaidAt
		cp.PaidAt = &t
	}
	return &cp
}

var _ domain.AddonRepository = (*AddonStore)(nil)
