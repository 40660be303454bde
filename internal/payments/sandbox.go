package payments

import (
	"context"
	"sync"
)

// Sandbox authorizes every positive charge immediately. It is used when no gateway is
// configured so addon flows can be exercised locally.
type Sandbox struct {
	mu      sync.Mutex
	charges []ChargeRequest
}

func NewSandbox() *Sandbox {
	return &Sandbox{}
}

func (s *Sandbox) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	s.mu.Lock()
	s.charges = append(s.charges, req)
	s.mu.Unlock()

	if req.Amount <= 0 {
		return ChargeResult{Outcome: OutcomeDeclined}, nil
	}
	return ChargeResult{Outcome: OutcomeAuthorized, ChargeID: "sbx_" + req.Reference}, nil
}

// Charges returns the requests seen so far.
func (s *Sandbox) Charges() []ChargeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChargeRequest, len(s.charges))
	copy(out, s.charges)
	return out
}

var _ Gateway = (*Sandbox)(nil)
