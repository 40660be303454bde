// Package events publishes job lifecycle events for downstream consumers.
package events

import (
	"context"
	"sync"
	"time"

	"genorch/internal/domain"
)

const RoutingKeyJobFinalized = "job.finalized"

// JobFinalized is emitted once per job by the winner of its terminal transition.
type JobFinalized struct {
	JobID       string            `json:"job_id"`
	OwnerID     string            `json:"owner_id"`
	Engine      domain.Engine     `json:"engine"`
	Provider    string            `json:"provider"`
	Status      domain.JobStatus  `json:"status"`
	OutputRefs  []string          `json:"output_refs,omitempty"`
	Error       *domain.JobError  `json:"error,omitempty"`
	CreditPool  domain.CreditPool `json:"credit_pool"`
	Refunded    bool              `json:"refunded"`
	CompletedAt time.Time         `json:"completed_at"`
}

// NewJobFinalized builds the event for a job that just reached a terminal status.
func NewJobFinalized(job *domain.Job, refunded bool) JobFinalized {
	ev := JobFinalized{
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		Engine:     job.Engine,
		Provider:   job.Provider,
		Status:     job.Status,
		OutputRefs: job.OutputRefs,
		Error:      job.Error,
		CreditPool: job.CreditPool,
		Refunded:   refunded,
	}
	if job.CompletedAt != nil {
		ev.CompletedAt = *job.CompletedAt
	}
	return ev
}

type Publisher interface {
	PublishJobFinalized(ctx context.Context, ev JobFinalized) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishJobFinalized(context.Context, JobFinalized) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []JobFinalized
}

func (r *Recorder) PublishJobFinalized(_ context.Context, ev JobFinalized) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []JobFinalized {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobFinalized, len(r.events))
	copy(out, r.events)
	return out
}
