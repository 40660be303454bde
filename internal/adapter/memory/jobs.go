// Package memory provides process-local implementations of the domain repositories. They
// honor the same conditional-update contracts as the Postgres adapters and back the
// STORE_BACKEND=memory mode and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"genorch/internal/domain"
)

type JobStore struct {
	mu         sync.Mutex
	jobs       map[string]*domain.Job
	byProvider map[string]string
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs:       make(map[string]*domain.Job),
		byProvider: make(map[string]string),
	}
}

func providerKey(provider, providerJobID string) string {
	return provider + "\x00" + providerJobID
}

func (s *JobStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := copyJob(job)
	s.jobs[job.ID] = cp
	if cp.ProviderJobID != "" {
		s.byProvider[providerKey(cp.Provider, cp.ProviderJobID)] = cp.ID
	}
	return nil
}

func (s *JobStore) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyJob(j), nil
}

func (s *JobStore) GetByProviderJobID(_ context.Context, provider, providerJobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byProvider[providerKey(provider, providerJobID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyJob(s.jobs[id]), nil
}

func (s *JobStore) MarkProcessing(_ context.Context, jobID, providerJobID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !domain.CanTransition(j.Status, domain.JobStatusProcessing) || j.ProviderJobID != "" {
		return false, nil
	}
	j.Status = domain.JobStatusProcessing
	j.ProviderJobID = providerJobID
	started := at
	j.StartedAt = &started
	s.byProvider[providerKey(j.Provider, providerJobID)] = j.ID
	return true, nil
}

func (s *JobStore) Finish(_ context.Context, jobID string, to domain.JobStatus, outputs []string, jobErr *domain.JobError, at time.Time) (*domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if !to.Terminal() || !domain.CanTransition(j.Status, to) {
		return copyJob(j), false, nil
	}
	j.Status = to
	completed := at
	j.CompletedAt = &completed
	switch to {
	case domain.JobStatusSucceeded:
		j.OutputRefs = append([]string(nil), outputs...)
	case domain.JobStatusFailed:
		if jobErr != nil {
			e := *jobErr
			j.Error = &e
		}
	}
	return copyJob(j), true, nil
}

func (s *JobStore) ListProcessing(_ context.Context, startedBefore time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, 0)
	for _, j := range s.jobs {
		if j.Status != domain.JobStatusProcessing || j.StartedAt == nil || !j.StartedAt.Before(startedBefore) {
			continue
		}
		out = append(out, *copyJob(j))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(*out[b].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyJob(j *domain.Job) *domain.Job {
	cp := *j
	cp.InputRefs = append([]string(nil), j.InputRefs...)
	cp.OutputRefs = append([]string(nil), j.OutputRefs...)
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

var _ domain.JobRepository = (*JobStore)(nil)
