package memory

import (
	"context"
	"sync"

	"genorch/internal/domain"
)

type EventLog struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewEventLog() *EventLog {
	return &EventLog{seen: make(map[string]struct{})}
}

func eventKey(provider, providerJobID, fingerprint string) string {
	return provider + "\x00" + providerJobID + "\x00" + fingerprint
}

func (l *EventLog) Record(_ context.Context, provider, providerJobID, fingerprint string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := eventKey(provider, providerJobID, fingerprint)
	if _, ok := l.seen[k]; ok {
		return false, nil
	}
	l.seen[k] = struct{}{}
	return true, nil
}

func (l *EventLog) Forget(_ context.Context, provider, providerJobID, fingerprint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, eventKey(provider, providerJobID, fingerprint))
	return nil
}

type AssetStore struct {
	mu     sync.Mutex
	assets map[string][]domain.Asset
}

func NewAssetStore() *AssetStore {
	return &AssetStore{assets: make(map[string][]domain.Asset)}
}

func (s *AssetStore) SaveAll(_ context.Context, assets []domain.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
next:
	for _, a := range assets {
		for _, existing := range s.assets[a.JobID] {
			if existing.ID == a.ID {
				continue next
			}
		}
		s.assets[a.JobID] = append(s.assets[a.JobID], a)
	}
	return nil
}

func (s *AssetStore) ListByJobID(_ context.Context, jobID string) ([]domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Asset(nil), s.assets[jobID]...), nil
}

var (
	_ domain.EventLog        = (*EventLog)(nil)
	_ domain.AssetRepository = (*AssetStore)(nil)
)
