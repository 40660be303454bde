package repo

import (
	"context"

	"genorch/internal/domain"
	"genorch/internal/infra"
	"genorch/internal/sqlinline"
)

// EventLogPG records provider event fingerprints in provider_events.
type EventLogPG struct {
	sql infra.SQLExecutor
}

func NewEventLog(sql infra.SQLExecutor) *EventLogPG {
	return &EventLogPG{sql: sql}
}

// Record returns true the first time a fingerprint is seen.
func (l *EventLogPG) Record(ctx context.Context, provider, providerJobID, fingerprint string) (bool, error) {
	tag, err := l.sql.Exec(ctx, sqlinline.QRecordProviderEvent, provider, providerJobID, fingerprint)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (l *EventLogPG) Forget(ctx context.Context, provider, providerJobID, fingerprint string) error {
	_, err := l.sql.Exec(ctx, sqlinline.QForgetProviderEvent, provider, providerJobID, fingerprint)
	return err
}

var _ domain.EventLog = (*EventLogPG)(nil)
