package domain

import "time"

// Asset is a durable copy of one provider output, produced after a job succeeds.
type Asset struct {
	ID         string
	JobID      string
	OwnerID    string
	SourceURL  string
	StorageKey string
	URL        string
	MIME       string
	Bytes      int64
	CreatedAt  time.Time
}
