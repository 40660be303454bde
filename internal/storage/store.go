package storage

import (
	"context"
	"io"
)

// Store is durable asset storage. Keys are slash separated and relative to the store root.
type Store interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Open(key string) (io.ReadCloser, error)
	URL(key string) string
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*OSSStore)(nil)
)
