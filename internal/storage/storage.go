package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/filecorr/pkg/types"
)

// Backend kinds accepted by Open
const (
	KindSQLite = "sqlite"
	KindJSON   = "json"
)

var (
	// ErrConflict is returned when a write lost a race for the database lock.
	// The write had no effect and may be retried.
	ErrConflict = errors.New("storage conflict")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("storage closed")
)

// Backend durably persists corpus records
type Backend interface {
	// Load returns every stored record in insertion order
	Load(ctx context.Context) ([]types.FileRecord, error)

	// Put inserts or replaces the record with rec.Digest. When Put returns
	// nil the write is durable; on error the stored state is unchanged.
	Put(ctx context.Context, rec types.FileRecord) error

	// Kind names the backend
	Kind() string

	Close() error
}

// Open creates the backend of the given kind at path
func Open(ctx context.Context, kind, path string) (Backend, error) {
	switch kind {
	case KindSQLite, "":
		return NewSQLiteBackend(ctx, path)
	case KindJSON:
		return NewJSONBackend(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}
