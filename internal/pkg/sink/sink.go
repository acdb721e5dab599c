// Package sink stores the crawled records in a document store, one document
// per natural key.
package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/mangaraw/harvester/internal/pkg/log"
	"github.com/mangaraw/harvester/pkg/models"
)

var logger = log.NewFieldedLogger(&log.Fields{
	"component": "sink",
})

// Sink persists records. Upsert is idempotent and last-write-wins: the
// stored fetched_at always moves to the new value and first_fetched_at keeps
// the value of the first write.
type Sink interface {
	Upsert(ctx context.Context, naturalKey string, rec *models.StoredRecord) error
	// Get returns the record stored under naturalKey or ErrNotFound.
	Get(ctx context.Context, naturalKey string) (*models.StoredRecord, error)
	// Exists reports whether a record with status ok is stored under naturalKey.
	Exists(ctx context.Context, naturalKey string) (bool, error)
	Close() error
}

// Counter counts stored records of a source.
type Counter interface {
	// Count returns how many records of source have one of the given
	// statuses, or every record when no status is given.
	Count(ctx context.Context, source string, statuses ...models.RecordStatus) (int64, error)
}

// Options selects and configures a backend.
type Options struct {
	// Backend is one of "sqlite", "postgres", "leveldb" or "memory".
	Backend string
	// Path is the database file of sqlite or the directory of leveldb.
	Path string
	// DSN is the connection string of postgres.
	DSN string
	// MaxConns bounds the postgres pool.
	MaxConns int
	// SimpleProtocol disables prepared statements, for connection poolers.
	SimpleProtocol bool
}

// Open returns the backend named in opts.
func Open(ctx context.Context, opts Options) (Sink, error) {
	switch strings.ToLower(opts.Backend) {
	case "sqlite", "":
		return OpenSQLite(opts.Path)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, opts.DSN, opts.MaxConns, opts.SimpleProtocol)
	case "leveldb":
		return OpenLevelDB(opts.Path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// prepare validates a record before a write and sets its natural key.
func prepare(naturalKey string, rec *models.StoredRecord) error {
	if naturalKey == "" {
		return ErrEmptyKey
	}
	if rec == nil {
		return ErrNilRecord
	}
	if rec.NaturalKey != "" && rec.NaturalKey != naturalKey {
		return fmt.Errorf("%w: %q stored under %q", ErrKeyMismatch, rec.NaturalKey, naturalKey)
	}
	rec.NaturalKey = naturalKey
	if rec.FirstFetchedAt.IsZero() {
		rec.FirstFetchedAt = rec.FetchedAt
	}
	return nil
}

// sortKey orders numeric keys numerically and string keys lexically.
func sortKey(item models.WorkItem) string {
	if item.Numeric {
		return fmt.Sprintf("%020d", item.ID)
	}
	return item.Key
}
