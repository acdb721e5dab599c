package sink

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mangaraw/harvester/pkg/models"
	"github.com/philippgille/gokv/encoding"
	"github.com/philippgille/gokv/leveldb"
)

// countsKey holds the per-source status counts. Natural keys always contain
// an underscore and never a colon, so it cannot collide with a record.
const countsKey = "harvester:counts"

// statusCounts is the number of records per source and status.
type statusCounts map[string]map[models.RecordStatus]int64

func (c statusCounts) add(source string, status models.RecordStatus, delta int64) {
	if c[source] == nil {
		c[source] = make(map[models.RecordStatus]int64)
	}
	c[source][status] += delta
}

// LevelDB is an embedded key/value document store: each record is stored as
// a JSON document under its natural key. It cannot enumerate keys, so it only
// serves range-driven stages. It keeps per-source status counts next to the
// records and implements Counter.
type LevelDB struct {
	// mu serializes the read-modify-write of an upsert
	mu     sync.Mutex
	db     leveldb.Store
	counts statusCounts
}

// OpenLevelDB opens (or creates) the database directory at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	if path == "" {
		return nil, fmt.Errorf("leveldb sink: empty path")
	}

	db, err := leveldb.NewStore(leveldb.Options{
		Path:  path,
		Codec: encoding.JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("leveldb sink: open: %w", err)
	}

	counts := make(statusCounts)
	if _, err := db.Get(countsKey, &counts); err != nil {
		db.Close()
		return nil, fmt.Errorf("leveldb sink: read counts: %w", err)
	}

	logger.Info("leveldb sink opened", "path", path)

	return &LevelDB{db: db, counts: counts}, nil
}

// Upsert implements Sink.
func (l *LevelDB) Upsert(ctx context.Context, naturalKey string, rec *models.StoredRecord) error {
	rec = rec.Clone()
	if err := prepare(naturalKey, rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var prev models.StoredRecord
	found, err := l.db.Get(naturalKey, &prev)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", naturalKey, err)
	}
	if found {
		rec.FirstFetchedAt = prev.FirstFetchedAt
	}

	if err := l.db.Set(naturalKey, rec); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", naturalKey, err)
	}

	if found && prev.Source == rec.Source && prev.Status == rec.Status {
		return nil
	}
	if found {
		l.counts.add(prev.Source, prev.Status, -1)
	}
	l.counts.add(rec.Source, rec.Status, 1)

	if err := l.db.Set(countsKey, l.counts); err != nil {
		return fmt.Errorf("failed to update counts: %w", err)
	}

	return nil
}

// Count implements Counter.
func (l *LevelDB) Count(ctx context.Context, source string, statuses ...models.RecordStatus) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for status, count := range l.counts[source] {
		if len(statuses) == 0 || slices.Contains(statuses, status) {
			n += count
		}
	}
	return n, nil
}

// Get implements Sink.
func (l *LevelDB) Get(ctx context.Context, naturalKey string) (*models.StoredRecord, error) {
	var rec models.StoredRecord
	found, err := l.db.Get(naturalKey, &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", naturalKey, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Exists implements Sink.
func (l *LevelDB) Exists(ctx context.Context, naturalKey string) (bool, error) {
	rec, err := l.Get(ctx, naturalKey)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Status == models.StatusOK, nil
}

// Close implements Sink.
func (l *LevelDB) Close() error {
	return l.db.Close()
}
