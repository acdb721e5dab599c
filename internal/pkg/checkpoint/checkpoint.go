// Package checkpoint persists the per-stage cursor of a crawl so a restarted
// run resumes right after the last fully processed item.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/mangaraw/harvester/pkg/models"
	"github.com/spf13/afero"
)

var (
	// ErrRegression is returned when a save would move a stage cursor backwards.
	ErrRegression = errors.New("checkpoint key regression")
	// ErrNoStage is returned when a record has no stage name.
	ErrNoStage = errors.New("checkpoint record has no stage")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown checkpoint backend")
)

// Record is the durable state of one stage.
type Record struct {
	Stage            string            `json:"stage"`
	Completed        bool              `json:"completed"`
	LastProcessedKey *models.WorkItem  `json:"last_processed_key"`
	BatchSize        int               `json:"batch_size,omitempty"`
	Aux              map[string]string `json:"aux,omitempty"`
	Processed        int64             `json:"processed"`
	RunID            string            `json:"run_id,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r.LastProcessedKey != nil {
		key := *r.LastProcessedKey
		r.LastProcessedKey = &key
	}
	r.Aux = maps.Clone(r.Aux)
	return r
}

// Store reads and writes checkpoint records. Implementations write each
// record atomically: a crash during Save leaves either the previous or the
// new record.
type Store interface {
	// Load returns the record of stage, or an empty record when there is none.
	Load(ctx context.Context, stage string) (Record, error)
	// Save replaces the record of rec.Stage. It refuses to move the cursor
	// before the stored one.
	Save(ctx context.Context, rec Record) error
	// Reset forgets the record of stage. It is the only way to move a cursor backwards.
	Reset(ctx context.Context, stage string) error
	// List returns every stored record.
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// checkAdvance validates that next may replace prev.
func checkAdvance(prev, next Record) error {
	if next.Stage == "" {
		return ErrNoStage
	}
	if prev.LastProcessedKey == nil || next.LastProcessedKey == nil {
		if prev.LastProcessedKey != nil && next.LastProcessedKey == nil {
			return fmt.Errorf("%w: stage %s would drop key %s", ErrRegression, next.Stage, prev.LastProcessedKey)
		}
		return nil
	}
	if next.LastProcessedKey.Less(*prev.LastProcessedKey) {
		return fmt.Errorf("%w: stage %s from %s to %s", ErrRegression, next.Stage, prev.LastProcessedKey, next.LastProcessedKey)
	}
	return nil
}

// Open returns the store named by backend: "file" (JSON document at path),
// "sqlite" (database at path) or "memory".
func Open(backend, path string) (Store, error) {
	switch backend {
	case "file", "":
		return NewFile(afero.NewOsFs(), path), nil
	case "sqlite":
		return OpenSQLite(path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
