package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mangaraw/harvester/internal/pkg/sqlitedb"
	"github.com/mangaraw/harvester/pkg/models"
)

// Schema is the table holding one row per stage.
const Schema = `CREATE TABLE IF NOT EXISTS checkpoints (
	stage       TEXT PRIMARY KEY,
	completed   INTEGER NOT NULL DEFAULT 0,
	last_key    TEXT,
	batch_size  INTEGER NOT NULL DEFAULT 0,
	aux         TEXT,
	processed   INTEGER NOT NULL DEFAULT 0,
	run_id      TEXT,
	updated_at  TEXT NOT NULL
)`

// SQLite stores records in the checkpoints table. Each Save runs in its own
// transaction so the cursor check and the write are atomic.
type SQLite struct {
	db     *sql.DB
	ownsDB bool
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sqlitedb.Open(path, Schema)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db, ownsDB: true}, nil
}

// NewSQLite uses an already opened database, typically the one of the SQLite
// sink, and creates the table when missing.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return &SQLite{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec       Record
		completed int
		lastKey   sql.NullString
		aux       sql.NullString
		runID     sql.NullString
		updatedAt string
	)

	if err := row.Scan(&rec.Stage, &completed, &lastKey, &rec.BatchSize, &aux, &rec.Processed, &runID, &updatedAt); err != nil {
		return Record{}, err
	}

	rec.Completed = completed != 0
	rec.RunID = runID.String

	if lastKey.Valid && lastKey.String != "" {
		var key models.WorkItem
		if err := json.Unmarshal([]byte(lastKey.String), &key); err != nil {
			return Record{}, fmt.Errorf("failed to decode last key of stage %s: %w", rec.Stage, err)
		}
		rec.LastProcessedKey = &key
	}
	if aux.Valid && aux.String != "" {
		if err := json.Unmarshal([]byte(aux.String), &rec.Aux); err != nil {
			return Record{}, fmt.Errorf("failed to decode aux of stage %s: %w", rec.Stage, err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("failed to decode updated_at of stage %s: %w", rec.Stage, err)
	}
	rec.UpdatedAt = t

	return rec, nil
}

const selectColumns = `SELECT stage, completed, last_key, batch_size, aux, processed, run_id, updated_at FROM checkpoints`

// Load implements Store.
func (s *SQLite) Load(ctx context.Context, stage string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE stage = ?`, stage))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{Stage: stage}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return rec, nil
}

// List implements Store.
func (s *SQLite) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY stage`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Save implements Store.
func (s *SQLite) Save(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := scanRecord(tx.QueryRowContext(ctx, selectColumns+` WHERE stage = ?`, rec.Stage))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := checkAdvance(prev, rec); err != nil {
		return err
	}

	var lastKey, aux sql.NullString
	if rec.LastProcessedKey != nil {
		data, err := json.Marshal(rec.LastProcessedKey)
		if err != nil {
			return err
		}
		lastKey = sql.NullString{String: string(data), Valid: true}
	}
	if len(rec.Aux) > 0 {
		data, err := json.Marshal(rec.Aux)
		if err != nil {
			return err
		}
		aux = sql.NullString{String: string(data), Valid: true}
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	completed := 0
	if rec.Completed {
		completed = 1
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO checkpoints (stage, completed, last_key, batch_size, aux, processed, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stage) DO UPDATE SET
			completed = excluded.completed,
			last_key = excluded.last_key,
			batch_size = excluded.batch_size,
			aux = excluded.aux,
			processed = excluded.processed,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at`,
		rec.Stage, completed, lastKey, rec.BatchSize, aux, rec.Processed, rec.RunID, rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return tx.Commit()
}

// Reset implements Store.
func (s *SQLite) Reset(ctx context.Context, stage string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE stage = ?`, stage); err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	return nil
}

// Close implements Store. A database passed to NewSQLite is left open.
func (s *SQLite) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
