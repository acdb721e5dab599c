package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mangaraw/harvester/internal/pkg/sqlitedb"
	"github.com/mangaraw/harvester/pkg/models"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS records (
		natural_key      TEXT PRIMARY KEY,
		source           TEXT NOT NULL,
		item_key         TEXT NOT NULL,
		is_numeric       INTEGER NOT NULL DEFAULT 0,
		sort_key         TEXT NOT NULL,
		status           TEXT NOT NULL,
		payload          TEXT,
		http             TEXT,
		errors           TEXT,
		missing_parts    TEXT,
		payload_hash     TEXT,
		fetched_at       TEXT NOT NULL,
		first_fetched_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS records_source_sort ON records(source, sort_key)`,
	`CREATE INDEX IF NOT EXISTS records_source_status ON records(source, status)`,
}

// SQLite is the default document store: one row per natural key with JSON
// encoded columns. It also implements source.KeyLister and Counter.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite sink: empty path")
	}

	db, err := sqlitedb.Open(path, sqliteSchema...)
	if err != nil {
		return nil, err
	}

	logger.Info("sqlite sink opened", "path", path)

	return &SQLite{db: db}, nil
}

// DB returns the underlying database, shared with the SQLite checkpoint store.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func encodeColumn(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Upsert implements Sink.
func (s *SQLite) Upsert(ctx context.Context, naturalKey string, rec *models.StoredRecord) error {
	rec = rec.Clone()
	if err := prepare(naturalKey, rec); err != nil {
		return err
	}

	payload, err := encodeColumn(rec.Payload, len(rec.Payload) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	httpCodes, err := encodeColumn(rec.HTTP, len(rec.HTTP) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode http codes: %w", err)
	}
	errs, err := encodeColumn(rec.Errors, len(rec.Errors) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode errors: %w", err)
	}
	missing, err := encodeColumn(rec.MissingParts, len(rec.MissingParts) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode missing parts: %w", err)
	}

	numeric := 0
	if rec.Key.Numeric {
		numeric = 1
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO records
		(natural_key, source, item_key, is_numeric, sort_key, status, payload, http, errors, missing_parts, payload_hash, fetched_at, first_fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(natural_key) DO UPDATE SET
			source = excluded.source,
			item_key = excluded.item_key,
			is_numeric = excluded.is_numeric,
			sort_key = excluded.sort_key,
			status = excluded.status,
			payload = excluded.payload,
			http = excluded.http,
			errors = excluded.errors,
			missing_parts = excluded.missing_parts,
			payload_hash = excluded.payload_hash,
			fetched_at = excluded.fetched_at`,
		naturalKey, rec.Source, rec.Key.Key, numeric, sortKey(rec.Key), string(rec.Status),
		payload, httpCodes, errs, missing, rec.PayloadHash,
		rec.FetchedAt.UTC().Format(time.RFC3339Nano), rec.FirstFetchedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", naturalKey, err)
	}

	return nil
}

// Get implements Sink.
func (s *SQLite) Get(ctx context.Context, naturalKey string) (*models.StoredRecord, error) {
	var (
		rec                                   models.StoredRecord
		itemKey, status                       string
		numeric                               int
		payload, httpCodes, errs, missing, hh sql.NullString
		fetchedAt, firstFetchedAt             string
	)

	err := s.db.QueryRowContext(ctx, `SELECT natural_key, source, item_key, is_numeric, status, payload, http, errors, missing_parts, payload_hash, fetched_at, first_fetched_at
		FROM records WHERE natural_key = ?`, naturalKey).
		Scan(&rec.NaturalKey, &rec.Source, &itemKey, &numeric, &status, &payload, &httpCodes, &errs, &missing, &hh, &fetchedAt, &firstFetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", naturalKey, err)
	}

	rec.Key, err = decodeItem(itemKey, numeric != 0)
	if err != nil {
		return nil, err
	}
	rec.Status = models.RecordStatus(status)
	rec.PayloadHash = hh.String

	for _, col := range []struct {
		value sql.NullString
		dest  any
	}{
		{payload, &rec.Payload},
		{httpCodes, &rec.HTTP},
		{errs, &rec.Errors},
		{missing, &rec.MissingParts},
	} {
		if !col.value.Valid {
			continue
		}
		if err := json.Unmarshal([]byte(col.value.String), col.dest); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", naturalKey, err)
		}
	}

	if rec.FetchedAt, err = time.Parse(time.RFC3339Nano, fetchedAt); err != nil {
		return nil, err
	}
	if rec.FirstFetchedAt, err = time.Parse(time.RFC3339Nano, firstFetchedAt); err != nil {
		return nil, err
	}

	return &rec, nil
}

func decodeItem(key string, numeric bool) (models.WorkItem, error) {
	if !numeric {
		return models.StringItem(key), nil
	}
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("invalid numeric key %q: %w", key, err)
	}
	return models.IntItem(id), nil
}

// Exists implements Sink.
func (s *SQLite) Exists(ctx context.Context, naturalKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE natural_key = ? AND status = ?`,
		naturalKey, string(models.StatusOK)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", naturalKey, err)
	}
	return true, nil
}

// statusFilter returns the " AND status IN (...)" clause and its arguments.
func statusFilter(statuses []models.RecordStatus) (string, []any) {
	if len(statuses) == 0 {
		return "", nil
	}

	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return " AND status IN (" + strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",") + ")", args
}

// Count implements Counter.
func (s *SQLite) Count(ctx context.Context, source string, statuses ...models.RecordStatus) (int64, error) {
	filter, args := statusFilter(statuses)

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE source = ?`+filter,
		append([]any{source}, args...)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s records: %w", source, err)
	}
	return n, nil
}

// ListKeys implements source.KeyLister.
func (s *SQLite) ListKeys(ctx context.Context, source string, after *models.WorkItem, limit int, statuses ...models.RecordStatus) ([]models.WorkItem, error) {
	query := `SELECT item_key, is_numeric FROM records WHERE source = ?`
	args := []any{source}

	if after != nil {
		query += ` AND sort_key > ?`
		args = append(args, sortKey(*after))
	}

	filter, statusArgs := statusFilter(statuses)
	query += filter + ` ORDER BY sort_key`
	args = append(args, statusArgs...)

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s keys: %w", source, err)
	}
	defer rows.Close()

	var keys []models.WorkItem
	for rows.Next() {
		var (
			key     string
			numeric int
		)
		if err := rows.Scan(&key, &numeric); err != nil {
			return nil, err
		}
		item, err := decodeItem(key, numeric != 0)
		if err != nil {
			return nil, err
		}
		keys = append(keys, item)
	}

	return keys, rows.Err()
}

// Close implements Sink.
func (s *SQLite) Close() error {
	return s.db.Close()
}
