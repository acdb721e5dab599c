package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mangaraw/harvester/pkg/models"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS records (
	natural_key      TEXT PRIMARY KEY,
	source           TEXT NOT NULL,
	item_key         TEXT NOT NULL,
	is_numeric       BOOLEAN NOT NULL DEFAULT FALSE,
	sort_key         TEXT COLLATE "C" NOT NULL,
	status           TEXT NOT NULL,
	payload          JSONB,
	http             JSONB,
	errors           JSONB,
	missing_parts    JSONB,
	payload_hash     TEXT,
	fetched_at       TIMESTAMPTZ NOT NULL,
	first_fetched_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS records_source_sort ON records (source, sort_key);
CREATE INDEX IF NOT EXISTS records_source_status ON records (source, status);`

// Postgres stores records in a jsonb document table. It also implements
// source.KeyLister and Counter.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the records table when missing.
// simpleProtocol must be set behind a transaction-mode pooler.
func OpenPostgres(ctx context.Context, dsn string, maxConns int, simpleProtocol bool) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)
	if simpleProtocol {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: connect: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: create schema: %w", err)
	}

	logger.Info("postgres sink opened", "max_conns", maxConns)

	return &Postgres{pool: pool}, nil
}

// jsonArg encodes v for a jsonb parameter, or nil when empty.
func jsonArg(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Upsert implements Sink.
func (p *Postgres) Upsert(ctx context.Context, naturalKey string, rec *models.StoredRecord) error {
	rec = rec.Clone()
	if err := prepare(naturalKey, rec); err != nil {
		return err
	}

	payload, err := jsonArg(rec.Payload, len(rec.Payload) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	httpCodes, err := jsonArg(rec.HTTP, len(rec.HTTP) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode http codes: %w", err)
	}
	errs, err := jsonArg(rec.Errors, len(rec.Errors) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode errors: %w", err)
	}
	missing, err := jsonArg(rec.MissingParts, len(rec.MissingParts) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode missing parts: %w", err)
	}

	_, err = p.pool.Exec(ctx, `INSERT INTO records
		(natural_key, source, item_key, is_numeric, sort_key, status, payload, http, errors, missing_parts, payload_hash, fetched_at, first_fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9::jsonb, $10::jsonb, $11, $12, $13)
		ON CONFLICT (natural_key) DO UPDATE SET
			source = EXCLUDED.source,
			item_key = EXCLUDED.item_key,
			is_numeric = EXCLUDED.is_numeric,
			sort_key = EXCLUDED.sort_key,
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			http = EXCLUDED.http,
			errors = EXCLUDED.errors,
			missing_parts = EXCLUDED.missing_parts,
			payload_hash = EXCLUDED.payload_hash,
			fetched_at = EXCLUDED.fetched_at`,
		naturalKey, rec.Source, rec.Key.Key, rec.Key.Numeric, sortKey(rec.Key), string(rec.Status),
		payload, httpCodes, errs, missing, rec.PayloadHash, rec.FetchedAt.UTC(), rec.FirstFetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", naturalKey, err)
	}

	return nil
}

// Get implements Sink.
func (p *Postgres) Get(ctx context.Context, naturalKey string) (*models.StoredRecord, error) {
	var (
		rec                               models.StoredRecord
		itemKey, status, payloadHash      string
		numeric                           bool
		payload, httpCodes, errs, missing []byte
	)

	err := p.pool.QueryRow(ctx, `SELECT natural_key, source, item_key, is_numeric, status, payload, http, errors, missing_parts, COALESCE(payload_hash, ''), fetched_at, first_fetched_at
		FROM records WHERE natural_key = $1`, naturalKey).
		Scan(&rec.NaturalKey, &rec.Source, &itemKey, &numeric, &status, &payload, &httpCodes, &errs, &missing, &payloadHash, &rec.FetchedAt, &rec.FirstFetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", naturalKey, err)
	}

	rec.Key, err = decodeItem(itemKey, numeric)
	if err != nil {
		return nil, err
	}
	rec.Status = models.RecordStatus(status)
	rec.PayloadHash = payloadHash
	rec.FetchedAt = rec.FetchedAt.UTC()
	rec.FirstFetchedAt = rec.FirstFetchedAt.UTC()

	for _, col := range []struct {
		value []byte
		dest  any
	}{
		{payload, &rec.Payload},
		{httpCodes, &rec.HTTP},
		{errs, &rec.Errors},
		{missing, &rec.MissingParts},
	} {
		if len(col.value) == 0 {
			continue
		}
		if err := json.Unmarshal(col.value, col.dest); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", naturalKey, err)
		}
	}

	return &rec, nil
}

// Exists implements Sink.
func (p *Postgres) Exists(ctx context.Context, naturalKey string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM records WHERE natural_key = $1 AND status = $2)`,
		naturalKey, string(models.StatusOK)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", naturalKey, err)
	}
	return exists, nil
}

func statusStrings(statuses []models.RecordStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

// Count implements Counter.
func (p *Postgres) Count(ctx context.Context, source string, statuses ...models.RecordStatus) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM records
		WHERE source = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))`,
		source, statusStrings(statuses)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s records: %w", source, err)
	}
	return n, nil
}

// ListKeys implements source.KeyLister.
func (p *Postgres) ListKeys(ctx context.Context, source string, after *models.WorkItem, limit int, statuses ...models.RecordStatus) ([]models.WorkItem, error) {
	var afterKey *string
	if after != nil {
		k := sortKey(*after)
		afterKey = &k
	}
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}

	// byte order, as WorkItem.Less, whatever the database locale
	rows, err := p.pool.Query(ctx, `SELECT item_key, is_numeric FROM records
		WHERE source = $1
		  AND ($2::text IS NULL OR sort_key COLLATE "C" > $2::text)
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		ORDER BY sort_key COLLATE "C"
		LIMIT $4`,
		source, afterKey, statusStrings(statuses), limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s keys: %w", source, err)
	}
	defer rows.Close()

	var keys []models.WorkItem
	for rows.Next() {
		var (
			key     string
			numeric bool
		)
		if err := rows.Scan(&key, &numeric); err != nil {
			return nil, err
		}
		item, err := decodeItem(key, numeric)
		if err != nil {
			return nil, err
		}
		keys = append(keys, item)
	}

	return keys, rows.Err()
}

// Close implements Sink.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
