package logsink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/nova-ric/internal/logging"
)

const invocationsSchema = `
CREATE TABLE IF NOT EXISTS pulsar_invocations (
	request_id  TEXT PRIMARY KEY,
	handler     TEXT NOT NULL,
	mode        TEXT NOT NULL,
	trace_id    TEXT NOT NULL DEFAULT '',
	span_id     TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL,
	cold_start  BOOLEAN NOT NULL,
	success     BOOLEAN NOT NULL,
	error_type  TEXT NOT NULL DEFAULT '',
	input_size  INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS pulsar_invocations_created_at ON pulsar_invocations (created_at DESC);
`

const insertInvocation = `
INSERT INTO pulsar_invocations (request_id, handler, mode, trace_id, span_id, duration_ms, cold_start, success, error_type, input_size, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (request_id) DO NOTHING`

// PostgresSink writes invocation records to PostgreSQL.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn and creates the records table.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, invocationsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Save(ctx context.Context, rec *logging.InvocationRecord) error {
	return s.SaveBatch(ctx, []*logging.InvocationRecord{rec})
}

func (s *PostgresSink) SaveBatch(ctx context.Context, recs []*logging.InvocationRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range recs {
		if rec.RequestID == "" {
			return fmt.Errorf("invocation record request id is required")
		}
		created := rec.Timestamp
		if created.IsZero() {
			created = time.Now()
		}
		batch.Queue(insertInvocation,
			rec.RequestID, rec.Handler, rec.Mode, rec.TraceID, rec.SpanID,
			rec.DurationMs, rec.ColdStart, rec.Success, rec.ErrorType, rec.InputSize, created)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range recs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("save invocation records: %w", err)
		}
	}
	return nil
}

// Recent returns the newest records, newest first.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]*logging.InvocationRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, handler, mode, trace_id, span_id, duration_ms, cold_start, success, error_type, input_size, created_at
		FROM pulsar_invocations
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*logging.InvocationRecord
	for rows.Next() {
		rec := &logging.InvocationRecord{}
		if err := rows.Scan(&rec.RequestID, &rec.Handler, &rec.Mode, &rec.TraceID, &rec.SpanID,
			&rec.DurationMs, &rec.ColdStart, &rec.Success, &rec.ErrorType, &rec.InputSize, &rec.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
