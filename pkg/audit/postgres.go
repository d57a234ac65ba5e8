package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres schema for persisted decisions. Two tables: one row per request
// in logs, and one row per detected threat in threats, keyed by log id.
const pgSchema = `
CREATE TABLE IF NOT EXISTS logs (
	id          BIGSERIAL PRIMARY KEY,
	decision_id UUID        NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	origin      TEXT,
	host        TEXT,
	method      TEXT,
	target      TEXT,
	label       TEXT        NOT NULL,
	source      TEXT        NOT NULL,
	score       DOUBLE PRECISION
);
CREATE TABLE IF NOT EXISTS threats (
	log_id       BIGINT NOT NULL REFERENCES logs(id) ON DELETE CASCADE,
	threat_type  TEXT   NOT NULL,
	matched_rule TEXT
);`

// PostgresWriter persists records to Postgres for the dashboard's query
// surface. Optional: configured only when a DSN is provided.
type PostgresWriter struct {
	pool *pgxpool.Pool
}

// NewPostgresWriter connects, verifies the connection and ensures the
// decision log schema exists.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: postgres schema: %w", err)
	}
	return &PostgresWriter{pool: pool}, nil
}

func (w *PostgresWriter) Write(ctx context.Context, rec Record) error {
	var logID int64
	err := w.pool.QueryRow(ctx,
		`INSERT INTO logs (decision_id, ts, origin, host, method, target, label, source, score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		rec.ID, rec.Timestamp, rec.Origin, rec.Host, rec.Method, rec.Target,
		rec.Label, rec.Source, rec.Score,
	).Scan(&logID)
	if err != nil {
		return fmt.Errorf("audit: insert log: %w", err)
	}
	if rec.Category != "" {
		if _, err := w.pool.Exec(ctx,
			`INSERT INTO threats (log_id, threat_type, matched_rule) VALUES ($1, $2, $3)`,
			logID, rec.Category, rec.MatchedRule,
		); err != nil {
			return fmt.Errorf("audit: insert threat: %w", err)
		}
	}
	return nil
}

func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
