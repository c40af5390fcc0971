// Package database manages PostgreSQL connections and provides the data access layer.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("database: record not found")

// DB wraps the PostgreSQL connection pool and provides query methods.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate runs database schema migrations.
// An advisory lock prevents concurrent replicas from racing on DDL statements.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	// Distinct from other services sharing the PostgreSQL instance.
	const migrationLockID int64 = 0x4F43_5201 // "OCR" prefix + 01
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)

	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		email       TEXT NOT NULL UNIQUE,
		role        TEXT NOT NULL DEFAULT 'user',
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS ai_models (
		name                     TEXT PRIMARY KEY,
		provider                 TEXT NOT NULL,
		endpoint                 TEXT NOT NULL DEFAULT '',
		cost_per_query_cents     DOUBLE PRECISION NOT NULL CHECK (cost_per_query_cents >= 0),
		average_latency_ms       DOUBLE PRECISION NOT NULL CHECK (average_latency_ms >= 0),
		capabilities             TEXT[] NOT NULL DEFAULT '{}',
		available                BOOLEAN NOT NULL DEFAULT TRUE,
		input_per_m_token_cents  DOUBLE PRECISION NOT NULL DEFAULT 0,
		output_per_m_token_cents DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS queries (
		id                  TEXT PRIMARY KEY,
		query_text          TEXT NOT NULL,
		user_id             TEXT NOT NULL,
		session_id          TEXT,
		complexity_score    DOUBLE PRECISION,
		complexity_category TEXT,
		routed_model        TEXT,
		reserved_cost_cents DOUBLE PRECISION,
		actual_cost_cents   DOUBLE PRECISION,
		latency_ms          DOUBLE PRECISION,
		status              TEXT NOT NULL,
		response            TEXT,
		failure_reason      TEXT,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id          TEXT PRIMARY KEY,
		user_id     TEXT,
		query_id    TEXT,
		content     TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_queries_user_id ON queries(user_id);
	CREATE INDEX IF NOT EXISTS idx_queries_status ON queries(status);
	CREATE INDEX IF NOT EXISTS idx_queries_created_at ON queries(created_at);
	CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON feedback(created_at);
	`

	_, err = conn.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// SeedModels inserts catalog entries that do not exist yet. Existing rows are
// left alone so availability changes made at runtime survive a restart.
func (db *DB) SeedModels(ctx context.Context, catalog []models.ModelDescriptor) error {
	for _, m := range catalog {
		_, err := db.Pool.Exec(ctx, `
			INSERT INTO ai_models (
				name, provider, endpoint, cost_per_query_cents, average_latency_ms,
				capabilities, available, input_per_m_token_cents, output_per_m_token_cents
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (name) DO NOTHING
		`, m.Name, string(m.Provider), m.Endpoint, m.CostPerQueryCents, m.AverageLatencyMs,
			capabilitiesOrEmpty(m.Capabilities), m.Available, m.InputPerMTokenCents, m.OutputPerMTokenCents)
		if err != nil {
			return fmt.Errorf("seeding model %s: %w", m.Name, err)
		}
	}
	return nil
}

func capabilitiesOrEmpty(c []string) []string {
	if c == nil {
		return []string{}
	}
	return c
}

// notFound maps pgx.ErrNoRows onto ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("getting %s %q: %w", what, id, err)
}
