package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool открывает пул соединений к Postgres и проверяет его ping'ом.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database url")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// schema — таблица jobs для backend "queue".
const schema = `
CREATE TABLE IF NOT EXISTS foldflow_jobs (
	id           uuid PRIMARY KEY,
	name         text        NOT NULL,
	command      text        NOT NULL,
	dir          text        NOT NULL,
	log_path     text        NOT NULL,
	env          jsonb,
	resources    jsonb,
	state        text        NOT NULL DEFAULT 'PENDING',
	exit_code    integer,
	worker_id    text,
	error        text,
	submitted_at timestamptz NOT NULL,
	started_at   timestamptz,
	finished_at  timestamptz
);
CREATE INDEX IF NOT EXISTS foldflow_jobs_state_idx ON foldflow_jobs (state, submitted_at);
`

// EnsureSchema создаёт таблицу jobs, если её нет.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
