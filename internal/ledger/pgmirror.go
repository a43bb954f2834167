// File: internal/ledger/pgmirror.go
package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
)

// DBPool abstracts the pgxpool.Pool surface the mirror uses so tests can
// substitute a mock pool.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

const createHistoryTableSQL = `
CREATE TABLE IF NOT EXISTS graft_history (
    id                BIGSERIAL PRIMARY KEY,
    timestamp_ms      BIGINT      NOT NULL,
    path              TEXT        NOT NULL,
    status            TEXT        NOT NULL,
    snapshot_commit   TEXT        NOT NULL DEFAULT '',
    note              TEXT        NOT NULL DEFAULT '',
    build_status      INT         NULL,
    build_duration_ms BIGINT      NOT NULL DEFAULT 0,
    receipt           TEXT        NOT NULL DEFAULT '',
    mirrored_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const insertHistorySQL = `
INSERT INTO graft_history
    (timestamp_ms, path, status, snapshot_commit, note, build_status, build_duration_ms, receipt)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

// PostgresMirror copies every appended entry into a database table for fleet
// dashboards. It is advisory only: the manifest never depends on it, and a
// mirror failure surfaces as ErrAppendIncomplete, not as a lost entry. It
// implements schemas.HistoryMirror.
type PostgresMirror struct {
	logger *zap.Logger
	pool   DBPool
}

// NewPostgresMirror connects to the configured DSN, verifies the connection,
// and ensures the history table exists.
func NewPostgresMirror(ctx context.Context, logger *zap.Logger, cfg config.PostgresConfig) (*PostgresMirror, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	m := NewPostgresMirrorWithPool(logger, pool)
	if err := m.Init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return m, nil
}

// NewPostgresMirrorWithPool wraps an existing pool. Used directly by tests.
func NewPostgresMirrorWithPool(logger *zap.Logger, pool DBPool) *PostgresMirror {
	return &PostgresMirror{
		logger: logger.Named("pg-mirror"),
		pool:   pool,
	}
}

// Init verifies connectivity and creates the history table when missing.
func (m *PostgresMirror) Init(ctx context.Context) error {
	if err := m.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres mirror unreachable: %w", err)
	}
	if _, err := m.pool.Exec(ctx, createHistoryTableSQL); err != nil {
		return fmt.Errorf("failed to ensure history table: %w", err)
	}
	m.logger.Info("Postgres history mirror ready.")
	return nil
}

// MirrorAppend inserts one entry.
func (m *PostgresMirror) MirrorAppend(ctx context.Context, entry schemas.EvolutionEntry) error {
	_, err := m.pool.Exec(ctx, insertHistorySQL,
		int64(entry.TimestampMS),
		entry.Path,
		string(entry.Status),
		entry.SnapshotCommit,
		entry.Note,
		entry.BuildStatus,
		int64(entry.BuildDurationMS),
		entry.Receipt,
	)
	if err != nil {
		return fmt.Errorf("failed to mirror entry: %w", err)
	}
	return nil
}

// Close releases the pool.
func (m *PostgresMirror) Close(context.Context) error {
	m.pool.Close()
	return nil
}
