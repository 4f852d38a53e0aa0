// File: internal/journal/postgres.go
package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS journal_entries (
    session_id  TEXT        NOT NULL,
    step        INTEGER     NOT NULL,
    episode     INTEGER     NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    instruction TEXT        NOT NULL,
    health      DOUBLE PRECISION,
    food        DOUBLE PRECISION,
    pos_x       DOUBLE PRECISION,
    pos_y       DOUBLE PRECISION,
    pos_z       DOUBLE PRECISION,
    action      JSONB,
    frame_path  TEXT,
    PRIMARY KEY (session_id, step)
);`

const pgInsert = `
INSERT INTO journal_entries (session_id, step, episode, recorded_at, instruction, health, food, pos_x, pos_y, pos_z, action, frame_path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (session_id, step) DO NOTHING;`

// PostgresSink stores entries in a PostgreSQL table.
type PostgresSink struct {
	pool DBPool
	log  *zap.Logger
}

// OpenPostgres connects to url and prepares the table.
func OpenPostgres(ctx context.Context, url string, logger *zap.Logger) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	sink, err := NewPostgresSink(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

// NewPostgresSink verifies the connection and creates the table if needed.
func NewPostgresSink(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("failed to create journal table: %w", err)
	}
	return &PostgresSink{pool: pool, log: logger.Named("journal.postgres")}, nil
}

// Write implements Sink.
func (s *PostgresSink) Write(ctx context.Context, e Entry) error {
	var action []byte
	if e.Action != nil {
		var err error
		if action, err = json.Marshal(e.Action); err != nil {
			return fmt.Errorf("failed to encode action: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, pgInsert,
		e.SessionID, e.Tick, e.Episode, e.Timestamp.UTC(), e.Instruction,
		e.Health, e.Food, e.Position.X, e.Position.Y, e.Position.Z,
		action, e.FramePath)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
