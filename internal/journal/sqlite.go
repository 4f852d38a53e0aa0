// File: internal/journal/sqlite.go
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/json-iterator/go"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS journal_entries (
    session_id  TEXT    NOT NULL,
    step        INTEGER NOT NULL,
    episode     INTEGER NOT NULL,
    recorded_at TEXT    NOT NULL,
    instruction TEXT    NOT NULL,
    health      REAL,
    food        REAL,
    pos_x       REAL,
    pos_y       REAL,
    pos_z       REAL,
    action      TEXT,
    frame_path  TEXT,
    PRIMARY KEY (session_id, step)
);`

// SQLiteSink keeps a local, queryable index of journal entries.
type SQLiteSink struct {
	db   *sql.DB
	stmt *sql.Stmt
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create journal table: %w", err)
	}
	stmt, err := db.PrepareContext(ctx, `INSERT OR IGNORE INTO journal_entries
        (session_id, step, episode, recorded_at, instruction, health, food, pos_x, pos_y, pos_z, action, frame_path)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	return &SQLiteSink{db: db, stmt: stmt}, nil
}

// Write implements Sink.
func (s *SQLiteSink) Write(ctx context.Context, e Entry) error {
	var action string
	if e.Action != nil {
		b, err := json.Marshal(e.Action)
		if err != nil {
			return fmt.Errorf("failed to encode action: %w", err)
		}
		action = string(b)
	}
	_, err := s.stmt.ExecContext(ctx,
		e.SessionID, e.Tick, e.Episode, e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"), e.Instruction,
		e.Health, e.Food, e.Position.X, e.Position.Y, e.Position.Z,
		action, e.FramePath)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

// Count returns how many entries the session has.
func (s *SQLiteSink) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM journal_entries WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	_ = s.stmt.Close()
	return s.db.Close()
}
