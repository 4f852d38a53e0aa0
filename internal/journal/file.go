// File: internal/journal/file.go
package journal

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	json "github.com/json-iterator/go"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/herobine/internal/config"
)

// FileSink appends entries as JSON lines to a size-rotated file.
type FileSink struct {
	out *lumberjack.Logger
}

// NewFileSink opens <dir>/<session>.jsonl.
func NewFileSink(cfg config.JournalConfig, session Session) *FileSink {
	return &FileSink{out: &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, session.Name()+".jsonl"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}}
}

// Path is the journal file being written.
func (s *FileSink) Path() string { return s.out.Filename }

// Write implements Sink.
func (s *FileSink) Write(_ context.Context, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}
	if _, err := s.out.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *FileSink) Close() error { return s.out.Close() }

// ParseLine decodes one journal line.
func ParseLine(line []byte) (Entry, error) {
	var e Entry
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return e, fmt.Errorf("empty journal line")
	}
	if err := json.Unmarshal(line, &e); err != nil {
		return e, fmt.Errorf("malformed journal line: %w", err)
	}
	return e, nil
}

// Format renders e as the one-line summary used by the console.
func Format(e Entry) string {
	return fmt.Sprintf("Step %d | Health: %.0f | Pos: (%.1f, %.1f, %.1f) | Task: %s",
		e.Tick, e.Health, e.Position.X, e.Position.Y, e.Position.Z, Truncate(e.Instruction, 50))
}

// Truncate shortens s to n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
