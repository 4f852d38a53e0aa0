// File: internal/journal/journal.go
package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/frame"
)

// SessionLayout is the timestamp layout used in session file names.
const SessionLayout = "20060102_150405"

// Entry is one journaled tick.
type Entry struct {
	SessionID   string               `json:"session_id"`
	Tick        int                  `json:"step"`
	Episode     int                  `json:"episode"`
	EpisodeStep int                  `json:"episode_step"`
	Timestamp   time.Time            `json:"timestamp"`
	Instruction string               `json:"instruction"`
	Health      float64              `json:"health"`
	Food        float64              `json:"food"`
	Position    schemas.Vec3         `json:"position"`
	Action      schemas.NativeAction `json:"action,omitempty"`
	FramePath   string               `json:"pov_saved,omitempty"`
}

// Sink persists journal entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
	Close() error
}

// MultiSink fans an entry out to every sink. All sinks are attempted; their errors are joined.
type MultiSink []Sink

// Write implements Sink.
func (m MultiSink) Write(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Session names one recording session.
type Session struct {
	ID      string
	Started time.Time
}

// NewSession starts a session at now.
func NewSession(now time.Time) Session {
	return Session{ID: uuid.NewString(), Started: now}
}

// Name is the base name shared by the session's files.
func (s Session) Name() string {
	return "session_" + s.Started.Format(SessionLayout)
}

// Recorder saves input frames next to the journal and writes entries to a sink.
type Recorder struct {
	session  Session
	frameDir string
	quality  int
	every    int
	sink     Sink
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates the frame directory for session under cfg.Dir.
func NewRecorder(cfg config.JournalConfig, session Session, sink Sink, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	frameDir := filepath.Join(cfg.Dir, session.Name())
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	quality := cfg.FrameQuality
	if quality <= 0 {
		quality = frame.DefaultQuality
	}
	return &Recorder{
		session:  session,
		frameDir: frameDir,
		quality:  quality,
		every:    cfg.FrameEvery,
		sink:     sink,
		logger:   logger.Named("journal"),
	}, nil
}

// Session returns the session being recorded.
func (r *Recorder) Session() Session { return r.session }

// FrameDir is where input frames are saved.
func (r *Recorder) FrameDir() string { return r.frameDir }

// Record saves f (every Nth tick, see JournalConfig.FrameEvery) and appends e.
// A frame that cannot be saved is logged and the entry is still written.
func (r *Recorder) Record(ctx context.Context, e Entry, f schemas.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("journal is closed")
	}

	e.SessionID = r.session.ID
	if r.every > 0 && e.Tick%r.every == 0 && f.Valid() {
		path := filepath.Join(r.frameDir, fmt.Sprintf("step_%05d_input.jpg", e.Tick))
		if err := saveFrame(path, f, r.quality); err != nil {
			r.logger.Warn("Failed to save input frame.", zap.Int("tick", e.Tick), zap.Error(err))
		} else {
			e.FramePath = path
		}
	}
	if err := r.sink.Write(ctx, e); err != nil {
		return fmt.Errorf("failed to append journal entry %d: %w", e.Tick, err)
	}
	return nil
}

// Close flushes and closes the sink. Later calls are no-ops.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.sink.Close()
}

func saveFrame(path string, f schemas.Frame, quality int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := frame.EncodeJPEG(file, f, quality); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
