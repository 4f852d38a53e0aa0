// File: internal/instruction/queue.go
package instruction

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/herobine/api/schemas"
	"go.uber.org/zap"
)

// DefaultCapacity bounds the number of pending instructions.
const DefaultCapacity = 64

// ResetSentinel is the instruction text that resets the agent instead of being queued.
const ResetSentinel = "reset"

// Source is where the control loop reads player instructions from.
type Source interface {
	// Poll returns a snapshot of pending instructions and the one in progress. It never blocks on input.
	Poll(ctx context.Context) (schemas.InstructionSnapshot, error)
	// Promote moves the head of the queue into progress if nothing is in progress.
	// It returns the promoted instruction, or nil when nothing was promoted.
	Promote(ctx context.Context) (*schemas.Instruction, error)
	// Clear drops the in-progress marker. Calling it repeatedly is harmless.
	Clear(ctx context.Context) error
}

// IsReset reports whether text is the reset sentinel, ignoring case and surrounding whitespace.
func IsReset(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), ResetSentinel)
}

// Queue is the in-process instruction queue. It is safe for concurrent use by
// ingress goroutines and the control loop.
type Queue struct {
	mu       sync.Mutex
	pending  []schemas.Instruction
	current  *schemas.Instruction
	resetSeq uint64
	capacity int
	logger   *zap.Logger
	now      func() time.Time
}

// NewQueue creates a queue holding at most capacity pending entries.
func NewQueue(logger *zap.Logger, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		capacity: capacity,
		logger:   logger.Named("instruction_queue"),
		now:      time.Now,
	}
}

// Append records an instruction. The reset sentinel is never enqueued: it drains
// pending entries, clears the in-progress marker and bumps the reset sequence.
// When the queue is full the oldest pending entry is dropped.
// It reports whether the text was treated as a reset.
func (q *Queue) Append(source, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if IsReset(text) {
		q.pending = q.pending[:0]
		q.current = nil
		q.resetSeq++
		q.logger.Info("Reset requested.", zap.String("source", source), zap.Uint64("reset_seq", q.resetSeq))
		return true
	}

	if len(q.pending) >= q.capacity {
		dropped := q.pending[0]
		q.pending = append(q.pending[:0], q.pending[1:]...)
		q.logger.Warn("Instruction queue full, dropping oldest entry.",
			zap.String("dropped", dropped.Text), zap.Int("capacity", q.capacity))
	}
	q.pending = append(q.pending, schemas.Instruction{Source: source, Text: text, Timestamp: q.now()})
	q.logger.Debug("Instruction queued.", zap.String("source", source), zap.String("text", text), zap.Int("pending", len(q.pending)))
	return false
}

// Poll implements Source.
func (q *Queue) Poll(_ context.Context) (schemas.InstructionSnapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked(), nil
}

// Snapshot is Poll without a context.
func (q *Queue) Snapshot() schemas.InstructionSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() schemas.InstructionSnapshot {
	snap := schemas.InstructionSnapshot{
		Pending:  append([]schemas.Instruction(nil), q.pending...),
		ResetSeq: q.resetSeq,
	}
	if snap.Pending == nil {
		snap.Pending = []schemas.Instruction{}
	}
	if q.current != nil {
		cur := *q.current
		snap.Current = &cur
	}
	return snap
}

// Promote implements Source.
func (q *Queue) Promote(_ context.Context) (*schemas.Instruction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil {
		return nil, nil
	}
	for len(q.pending) > 0 {
		head := q.pending[0]
		q.pending = append(q.pending[:0], q.pending[1:]...)
		if IsReset(head.Text) {
			continue
		}
		q.current = &head
		promoted := head
		return &promoted, nil
	}
	return nil, nil
}

// Clear implements Source.
func (q *Queue) Clear(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = nil
	return nil
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
