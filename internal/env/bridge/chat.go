// File: internal/env/bridge/chat.go
package bridge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/instruction"
)

// chatEntry is an instruction as queued by the bridge; the timestamp is epoch milliseconds.
type chatEntry struct {
	Username  string  `json:"username"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

func (c chatEntry) toInstruction() schemas.Instruction {
	ins := schemas.Instruction{Source: c.Username, Text: c.Message}
	if c.Timestamp > 0 {
		ins.Timestamp = time.UnixMilli(int64(c.Timestamp))
	}
	return ins
}

type chatInstructionsResponse struct {
	Success      bool        `json:"success"`
	Instructions []chatEntry `json:"instructions"`
	Current      *chatEntry  `json:"current"`
}

type startInstructionResponse struct {
	Success     bool       `json:"success"`
	Instruction *chatEntry `json:"instruction"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// ChatSource reads player instructions from the queue held by the bridge process.
// The bridge drains its own queue on a "reset" chat message, so resets surface as
// a disappearing in-progress instruction rather than as a sequence bump.
type ChatSource struct {
	env *Env
}

var _ instruction.Source = (*ChatSource)(nil)

// ChatSource returns the instruction source backed by this bridge.
func (e *Env) ChatSource() *ChatSource {
	return &ChatSource{env: e}
}

// Poll implements instruction.Source.
func (s *ChatSource) Poll(ctx context.Context) (schemas.InstructionSnapshot, error) {
	var resp chatInstructionsResponse
	if err := s.env.client.PostJSON(ctx, s.env.url("/chat/instructions"), s.env.cfg.ChatTimeout, nil, &resp); err != nil {
		return schemas.InstructionSnapshot{}, fmt.Errorf("failed to poll chat instructions: %w", err)
	}
	if !resp.Success {
		return schemas.InstructionSnapshot{}, fmt.Errorf("bridge reported chat poll failure")
	}

	snap := schemas.InstructionSnapshot{Pending: make([]schemas.Instruction, 0, len(resp.Instructions))}
	for _, entry := range resp.Instructions {
		snap.Pending = append(snap.Pending, entry.toInstruction())
	}
	if resp.Current != nil {
		cur := resp.Current.toInstruction()
		snap.Current = &cur
	}
	return snap, nil
}

// Promote implements instruction.Source. The bridge starts the head of its queue
// unconditionally, so the in-progress check happens here first.
func (s *ChatSource) Promote(ctx context.Context) (*schemas.Instruction, error) {
	snap, err := s.Poll(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Current != nil || len(snap.Pending) == 0 {
		return nil, nil
	}

	var resp startInstructionResponse
	if err := s.env.client.PostJSON(ctx, s.env.url("/chat/start_instruction"), s.env.cfg.ChatTimeout, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to start chat instruction: %w", err)
	}
	if !resp.Success || resp.Instruction == nil {
		return nil, nil
	}
	ins := resp.Instruction.toInstruction()
	s.env.logger.Info("New task from chat.", zap.String("username", ins.Source), zap.String("instruction", ins.Text))
	return &ins, nil
}

// Clear implements instruction.Source.
func (s *ChatSource) Clear(ctx context.Context) error {
	var resp successResponse
	if err := s.env.client.PostJSON(ctx, s.env.url("/chat/clear_instruction"), s.env.cfg.ChatTimeout, nil, &resp); err != nil {
		return fmt.Errorf("failed to clear chat instruction: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("bridge refused to clear the current instruction")
	}
	return nil
}
