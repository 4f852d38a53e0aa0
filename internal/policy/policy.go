// File: internal/policy/policy.go
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/inference"
)

// ErrNoInstruction is returned by Act when no instruction has been set.
var ErrNoInstruction = errors.New("instruction not set")

// Policy keeps the agent-side state between ticks: the active instruction, the
// recent frame history and any actions predicted ahead of time.
type Policy struct {
	engine     inference.Engine
	historyNum int
	agent      config.AgentConfig
	logger     *zap.Logger

	mu          sync.Mutex
	instruction string
	history     []schemas.Frame
	chunk       []schemas.NativeAction
}

// New wraps engine. historyNum is the number of past frames sent alongside the current one.
func New(engine inference.Engine, historyNum int, agent config.AgentConfig, logger *zap.Logger) *Policy {
	if historyNum < 0 {
		historyNum = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		engine:     engine,
		historyNum: historyNum,
		agent:      agent,
		logger:     logger.Named("policy"),
	}
}

// SetInstruction changes the active instruction. Actions predicted for the previous
// instruction are discarded.
func (p *Policy) SetInstruction(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if text == p.instruction {
		return
	}
	p.instruction = text
	p.chunk = nil
	p.logger.Info("Instruction set.", zap.String("instruction", text))
}

// Instruction returns the active instruction, or "" when none is set.
func (p *Policy) Instruction() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instruction
}

// Reset drops the instruction, frame history and pending actions.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instruction = ""
	p.history = nil
	p.chunk = nil
}

// Act returns the next native action for obs. Predicted actions are consumed one
// per call before the engine is asked again.
func (p *Policy) Act(ctx context.Context, obs schemas.Observation) (schemas.NativeAction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.instruction == "" {
		return nil, ErrNoInstruction
	}

	p.history = append(p.history, obs.Frame)
	if over := len(p.history) - (p.historyNum + 1); over > 0 {
		p.history = append(p.history[:0], p.history[over:]...)
	}

	if len(p.chunk) == 0 {
		frames := make([]schemas.Frame, len(p.history))
		copy(frames, p.history)
		actions, err := p.engine.Forward(ctx, inference.Request{
			Frames:            frames,
			Instructions:      []string{p.instruction},
			Verbose:           p.agent.Verbose,
			NeedCraftingTable: p.agent.NeedCraftingTable,
		})
		if err != nil {
			return nil, fmt.Errorf("forward pass failed: %w", err)
		}
		if len(actions) == 0 {
			return nil, inference.ErrEmptyAction
		}
		p.chunk = actions
	}

	next := p.chunk[0]
	p.chunk = p.chunk[1:]
	return next, nil
}
