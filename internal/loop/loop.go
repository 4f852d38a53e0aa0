// File: internal/loop/loop.go
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/action"
	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/env"
	"github.com/xkilldash9x/herobine/internal/instruction"
	"github.com/xkilldash9x/herobine/internal/journal"
)

const (
	closeTimeout      = 5 * time.Second
	summaryTaskLength = 40
)

// State is the lifecycle stage of a Loop.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Policy decides the next native action.
type Policy interface {
	SetInstruction(text string)
	Instruction() string
	Reset()
	Act(ctx context.Context, obs schemas.Observation) (schemas.NativeAction, error)
}

// Journal is the append-only record of ticks that produced a policy action.
type Journal interface {
	Record(ctx context.Context, e journal.Entry, f schemas.Frame) error
	Close() error
}

// Episode is the state of the current episode. StepCount counts every actuation
// attempt; FailedSteps is the subset that never reached the backend.
type Episode struct {
	ID          string
	Index       int
	StepCount   int
	FailedSteps int
	Instruction string
	Running     bool
}

// Loop drives an environment at a fixed tick rate. Policy and Journal are optional.
type Loop struct {
	env     env.Environment
	source  instruction.Source
	policy  Policy
	journal Journal
	cfg     config.LoopConfig
	agent   config.AgentConfig
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	state   State
	episode Episode
	ticks   int

	// Instruction bookkeeping; only touched by the loop goroutine.
	instruction  string
	queued       bool
	lastResetSeq uint64
	lastObs      schemas.Observation
}

// New creates a loop. A nil policy sends no-ops; a nil journal records nothing.
func New(e env.Environment, source instruction.Source, policy Policy, jr Journal, cfg config.LoopConfig, agent config.AgentConfig, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		env:     e,
		source:  source,
		policy:  policy,
		journal: jr,
		cfg:     cfg,
		agent:   agent,
		logger:  logger.Named("loop"),
		now:     time.Now,
	}
}

// State returns the current lifecycle stage.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Episode returns a copy of the current episode state.
func (l *Loop) Episode() Episode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.episode
}

// Ticks returns how many ticks have completed.
func (l *Loop) Ticks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	l.logger.Debug("State changed.", zap.Stringer("state", s))
}

// Run resets the environment and ticks until ctx is done or the step ceiling is
// reached. The environment and journal are closed before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(StateInitializing)
	defer l.shutdown()

	obs, _ := l.env.Reset(ctx)
	l.lastObs = obs
	l.setInstruction(l.agent.DefaultInstruction)
	l.startEpisode()
	l.setState(StateRunning)

	interval := l.cfg.TickInterval()
	pollEvery := l.cfg.ChatPollInterval
	if pollEvery <= 0 {
		pollEvery = time.Second
	}
	poll := rate.NewLimiter(rate.Every(pollEvery), 1)

	l.logger.Info("Control loop started.",
		zap.String("backend", string(l.env.Backend())),
		zap.Int("fps", l.cfg.FPS),
		zap.Int("max_steps", l.cfg.MaxSteps),
		zap.Bool("policy", l.policy != nil),
		zap.String("instruction", l.instruction))

	windowStart, windowTicks := l.now(), 0
	for {
		if ctx.Err() != nil {
			l.logger.Info("Stop requested.", zap.Int("ticks", l.Ticks()))
			return nil
		}
		if l.cfg.MaxSteps > 0 && l.Ticks() >= l.cfg.MaxSteps {
			l.logger.Info("Reached max steps.", zap.Int("max_steps", l.cfg.MaxSteps))
			return nil
		}

		start := l.now()
		if l.source != nil && poll.Allow() {
			l.pollInstructions(ctx)
		}
		l.tick(ctx)

		windowTicks++
		if every := l.cfg.SummaryEvery; every > 0 && l.Ticks()%every == 0 {
			elapsed := l.now().Sub(windowStart)
			l.summary(windowTicks, elapsed)
			windowStart, windowTicks = l.now(), 0
		}

		if wait := interval - l.now().Sub(start); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}
	}
}

// tick runs one observe, decide, act cycle.
func (l *Loop) tick(ctx context.Context) {
	tickIndex := l.Ticks()
	obs := env.MergeFrame(l.lastObs, l.env.CaptureFrame(ctx))

	backendAction := l.env.NoopAction()
	var native schemas.NativeAction
	if l.policy != nil {
		a, err := l.policy.Act(ctx, obs)
		if err != nil {
			l.logger.Error("Policy failed, sending no-op.",
				zap.Int("tick", tickIndex),
				zap.String("instruction", l.instruction),
				zap.Error(err))
		} else {
			native = a
			backendAction = action.Translate(a, l.env.Backend())
		}
	}

	res := l.env.Step(ctx, backendAction)

	l.mu.Lock()
	l.ticks++
	l.episode.StepCount++
	if res.Failed {
		l.episode.FailedSteps++
	}
	ep := l.episode
	l.mu.Unlock()

	if native != nil && l.journal != nil {
		entry := journal.Entry{
			Tick:        tickIndex,
			Episode:     ep.Index,
			EpisodeStep: ep.StepCount - 1,
			Timestamp:   l.now(),
			Instruction: l.instruction,
			Health:      obs.Health,
			Food:        obs.Food,
			Position:    obs.Position,
			Action:      native,
		}
		if err := l.journal.Record(ctx, entry, obs.Frame); err != nil {
			l.logger.Warn("Journal write failed.", zap.Int("tick", tickIndex), zap.Error(err))
		}
	}
	if l.agent.Verbose && native != nil {
		l.logger.Info("Action.", zap.Int("tick", tickIndex), zap.Any("action", native))
	}

	l.lastObs = res.Observation
	if res.Done() {
		l.logger.Info("Episode ended, resetting.",
			zap.Int("episode", ep.Index),
			zap.Int("steps", ep.StepCount),
			zap.Int("failed_steps", ep.FailedSteps),
			zap.Bool("terminated", res.Terminated),
			zap.Bool("truncated", res.Truncated))
		obs, _ := l.env.Reset(ctx)
		l.lastObs = obs
		if l.policy != nil {
			l.policy.Reset()
			l.policy.SetInstruction(l.instruction)
		}
		l.startEpisode()
	}
}

func (l *Loop) startEpisode() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.episode = Episode{
		ID:          uuid.NewString(),
		Index:       l.episode.Index + 1,
		Instruction: l.instruction,
		Running:     true,
	}
	l.logger.Debug("Episode started.", zap.String("episode_id", l.episode.ID), zap.Int("episode", l.episode.Index))
}

func (l *Loop) setInstruction(text string) {
	l.instruction = text
	l.mu.Lock()
	l.episode.Instruction = text
	l.mu.Unlock()
	if l.policy != nil {
		l.policy.SetInstruction(text)
	}
}

// pollInstructions reconciles the loop with the instruction source: resets first,
// then promotion of the next pending instruction.
func (l *Loop) pollInstructions(ctx context.Context) {
	snap, err := l.source.Poll(ctx)
	if err != nil {
		l.logger.Warn("Instruction poll failed.", zap.Int("tick", l.Ticks()), zap.Error(err))
		return
	}

	if l.resetRequested(snap) {
		l.reset(ctx)
		return
	}
	if len(snap.Pending) == 0 {
		return
	}

	if snap.Current != nil {
		if !l.agent.Supersede {
			return
		}
		if err := l.source.Clear(ctx); err != nil {
			l.logger.Warn("Could not clear the instruction in progress.", zap.Error(err))
			return
		}
	}

	ins, err := l.source.Promote(ctx)
	if err != nil {
		l.logger.Warn("Instruction promote failed.", zap.Int("tick", l.Ticks()), zap.Error(err))
		return
	}
	if ins == nil {
		return
	}
	l.logger.Info("New task.", zap.String("from", ins.Source), zap.String("instruction", ins.Text))
	l.queued = true
	l.setInstruction(ins.Text)
}

func (l *Loop) resetRequested(snap schemas.InstructionSnapshot) bool {
	if snap.ResetSeq != l.lastResetSeq {
		l.lastResetSeq = snap.ResetSeq
		return true
	}
	for _, p := range snap.Pending {
		if instruction.IsReset(p.Text) {
			return true
		}
	}
	// The instruction we were working on vanished without a reset sequence bump:
	// the source was cleared or reset behind our back.
	return l.queued && snap.Current == nil
}

func (l *Loop) reset(ctx context.Context) {
	l.logger.Info("Reset received, restoring the default instruction.", zap.String("instruction", l.agent.DefaultInstruction))
	if l.policy != nil {
		l.policy.Reset()
	}
	if err := l.source.Clear(ctx); err != nil {
		l.logger.Warn("Could not clear the instruction in progress.", zap.Error(err))
	}
	l.queued = false
	l.setInstruction(l.agent.DefaultInstruction)
}

func (l *Loop) summary(ticks int, elapsed time.Duration) {
	fps := 0.0
	if elapsed > 0 {
		fps = float64(ticks) / elapsed.Seconds()
	}
	obs := l.lastObs
	l.logger.Info("Status.",
		zap.Int("tick", l.Ticks()),
		zap.Int("episode", l.Episode().Index),
		zap.Float64("health", obs.Health),
		zap.Float64("x", obs.Position.X),
		zap.Float64("y", obs.Position.Y),
		zap.Float64("z", obs.Position.Z),
		zap.String("task", journal.Truncate(l.instruction, summaryTaskLength)),
		zap.Float64("fps", fps))
}

func (l *Loop) shutdown() {
	l.setState(StateStopped)
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	l.env.Close(ctx)
	if l.journal != nil {
		if err := l.journal.Close(); err != nil {
			l.logger.Warn("Journal close failed.", zap.Error(err))
		}
	}
	l.mu.Lock()
	l.episode.Running = false
	l.mu.Unlock()
	l.logger.Info("Control loop stopped.", zap.Int("ticks", l.ticks))
}
