// File: internal/loop/loop_test.go
package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/env"
	"github.com/xkilldash9x/herobine/internal/frame"
	"github.com/xkilldash9x/herobine/internal/instruction"
	"github.com/xkilldash9x/herobine/internal/journal"
	"github.com/xkilldash9x/herobine/internal/mocks"
	"github.com/xkilldash9x/herobine/internal/policy"
)

const defaultWait = 5 * time.Second

// fakeEnv is a bridge-flavoured environment that answers instantly.
type fakeEnv struct {
	mu             sync.Mutex
	actions        []schemas.BackendAction
	resets         int
	closed         bool
	terminateEvery int
	inEpisode      int
}

func (f *fakeEnv) Backend() schemas.Backend { return schemas.BackendBridge }

func (f *fakeEnv) Reset(context.Context) (schemas.Observation, schemas.Info) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.inEpisode = 0
	return schemas.Observation{Frame: frame.Placeholder(4, 4), Health: 20, Food: 20}, schemas.Info{}
}

func (f *fakeEnv) Step(_ context.Context, a schemas.BackendAction) schemas.StepResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
	f.inEpisode++
	res := schemas.StepResult{
		Observation: schemas.Observation{Frame: frame.Placeholder(4, 4), Health: 19, Position: schemas.Vec3{X: float64(len(f.actions))}},
		Info:        schemas.Info{},
	}
	if f.terminateEvery > 0 && f.inEpisode == f.terminateEvery {
		res.Terminated = true
	}
	return res
}

func (f *fakeEnv) CaptureFrame(context.Context) schemas.Frame { return frame.Placeholder(4, 4) }

func (f *fakeEnv) NoopAction() schemas.BackendAction {
	return schemas.BridgeAction{Type: schemas.BridgeActionNoop}
}

func (f *fakeEnv) Close(context.Context) {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeEnv) snapshot() ([]schemas.BackendAction, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schemas.BackendAction(nil), f.actions...), f.resets, f.closed
}

// memJournal keeps entries in memory.
type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
	fail    bool
	closed  int
}

func (m *memJournal) Record(_ context.Context, e journal.Entry, _ schemas.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memJournal) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	return nil
}

func (m *memJournal) all() []journal.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]journal.Entry(nil), m.entries...)
}

// scriptedPolicy records what the loop tells it.
type scriptedPolicy struct {
	mu           sync.Mutex
	instruction  string
	resets       int
	instructions []string
	err          error
}

func (p *scriptedPolicy) SetInstruction(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instruction = text
	p.instructions = append(p.instructions, text)
}

func (p *scriptedPolicy) Instruction() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instruction
}

func (p *scriptedPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.instruction = ""
}

func (p *scriptedPolicy) Act(context.Context, schemas.Observation) (schemas.NativeAction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.instruction == "" {
		return nil, policy.ErrNoInstruction
	}
	return schemas.NativeAction{"buttons": map[string]any{"forward": 1}, "camera": []any{0, 2}}, nil
}

func (p *scriptedPolicy) resetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

func testConfigs() (config.LoopConfig, config.AgentConfig) {
	cfg := config.NewDefaultConfig()
	return cfg.Loop, cfg.Agent
}

func TestFiftyTicksAtTwentyHz(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := new(mocks.MockEngine)
	engine.On("Forward", mock.Anything, mock.Anything).
		Return([]schemas.NativeAction{{"buttons": map[string]any{"attack": 1}, "camera": []any{0, 3}}}, nil)

	loopCfg, agent := testConfigs()
	loopCfg.FPS = 20
	loopCfg.MaxSteps = 50
	fe, jr := &fakeEnv{}, &memJournal{}
	l := New(fe, instruction.NewQueue(nil, 0), policy.New(engine, 0, agent, nil), jr, loopCfg, agent, zap.NewNop())

	start := time.Now()
	require.NoError(t, l.Run(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 2300*time.Millisecond)
	assert.Less(t, elapsed, 3500*time.Millisecond)
	assert.Len(t, jr.all(), 50)
	assert.Equal(t, 50, l.Ticks())
	assert.Equal(t, StateStopped, l.State())

	actions, resets, closed := fe.snapshot()
	assert.Len(t, actions, 50)
	assert.Equal(t, 1, resets)
	assert.True(t, closed)
	assert.Equal(t, 1, jr.closed)

	first := actions[0].(schemas.BridgeAction)
	assert.Equal(t, schemas.BridgeActionCompound, first.Type)
	assert.Equal(t, []int{0, 3}, first.Camera)
	assert.Equal(t, agent.DefaultInstruction, jr.all()[0].Instruction)
}

func TestChatInstructionLifecycle(t *testing.T) {
	loopCfg, agent := testConfigs()
	loopCfg.FPS = 200
	loopCfg.ChatPollInterval = 5 * time.Millisecond
	agent.Supersede = true
	q := instruction.NewQueue(nil, 0)
	pol := &scriptedPolicy{}
	l := New(&fakeEnv{}, q, pol, nil, loopCfg, agent, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return l.State() == StateRunning }, defaultWait, 5*time.Millisecond)
	assert.Equal(t, agent.DefaultInstruction, pol.Instruction())

	q.Append("alice", "mine stone")
	require.Eventually(t, func() bool { return pol.Instruction() == "mine stone" }, defaultWait, 5*time.Millisecond)
	snap := q.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "alice", snap.Current.Source)
	assert.Empty(t, snap.Pending)

	// A newer instruction supersedes the one in progress.
	q.Append("bob", "build a house")
	require.Eventually(t, func() bool { return pol.Instruction() == "build a house" }, defaultWait, 5*time.Millisecond)
	assert.Equal(t, "bob", q.Snapshot().Current.Source)

	resetsBefore := pol.resetCount()
	q.Append("alice", " RESET ")
	require.Eventually(t, func() bool { return pol.Instruction() == agent.DefaultInstruction }, defaultWait, 5*time.Millisecond)
	assert.Greater(t, pol.resetCount(), resetsBefore)
	assert.Nil(t, q.Snapshot().Current)
	assert.Equal(t, agent.DefaultInstruction, l.Episode().Instruction)

	cancel()
	require.NoError(t, <-done)
}

func TestNoSupersedeKeepsCurrent(t *testing.T) {
	loopCfg, agent := testConfigs()
	loopCfg.FPS = 200
	loopCfg.ChatPollInterval = 5 * time.Millisecond
	q := instruction.NewQueue(nil, 0)
	pol := &scriptedPolicy{}
	l := New(&fakeEnv{}, q, pol, nil, loopCfg, agent, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	q.Append("alice", "mine stone")
	require.Eventually(t, func() bool { return pol.Instruction() == "mine stone" }, defaultWait, 5*time.Millisecond)
	q.Append("bob", "build a house")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "mine stone", pol.Instruction())
	assert.Equal(t, 1, q.Len())

	// Clearing the current instruction from outside counts as a reset; the next poll
	// then promotes bob's instruction.
	require.NoError(t, q.Clear(context.Background()))
	require.Eventually(t, func() bool { return pol.Instruction() == "build a house" }, defaultWait, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestTerminationStartsFreshEpisode(t *testing.T) {
	loopCfg, agent := testConfigs()
	loopCfg.FPS = 1000
	loopCfg.MaxSteps = 7
	fe, jr, pol := &fakeEnv{terminateEvery: 3}, &memJournal{}, &scriptedPolicy{}
	l := New(fe, instruction.NewQueue(nil, 0), pol, jr, loopCfg, agent, nil)

	require.NoError(t, l.Run(context.Background()))

	entries := jr.all()
	require.Len(t, entries, 7)
	var steps, episodes []int
	for _, e := range entries {
		steps = append(steps, e.EpisodeStep)
		episodes = append(episodes, e.Episode)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, steps)
	assert.Equal(t, []int{1, 1, 1, 2, 2, 2, 3}, episodes)
	for i, e := range entries {
		assert.Equal(t, i, e.Tick)
	}

	_, resets, _ := fe.snapshot()
	assert.Equal(t, 3, resets)
	assert.Equal(t, 2, pol.resetCount())
	assert.Equal(t, agent.DefaultInstruction, pol.Instruction(), "the task survives the episode boundary")
	assert.Equal(t, 1, l.Episode().StepCount)
}

func TestPolicyFailureSendsNoop(t *testing.T) {
	loopCfg, agent := testConfigs()
	loopCfg.FPS = 1000
	loopCfg.MaxSteps = 3
	core, logs := observer.New(zapcore.ErrorLevel)
	fe, jr := &fakeEnv{}, &memJournal{}
	pol := &scriptedPolicy{err: errors.New("inference timeout")}
	l := New(fe, instruction.NewQueue(nil, 0), pol, jr, loopCfg, agent, zap.New(core))

	require.NoError(t, l.Run(context.Background()))

	actions, _, _ := fe.snapshot()
	require.Len(t, actions, 3)
	for _, a := range actions {
		assert.Equal(t, schemas.BridgeAction{Type: schemas.BridgeActionNoop}, a)
	}
	assert.Empty(t, jr.all(), "no-op ticks are not journaled")
	assert.Equal(t, 3, logs.FilterMessage("Policy failed, sending no-op.").Len())
}

func TestJournalFailureDoesNotAbortTick(t *testing.T) {
	loopCfg, agent := testConfigs()
	loopCfg.FPS = 1000
	loopCfg.MaxSteps = 4
	core, logs := observer.New(zapcore.WarnLevel)
	fe := &fakeEnv{}
	l := New(fe, instruction.NewQueue(nil, 0), &scriptedPolicy{}, &memJournal{fail: true}, loopCfg, agent, zap.New(core))

	require.NoError(t, l.Run(context.Background()))
	actions, _, _ := fe.snapshot()
	assert.Len(t, actions, 4)
	assert.Equal(t, 4, logs.FilterMessage("Journal write failed.").Len())
}

func TestNoPolicySendsNoop(t *testing.T) {
	loopCfg, agent := testConfigs()
	loopCfg.FPS = 1000
	loopCfg.MaxSteps = 2
	fe := &fakeEnv{}
	l := New(fe, instruction.NewQueue(nil, 0), nil, nil, loopCfg, agent, nil)

	require.NoError(t, l.Run(context.Background()))
	actions, _, closed := fe.snapshot()
	assert.Len(t, actions, 2)
	assert.True(t, closed)
}

func TestSourceFailuresAreSoft(t *testing.T) {
	loopCfg, agent := testConfigs()
	loopCfg.FPS = 1000
	loopCfg.MaxSteps = 20
	loopCfg.ChatPollInterval = time.Millisecond

	src := new(mocks.MockSource)
	src.On("Poll", mock.Anything).Return(schemas.InstructionSnapshot{}, errors.New("bridge down"))
	core, logs := observer.New(zapcore.WarnLevel)
	fe := &fakeEnv{}
	l := New(fe, src, &scriptedPolicy{}, nil, loopCfg, agent, zap.New(core))

	require.NoError(t, l.Run(context.Background()))
	actions, _, _ := fe.snapshot()
	assert.Len(t, actions, 20)
	assert.Positive(t, logs.FilterMessage("Instruction poll failed.").Len())
	src.AssertNotCalled(t, "Promote", mock.Anything)
}

// bridgeSource imitates the bridge's chat queue, which drains itself on reset.
type bridgeSource struct {
	mu      sync.Mutex
	pending []schemas.Instruction
	current *schemas.Instruction
	clears  int
}

func (b *bridgeSource) Poll(context.Context) (schemas.InstructionSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return schemas.InstructionSnapshot{Pending: append([]schemas.Instruction{}, b.pending...), Current: b.current}, nil
}

func (b *bridgeSource) Promote(context.Context) (*schemas.Instruction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil || len(b.pending) == 0 {
		return nil, nil
	}
	ins := b.pending[0]
	b.pending = b.pending[1:]
	b.current = &ins
	return &ins, nil
}

func (b *bridgeSource) Clear(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = nil
	b.clears++
	return nil
}

func (b *bridgeSource) chat(ins schemas.Instruction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, ins)
}

func (b *bridgeSource) drain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending, b.current = nil, nil
}

func TestRemoteResetRestoresDefault(t *testing.T) {
	loopCfg, agent := testConfigs()
	loopCfg.FPS = 200
	loopCfg.ChatPollInterval = 5 * time.Millisecond
	src, pol := &bridgeSource{}, &scriptedPolicy{}
	l := New(&fakeEnv{}, src, pol, nil, loopCfg, agent, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	src.chat(schemas.Instruction{Source: "alice", Text: "mine stone"})
	require.Eventually(t, func() bool { return pol.Instruction() == "mine stone" }, defaultWait, 5*time.Millisecond)

	src.drain()
	require.Eventually(t, func() bool { return pol.Instruction() == agent.DefaultInstruction }, defaultWait, 5*time.Millisecond)
	assert.GreaterOrEqual(t, pol.resetCount(), 1)

	cancel()
	require.NoError(t, <-done)
}

func TestStopIsPrompt(t *testing.T) {
	defer goleak.VerifyNone(t)

	loopCfg, agent := testConfigs()
	loopCfg.FPS = 1
	fe := &fakeEnv{}
	l := New(fe, instruction.NewQueue(nil, 0), &scriptedPolicy{}, nil, loopCfg, agent, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	require.Eventually(t, func() bool { return l.Ticks() >= 1 }, defaultWait, 5*time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(defaultWait):
		t.Fatal("loop did not stop")
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond, "the inter-tick sleep observes cancellation")
	_, _, closed := fe.snapshot()
	assert.True(t, closed)
}

// stallingEnv records when each actuation starts. The first one blocks for stall.
type stallingEnv struct {
	*fakeEnv
	stall time.Duration

	mu sync.Mutex
	at []time.Time
}

func (s *stallingEnv) Step(ctx context.Context, a schemas.BackendAction) schemas.StepResult {
	s.mu.Lock()
	first := len(s.at) == 0
	s.at = append(s.at, time.Now())
	s.mu.Unlock()
	if first {
		time.Sleep(s.stall)
	}
	return s.fakeEnv.Step(ctx, a)
}

func (s *stallingEnv) starts() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.at...)
}

func TestSlowStepIsNotCaughtUp(t *testing.T) {
	loopCfg, agent := testConfigs()
	loopCfg.FPS = 20
	loopCfg.MaxSteps = 5
	se := &stallingEnv{fakeEnv: &fakeEnv{}, stall: 200 * time.Millisecond}
	l := New(se, instruction.NewQueue(nil, 0), &scriptedPolicy{}, nil, loopCfg, agent, nil)

	require.NoError(t, l.Run(context.Background()))

	starts := se.starts()
	require.Len(t, starts, 5)
	assert.GreaterOrEqual(t, starts[1].Sub(starts[0]), 200*time.Millisecond)
	// The overrun is absorbed by the slow tick; later ticks keep the normal spacing.
	for i := 2; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 40*time.Millisecond, "tick %d started early", i)
	}
}

func TestStatusSummary(t *testing.T) {
	loopCfg, agent := testConfigs()
	loopCfg.FPS = 1000
	loopCfg.MaxSteps = 4
	loopCfg.SummaryEvery = 2
	agent.DefaultInstruction = "gather wood, craft a table, then build a small shelter"
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(&fakeEnv{}, instruction.NewQueue(nil, 0), &scriptedPolicy{}, nil, loopCfg, agent, zap.New(core))

	require.NoError(t, l.Run(context.Background()))

	status := logs.FilterMessage("Status.").All()
	require.Len(t, status, 2)

	fields := status[0].ContextMap()
	assert.Equal(t, int64(2), fields["tick"])
	assert.Equal(t, int64(1), fields["episode"])
	assert.Equal(t, 19.0, fields["health"])
	assert.Equal(t, 2.0, fields["x"])
	assert.Equal(t, 0.0, fields["y"])
	assert.Equal(t, 0.0, fields["z"])
	assert.Equal(t, "gather wood, craft a table, then build a...", fields["task"])
	assert.Greater(t, fields["fps"], 0.0)

	assert.Equal(t, int64(4), status[1].ContextMap()["tick"])
	assert.Equal(t, 4.0, status[1].ContextMap()["x"])
}

func TestSummaryDisabled(t *testing.T) {
	loopCfg, agent := testConfigs()
	loopCfg.FPS = 1000
	loopCfg.MaxSteps = 3
	loopCfg.SummaryEvery = 0
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(&fakeEnv{}, instruction.NewQueue(nil, 0), &scriptedPolicy{}, nil, loopCfg, agent, zap.New(core))

	require.NoError(t, l.Run(context.Background()))
	assert.Zero(t, logs.FilterMessage("Status.").Len())
}

func TestFailedStepsAreCounted(t *testing.T) {
	loopCfg, agent := testConfigs()
	loopCfg.FPS = 1000
	loopCfg.MaxSteps = 3
	placeholder := schemas.Observation{Frame: frame.Placeholder(4, 4), Health: schemas.DefaultHealth}
	live := schemas.StepResult{
		Observation: schemas.Observation{Frame: frame.Placeholder(4, 4), Health: 20},
		Info:        schemas.Info{},
	}

	me := new(mocks.MockEnvironment)
	me.On("Backend").Return(schemas.BackendBridge)
	me.On("Reset", mock.Anything).Return(placeholder, schemas.Info{})
	me.On("CaptureFrame", mock.Anything).Return(frame.Placeholder(4, 4))
	me.On("NoopAction").Return(schemas.BridgeAction{Type: schemas.BridgeActionNoop})
	me.On("Step", mock.Anything, mock.Anything).Return(env.FailedStep(placeholder)).Twice()
	me.On("Step", mock.Anything, mock.Anything).Return(live).Once()
	me.On("Close", mock.Anything).Return()

	rec := new(mocks.MockRecorder)
	rec.On("Record", mock.Anything, mock.AnythingOfType("journal.Entry"), mock.AnythingOfType("schemas.Frame")).Return(nil)
	rec.On("Close").Return(nil).Once()

	l := New(me, instruction.NewQueue(nil, 0), &scriptedPolicy{}, rec, loopCfg, agent, nil)
	require.NoError(t, l.Run(context.Background()))

	ep := l.Episode()
	assert.Equal(t, 3, ep.StepCount, "failed actuations still count as steps")
	assert.Equal(t, 2, ep.FailedSteps)
	me.AssertNumberOfCalls(t, "Step", 3)
	me.AssertCalled(t, "Close", mock.Anything)
	rec.AssertNumberOfCalls(t, "Record", 3)
	rec.AssertExpectations(t)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INITIALIZING", StateInitializing.String())
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "STOPPED", StateStopped.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
