// File: internal/env/sim/sim.go
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/env"
	"github.com/xkilldash9x/herobine/internal/observation"
)

// Simulator operations.
const (
	OpReset           = "reset"
	OpStep            = "step"
	OpMakeInteractive = "make_interactive"
	OpClose           = "close"
)

// Action types understood by the simulator. Scripted "env" actions are used until
// the first reset, after which the agent vocabulary is selected.
const (
	ActionTypeEnv   = "env"
	ActionTypeAgent = "agent"
)

const closeTimeout = 2 * time.Second

// Request is one call sent to the simulator.
type Request struct {
	ID         uint64               `json:"id"`
	Op         string               `json:"op"`
	Action     schemas.NativeAction `json:"action,omitempty"`
	ActionType string               `json:"action_type,omitempty"`
	Seed       int64                `json:"seed,omitempty"`
	Port       int                  `json:"port,omitempty"`
	Realtime   bool                 `json:"realtime,omitempty"`
	MaxPlayers int                  `json:"max_players,omitempty"`
}

// Response is the simulator's answer to the Request with the same ID.
type Response struct {
	ID         uint64         `json:"id"`
	OK         bool           `json:"ok"`
	Error      string         `json:"error,omitempty"`
	Obs        map[string]any `json:"obs,omitempty"`
	Info       map[string]any `json:"info,omitempty"`
	Reward     float64        `json:"reward"`
	Terminated bool           `json:"terminated"`
	Truncated  bool           `json:"truncated"`
}

// Env drives a character inside the full-client simulation over a websocket.
// The connection is dialed lazily and dropped on any error so that the next call redials.
type Env struct {
	cfg        config.SimConfig
	normalizer *observation.Normalizer
	dialer     *websocket.Dialer
	logger     *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	nextID      uint64
	actionType  string
	interactive bool
	lastFrame   schemas.Frame
}

var _ env.Environment = (*Env)(nil)

// New creates a simulation adapter.
func New(cfg config.SimConfig, normalizer *observation.Normalizer, logger *zap.Logger) *Env {
	if logger == nil {
		logger = zap.NewNop()
	}
	h, w := normalizer.FrameSize()
	return &Env{
		cfg:        cfg,
		normalizer: normalizer,
		dialer:     &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		logger:     logger.Named("sim_env"),
		actionType: ActionTypeEnv,
		lastFrame:  schemas.NewBlackFrame(h, w),
	}
}

// Backend implements env.Environment.
func (e *Env) Backend() schemas.Backend { return schemas.BackendSim }

// Reset implements env.Environment. The first successful reset switches the simulator
// to agent actions and, when an interactive port is configured, opens the world to
// human players.
func (e *Env) Reset(ctx context.Context) (schemas.Observation, schemas.Info) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp, err := e.callLocked(ctx, Request{Op: OpReset, Seed: e.cfg.Seed}, e.cfg.ResetTimeout)
	if err != nil {
		e.logger.Warn("Reset failed.", zap.Error(err))
		return e.normalizer.Placeholder(), schemas.Info{}
	}

	obs := e.normalizer.Normalize(observation.SimRaw{Obs: resp.Obs, Info: resp.Info})
	e.lastFrame = obs.Frame

	if !e.interactive && e.cfg.InteractivePort > 0 {
		e.makeInteractiveLocked(ctx)
	}
	if e.actionType != ActionTypeAgent {
		e.actionType = ActionTypeAgent
		e.logger.Debug("Switched to agent actions.")
	}
	return obs, info(resp.Info)
}

func (e *Env) makeInteractiveLocked(ctx context.Context) {
	req := Request{Op: OpMakeInteractive, Port: e.cfg.InteractivePort, Realtime: e.cfg.Realtime, MaxPlayers: e.cfg.MaxPlayers}
	if _, err := e.callLocked(ctx, req, e.cfg.ResetTimeout); err != nil {
		e.logger.Warn("Could not open the world to players.", zap.Int("port", e.cfg.InteractivePort), zap.Error(err))
		return
	}
	e.interactive = true
	e.logger.Info("World open to players.", zap.Int("port", e.cfg.InteractivePort), zap.Bool("realtime", e.cfg.Realtime))
}

// Step implements env.Environment. Reward and termination flags are forwarded as reported.
func (e *Env) Step(ctx context.Context, action schemas.BackendAction) schemas.StepResult {
	payload, ok := action.(schemas.SimAction)
	if !ok {
		e.logger.Warn("Non-simulation action submitted; sending a no-op instead.", zap.Any("action", action))
		payload = noopAction()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	resp, err := e.callLocked(ctx, Request{Op: OpStep, Action: payload.Payload, ActionType: e.actionType}, e.cfg.ActionTimeout)
	if err != nil {
		e.logger.Warn("Step failed.", zap.Error(err))
		return env.FailedStep(e.normalizer.Placeholder())
	}

	obs := e.normalizer.Normalize(observation.SimRaw{Obs: resp.Obs, Info: resp.Info})
	e.lastFrame = obs.Frame
	return schemas.StepResult{
		Observation: obs,
		Reward:      resp.Reward,
		Terminated:  resp.Terminated,
		Truncated:   resp.Truncated,
		Info:        info(resp.Info),
	}
}

// CaptureFrame implements env.Environment. It returns the view from the latest
// observation; the simulator renders a frame with every step.
func (e *Env) CaptureFrame(_ context.Context) schemas.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFrame
}

func noopAction() schemas.SimAction {
	return schemas.SimAction{Payload: schemas.NativeAction{"buttons": []any{0}, "camera": []any{60}}}
}

// NoopAction implements env.Environment.
func (e *Env) NoopAction() schemas.BackendAction { return noopAction() }

// Close implements env.Environment.
func (e *Env) Close(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return
	}
	if _, err := e.callLocked(ctx, Request{Op: OpClose}, closeTimeout); err != nil {
		e.logger.Debug("Simulator close failed.", zap.Error(err))
	}
	e.dropLocked()
}

// callLocked sends req and waits for the matching response. Responses to earlier,
// abandoned requests are discarded.
func (e *Env) callLocked(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := e.connLocked(ctx)
	if err != nil {
		return nil, err
	}

	e.nextID++
	req.ID = e.nextID
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", req.Op, err)
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		e.dropLocked()
		return nil, fmt.Errorf("failed to send %s: %w", req.Op, err)
	}

	// Unblock the read if the caller's context ends before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()
	_ = conn.SetReadDeadline(deadline)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			e.dropLocked()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%s timed out: %w", req.Op, ctxErr)
			}
			return nil, fmt.Errorf("failed to read %s response: %w", req.Op, err)
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			e.dropLocked()
			return nil, fmt.Errorf("malformed %s response: %w", req.Op, err)
		}
		if resp.ID != req.ID {
			continue
		}
		if !resp.OK {
			return nil, fmt.Errorf("simulator rejected %s: %s", req.Op, resp.Error)
		}
		return &resp, nil
	}
}

func (e *Env) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if e.conn != nil {
		return e.conn, nil
	}
	if e.cfg.Endpoint == "" {
		return nil, env.ErrNotConnected
	}
	conn, _, err := e.dialer.DialContext(ctx, e.cfg.Endpoint, nil)
	if err != nil {
		return nil, errors.Join(env.ErrNotConnected, fmt.Errorf("dial %s: %w", e.cfg.Endpoint, err))
	}
	e.logger.Info("Connected to simulator.", zap.String("endpoint", e.cfg.Endpoint))
	e.conn = conn
	return conn, nil
}

func (e *Env) dropLocked() {
	if e.conn == nil {
		return
	}
	_ = e.conn.Close()
	e.conn = nil
}

func info(raw map[string]any) schemas.Info {
	if raw == nil {
		return schemas.Info{}
	}
	return schemas.Info(raw)
}
