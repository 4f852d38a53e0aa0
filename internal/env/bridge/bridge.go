// File: internal/env/bridge/bridge.go
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/env"
	"github.com/xkilldash9x/herobine/internal/frame"
	"github.com/xkilldash9x/herobine/internal/network"
	"github.com/xkilldash9x/herobine/internal/observation"
)

// Timeouts for calls that have no dedicated configuration.
const (
	statusTimeout    = 2 * time.Second
	closeTimeout     = 2 * time.Second
	defaultSpawnWait = 15 * time.Second
)

type initRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
}

type statusResponse struct {
	Connected bool   `json:"connected"`
	Username  string `json:"username"`
}

type viewerStatusResponse struct {
	ViewerReady bool `json:"viewerReady"`
}

type observationResponse struct {
	Success     *bool          `json:"success"`
	Error       string         `json:"error"`
	Observation map[string]any `json:"observation"`
}

type screenshotResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Image   string `json:"image"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// Env drives a character through the automation bridge's HTTP API.
type Env struct {
	cfg        config.BridgeConfig
	baseURL    string
	client     *network.Client
	normalizer *observation.Normalizer
	logger     *zap.Logger
}

var _ env.Environment = (*Env)(nil)

// New creates a bridge adapter. Nothing is contacted until Init or Reset.
func New(cfg config.BridgeConfig, normalizer *observation.Normalizer, client *network.Client, logger *zap.Logger) *Env {
	if client == nil {
		client = network.NewClient(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Env{
		cfg:        cfg,
		baseURL:    cfg.URL(),
		client:     client,
		normalizer: normalizer,
		logger:     logger.Named("bridge_env"),
	}
}

// Backend implements env.Environment.
func (e *Env) Backend() schemas.Backend { return schemas.BackendBridge }

// Init asks the bridge to connect the bot to the game server and waits until the
// bot reports itself connected or cfg.SpawnWait elapses. A bot that is not yet
// connected is reported as an error; the caller decides whether that matters.
func (e *Env) Init(ctx context.Context) error {
	req := initRequest{Host: e.cfg.Host, Port: e.cfg.Port, Username: e.cfg.Username}
	if err := e.client.PostJSON(ctx, e.url("/init"), e.cfg.InitTimeout, req, nil); err != nil {
		return fmt.Errorf("bridge init failed: %w", err)
	}
	e.logger.Info("Bot connecting to game server.",
		zap.String("username", e.cfg.Username),
		zap.String("server", fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)))

	wait := e.cfg.SpawnWait
	if wait <= 0 {
		wait = defaultSpawnWait
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 3 * time.Second
	b.MaxElapsedTime = wait

	operation := func() error {
		var status statusResponse
		if err := e.client.GetJSON(ctx, e.url("/status"), statusTimeout, &status); err != nil {
			return err
		}
		if !status.Connected {
			return env.ErrNotConnected
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("bot did not connect within %s: %w", wait, err)
	}
	e.logger.Info("Bot connected and ready.")

	var viewer viewerStatusResponse
	if err := e.client.GetJSON(ctx, e.url("/viewer/status"), statusTimeout, &viewer); err != nil {
		e.logger.Warn("Could not check viewer status.", zap.Error(err))
	} else if !viewer.ViewerReady {
		e.logger.Warn("Viewer not ready yet; screenshots may be black.")
	} else {
		e.logger.Info("Viewer ready.")
	}
	return nil
}

// Reset implements env.Environment.
func (e *Env) Reset(ctx context.Context) (schemas.Observation, schemas.Info) {
	var resp observationResponse
	if err := e.client.PostJSON(ctx, e.url("/reset"), e.cfg.ResetTimeout, map[string]any{}, &resp); err != nil {
		e.logger.Warn("Reset failed.", zap.Error(err))
		return e.normalizer.Placeholder(), schemas.Info{}
	}
	if resp.Success != nil && !*resp.Success {
		e.logger.Warn("Bridge rejected reset.", zap.String("error", resp.Error))
		return e.normalizer.Placeholder(), schemas.Info{}
	}
	return e.normalizer.Normalize(observation.BridgeRaw(resp.Observation)), info(resp.Observation)
}

// Step implements env.Environment. The bridge computes no reward and never ends an episode.
func (e *Env) Step(ctx context.Context, action schemas.BackendAction) schemas.StepResult {
	payload, ok := action.(schemas.BridgeAction)
	if !ok {
		e.logger.Warn("Non-bridge action submitted; sending a no-op instead.", zap.Any("action", action))
		payload = noop
	}

	var resp observationResponse
	if err := e.client.PostJSON(ctx, e.url("/action"), e.cfg.ActionTimeout, payload, &resp); err != nil {
		e.logger.Warn("Step failed.", zap.String("action_type", payload.Type), zap.Error(err))
		return env.FailedStep(e.normalizer.Placeholder())
	}
	return schemas.StepResult{
		Observation: e.normalizer.Normalize(observation.BridgeRaw(resp.Observation)),
		Info:        info(resp.Observation),
	}
}

// CaptureFrame implements env.Environment.
func (e *Env) CaptureFrame(ctx context.Context) schemas.Frame {
	h, w := e.normalizer.FrameSize()

	var resp screenshotResponse
	if err := e.client.PostJSON(ctx, e.url("/screenshot"), e.cfg.ActionTimeout, nil, &resp); err != nil {
		e.logger.Debug("Screenshot failed.", zap.Error(err))
		return frame.Placeholder(h, w)
	}
	if !resp.Success {
		e.logger.Debug("Bridge could not take a screenshot.", zap.String("error", resp.Error))
		return frame.Placeholder(h, w)
	}
	f, err := frame.DecodeBase64(resp.Image, h, w)
	if err != nil {
		e.logger.Warn("Screenshot could not be decoded.", zap.Error(err))
		return frame.Placeholder(h, w)
	}
	return f
}

var noop = schemas.BridgeAction{Type: schemas.BridgeActionNoop}

// NoopAction implements env.Environment.
func (e *Env) NoopAction() schemas.BackendAction { return noop }

// Close implements env.Environment.
func (e *Env) Close(ctx context.Context) {
	if err := e.client.PostJSON(ctx, e.url("/close"), closeTimeout, nil, nil); err != nil {
		e.logger.Debug("Bridge close failed.", zap.Error(err))
	}
}

func (e *Env) url(path string) string {
	return e.baseURL + path
}

func info(raw map[string]any) schemas.Info {
	if raw == nil {
		return schemas.Info{}
	}
	return schemas.Info(raw)
}
