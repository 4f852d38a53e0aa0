// File: internal/bridgeproc/bridgeproc.go
package bridgeproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/internal/config"
)

// ErrScriptNotFound is returned by Start when the bridge script does not exist.
var ErrScriptNotFound = errors.New("bridge script not found")

const (
	defaultNodeBinary  = "node"
	defaultStopTimeout = 5 * time.Second
)

// Launcher starts the bridge process described by a BridgeConfig.
type Launcher struct {
	cfg    config.BridgeConfig
	logger *zap.Logger

	// Stdout and Stderr receive the bridge's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// NewLauncher creates a launcher that forwards the bridge's output to this process.
func NewLauncher(cfg config.BridgeConfig, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		cfg:    cfg,
		logger: logger.Named("bridgeproc"),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Start launches the bridge and waits cfg.StartupWait for its HTTP server to come up.
// The process is not tied to ctx; it runs until Handle.Stop is called.
func (l *Launcher) Start(ctx context.Context) (*Handle, error) {
	if l.cfg.ScriptPath == "" {
		return nil, ErrScriptNotFound
	}
	if _, err := os.Stat(l.cfg.ScriptPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, l.cfg.ScriptPath)
	}

	node := l.cfg.NodeBinary
	if node == "" {
		node = defaultNodeBinary
	}
	cmd := exec.Command(node, l.cfg.ScriptPath)
	cmd.Env = append(os.Environ(), "MINEFLAYER_PORT="+strconv.Itoa(l.cfg.BridgePort))
	if l.cfg.Display != "" {
		cmd.Env = append(cmd.Env, "DISPLAY="+l.cfg.Display)
	}
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	stopTimeout := l.cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	// Children that outlive the bridge must not keep Wait blocked on their output.
	cmd.WaitDelay = stopTimeout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start bridge: %w", err)
	}

	h := &Handle{
		cmd:         cmd,
		stopTimeout: stopTimeout,
		done:        make(chan struct{}),
		logger:      l.logger,
	}
	go h.wait()

	l.logger.Info("Bridge process started.",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("port", l.cfg.BridgePort),
		zap.String("script", l.cfg.ScriptPath))

	if l.cfg.StartupWait > 0 {
		timer := time.NewTimer(l.cfg.StartupWait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-h.done:
			return nil, fmt.Errorf("bridge exited during startup: %w", h.err)
		case <-ctx.Done():
			h.Stop()
			return nil, ctx.Err()
		}
	}
	return h, nil
}

// Handle is a running bridge process.
type Handle struct {
	cmd         *exec.Cmd
	stopTimeout time.Duration
	logger      *zap.Logger

	done     chan struct{}
	err      error
	stopOnce sync.Once
}

func (h *Handle) wait() {
	h.err = h.cmd.Wait()
	close(h.done)
}

// Pid returns the bridge's process id.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the exit error. Only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Stop asks the bridge to terminate and kills it if it is still running after the
// stop timeout. Safe to call more than once.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}

		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			h.logger.Debug("SIGTERM failed.", zap.Error(err))
		}
		timer := time.NewTimer(h.stopTimeout)
		defer timer.Stop()
		select {
		case <-h.done:
			h.logger.Info("Bridge process stopped.")
			return
		case <-timer.C:
		}

		h.logger.Warn("Bridge did not exit after SIGTERM, killing it.", zap.Duration("timeout", h.stopTimeout))
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.logger.Error("Failed to kill bridge process.", zap.Error(err))
		}
		<-h.done
	})
}
