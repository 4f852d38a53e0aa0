// File: internal/inference/engine.go
package inference

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/network"
)

// ErrEmptyAction is returned when the engine answered without any action.
var ErrEmptyAction = errors.New("inference engine returned no action")

// Request is one forward pass: the most recent frames (oldest first) and the
// instructions they should be interpreted against.
type Request struct {
	Frames            []schemas.Frame
	Instructions      []string
	Verbose           bool
	NeedCraftingTable bool
}

// Engine turns frames and instructions into native actions. Engines that predict
// several actions at once return them in execution order.
type Engine interface {
	Forward(ctx context.Context, req Request) ([]schemas.NativeAction, error)
}

// Options are engine settings that come from the agent rather than the inference section.
type Options struct {
	InstructionType string
}

// NewEngine is a factory function that creates an Engine based on the configuration.
func NewEngine(ctx context.Context, cfg config.InferenceConfig, opts Options, client *network.Client, logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case config.ProviderVLA:
		return NewVLAClient(cfg, opts, client, logger)
	case config.ProviderGemini:
		return NewGeminiEngine(ctx, cfg, opts, logger)
	case config.ProviderNone, "":
		return nil, fmt.Errorf("inference provider is disabled")
	default:
		return nil, fmt.Errorf("unknown or unsupported inference provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderVLA, config.ProviderGemini)
	}
}
