// File: internal/inference/gemini.go
package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/frame"
)

const systemPrompt = `You control a player in a voxel world from its first-person view.
Reply with JSON only: {"buttons": {"<key>": 0 or 1, ...}, "camera": [pitch_delta, yaw_delta]}.
Keys: forward, back, left, right, jump, sneak, sprint, attack, use, inventory, drop, hotbar.1 to hotbar.9.
Camera deltas are integers in degrees. You may return a list of such objects to act over several ticks.`

// GeminiEngine asks a multimodal Gemini model for the next action.
type GeminiEngine struct {
	client  *genai.Client
	model   string
	cfg     config.InferenceConfig
	opts    Options
	timeout time.Duration
	logger  *zap.Logger
}

var _ Engine = (*GeminiEngine)(nil)

// NewGeminiEngine initializes the client. A non-empty cfg.Endpoint overrides the API base URL.
func NewGeminiEngine(ctx context.Context, cfg config.InferenceConfig, opts Options, logger *zap.Logger) (*GeminiEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("Gemini model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InstructionType == "" {
		opts.InstructionType = config.InstructionNormal
	}

	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.Endpoint != "" {
		cc.HTTPOptions.BaseURL = cfg.Endpoint
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}
	return &GeminiEngine{
		client:  client,
		model:   cfg.Model,
		cfg:     cfg,
		opts:    opts,
		timeout: timeout,
		logger:  logger.Named("inference.gemini"),
	}, nil
}

// Forward implements Engine.
func (g *GeminiEngine) Forward(ctx context.Context, req Request) ([]schemas.NativeAction, error) {
	parts := []*genai.Part{genai.NewPartFromText(g.prompt(req))}
	for _, f := range req.Frames {
		data, err := frame.JPEGBytes(f, g.cfg.FrameQuality)
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, "image/jpeg"))
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:       genai.Ptr(g.cfg.Temperature),
			ResponseMIMEType:  "application/json",
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		})
	if err != nil {
		return nil, fmt.Errorf("gemini generate content failed: %w", err)
	}

	text := resp.Text()
	actions, err := decodeActions([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("gemini returned an unusable action: %w", err)
	}
	if req.Verbose {
		g.logger.Info("LLM generation complete (Gemini)",
			zap.Duration("duration", time.Since(start)),
			zap.Int("actions", len(actions)),
			zap.String("response", text))
	}
	if g.cfg.ActionChunkLen > 0 && len(actions) > g.cfg.ActionChunkLen {
		actions = actions[:g.cfg.ActionChunkLen]
	}
	return actions, nil
}

func (g *GeminiEngine) prompt(req Request) string {
	var sb strings.Builder
	switch g.opts.InstructionType {
	case config.InstructionRecipe:
		sb.WriteString("Follow the crafting recipe implied by the task.\n")
	case config.InstructionSimple:
		sb.WriteString("Take the most direct action towards the task.\n")
	}
	sb.WriteString("Task: ")
	sb.WriteString(strings.Join(req.Instructions, "; "))
	sb.WriteString("\n")
	if req.NeedCraftingTable {
		sb.WriteString("A crafting table is required for this task.\n")
	}
	if len(req.Frames) > 1 {
		fmt.Fprintf(&sb, "The %d images are consecutive views, oldest first.\n", len(req.Frames))
	}
	return sb.String()
}
