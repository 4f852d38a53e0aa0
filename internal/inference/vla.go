// File: internal/inference/vla.go
package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/frame"
	"github.com/xkilldash9x/herobine/internal/network"
)

const defaultForwardTimeout = 10 * time.Second

// vlaRequest is the body posted to the action endpoint of a vision-language-action server.
type vlaRequest struct {
	Checkpoint        string   `json:"checkpoint"`
	Instructions      []string `json:"instructions"`
	Frames            []string `json:"frames"`
	InstructionType   string   `json:"instruction_type"`
	Temperature       float32  `json:"temperature"`
	HistoryNum        int      `json:"history_num"`
	ActionChunkLen    int      `json:"action_chunk_len"`
	Verbose           bool     `json:"verbose"`
	NeedCraftingTable bool     `json:"need_crafting_table"`
}

// VLAClient talks to a vision-language-action model served over HTTP.
type VLAClient struct {
	url     string
	cfg     config.InferenceConfig
	opts    Options
	client  *network.Client
	timeout time.Duration
	logger  *zap.Logger
}

var _ Engine = (*VLAClient)(nil)

// NewVLAClient initializes the client.
func NewVLAClient(cfg config.InferenceConfig, opts Options, client *network.Client, logger *zap.Logger) (*VLAClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("VLA endpoint is required")
	}
	if client == nil {
		client = network.NewClient(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InstructionType == "" {
		opts.InstructionType = config.InstructionNormal
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}
	return &VLAClient{
		url:     strings.TrimRight(cfg.Endpoint, "/") + "/act",
		cfg:     cfg,
		opts:    opts,
		client:  client,
		timeout: timeout,
		logger:  logger.Named("inference.vla"),
	}, nil
}

// Forward implements Engine. Transient server errors are retried until the
// configured timeout is spent.
func (c *VLAClient) Forward(ctx context.Context, req Request) ([]schemas.NativeAction, error) {
	payload := vlaRequest{
		Checkpoint:        c.cfg.Checkpoint,
		Instructions:      req.Instructions,
		Frames:            make([]string, 0, len(req.Frames)),
		InstructionType:   c.opts.InstructionType,
		Temperature:       c.cfg.Temperature,
		HistoryNum:        c.cfg.HistoryNum,
		ActionChunkLen:    c.cfg.ActionChunkLen,
		Verbose:           req.Verbose,
		NeedCraftingTable: req.NeedCraftingTable,
	}
	for _, f := range req.Frames {
		encoded, err := frame.JPEGBase64(f, c.cfg.FrameQuality)
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame: %w", err)
		}
		payload.Frames = append(payload.Frames, encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = c.timeout

	var actions []schemas.NativeAction
	operation := func() error {
		var raw json.RawMessage
		start := time.Now()
		if err := c.client.PostJSON(ctx, c.url, 0, payload, &raw); err != nil {
			var statusErr *network.StatusError
			if errors.As(err, &statusErr) && !transient(statusErr.StatusCode) {
				return backoff.Permanent(err)
			}
			c.logger.Debug("Forward pass failed, retrying.", zap.Error(err))
			return err
		}
		decoded, err := decodeActions(raw)
		if err != nil {
			return backoff.Permanent(err)
		}
		actions = decoded
		if req.Verbose {
			c.logger.Info("Forward pass complete.",
				zap.Duration("duration", time.Since(start)),
				zap.Int("actions", len(decoded)),
				zap.Strings("instructions", req.Instructions))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return actions, nil
}

func transient(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusBadGateway:
		return true
	default:
		return false
	}
}
