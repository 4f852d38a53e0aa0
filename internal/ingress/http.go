// File: internal/ingress/http.go
package ingress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/instruction"
)

const (
	defaultUsername = "operator"
	shutdownTimeout = 3 * time.Second
)

type chatRequest struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// HTTPServer exposes the instruction queue with the same chat endpoints the bridge serves.
type HTTPServer struct {
	queue  *instruction.Queue
	addr   string
	logger *zap.Logger
}

// NewHTTPServer creates the chat ingress for queue.
func NewHTTPServer(cfg config.IngressConfig, queue *instruction.Queue, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{queue: queue, addr: cfg.Address, logger: logger.Named("ingress.http")}
}

// RegisterRoutes mounts the chat endpoints on s.
func (h *HTTPServer) RegisterRoutes(s *server.Hertz) {
	chat := s.Group("/chat")
	chat.POST("", h.chat)
	chat.POST("/instructions", h.instructions)
	chat.POST("/start_instruction", h.startInstruction)
	chat.POST("/clear_instruction", h.clearInstruction)
}

// Run serves until ctx is done, then shuts the server down.
func (h *HTTPServer) Run(ctx context.Context) error {
	s := server.New(
		server.WithHostPorts(h.addr),
		server.WithExitWaitTime(0),
		server.WithDisablePrintRoute(true),
	)
	h.RegisterRoutes(s)

	errc := make(chan error, 1)
	go func() { errc <- s.Run() }()
	h.logger.Info("Chat ingress listening.", zap.String("address", h.addr))

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("chat ingress failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("Chat ingress shutdown failed.", zap.Error(err))
	}
	<-errc
	return nil
}

func (h *HTTPServer) chat(_ context.Context, ctx *app.RequestContext) {
	var body chatRequest
	if err := decodeJSON(ctx, &body); err != nil {
		writeError(ctx, consts.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(ctx, consts.StatusBadRequest, "message is required")
		return
	}
	if body.Username == "" {
		body.Username = defaultUsername
	}
	reset := h.queue.Append(body.Username, body.Message)
	h.logger.Info("Chat message received.", zap.String("username", body.Username), zap.String("message", body.Message), zap.Bool("reset", reset))
	ctx.JSON(consts.StatusOK, map[string]any{"success": true, "reset": reset, "pending": h.queue.Len()})
}

func (h *HTTPServer) instructions(_ context.Context, ctx *app.RequestContext) {
	snap := h.queue.Snapshot()
	ctx.JSON(consts.StatusOK, snapshotResponse{
		Success:      true,
		Instructions: snap.Pending,
		Current:      snap.Current,
		ResetSeq:     snap.ResetSeq,
	})
}

func (h *HTTPServer) startInstruction(c context.Context, ctx *app.RequestContext) {
	ins, _ := h.queue.Promote(c)
	ctx.JSON(consts.StatusOK, map[string]any{"success": true, "instruction": ins})
}

func (h *HTTPServer) clearInstruction(c context.Context, ctx *app.RequestContext) {
	_ = h.queue.Clear(c)
	ctx.JSON(consts.StatusOK, map[string]any{"success": true})
}

func decodeJSON(ctx *app.RequestContext, out any) error {
	body := ctx.Request.Body()
	if len(body) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, out)
}

func writeError(ctx *app.RequestContext, status int, message string) {
	ctx.JSON(status, map[string]any{"success": false, "error": message})
}

// snapshotResponse mirrors the body served by /chat/instructions.
type snapshotResponse struct {
	Success      bool                  `json:"success"`
	Instructions []schemas.Instruction `json:"instructions"`
	Current      *schemas.Instruction  `json:"current"`
	ResetSeq     uint64                `json:"reset_seq"`
}
