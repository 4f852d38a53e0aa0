// File: cmd/agent.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/inference"
	"github.com/xkilldash9x/herobine/internal/journal"
	"github.com/xkilldash9x/herobine/internal/loop"
	"github.com/xkilldash9x/herobine/internal/network"
	"github.com/xkilldash9x/herobine/internal/policy"
)

// buildPolicy returns nil when no inference engine is configured; the loop then sends no-ops.
func buildPolicy(ctx context.Context, cfg *config.Config, client *network.Client, logger *zap.Logger) (loop.Policy, error) {
	if !cfg.Inference.Enabled() {
		logger.Warn("No inference engine configured; the agent will only send no-op actions.")
		return nil, nil
	}
	engine, err := inference.NewEngine(ctx, cfg.Inference, inference.Options{InstructionType: cfg.Agent.InstructionType}, client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inference engine: %w", err)
	}
	logger.Info("Inference engine ready.",
		zap.String("provider", string(cfg.Inference.Provider)),
		zap.String("instruction_type", cfg.Agent.InstructionType))
	return policy.New(engine, cfg.Inference.HistoryNum, cfg.Agent, logger), nil
}

// openJournal returns nil when journaling is disabled. The file sink is always
// present; Postgres and SQLite sinks are added when configured.
func openJournal(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (loop.Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	session := journal.NewSession(time.Now())
	file := journal.NewFileSink(cfg, session)
	sinks := journal.MultiSink{file}

	if cfg.PostgresURL != "" {
		pg, err := journal.OpenPostgres(ctx, cfg.PostgresURL, logger)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("failed to open postgres journal: %w", err)
		}
		sinks = append(sinks, pg)
	}
	if cfg.SQLitePath != "" {
		lite, err := journal.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("failed to open sqlite journal: %w", err)
		}
		sinks = append(sinks, lite)
	}

	rec, err := journal.NewRecorder(cfg, session, sinks, logger)
	if err != nil {
		_ = sinks.Close()
		return nil, err
	}
	logger.Info("Journal session started.",
		zap.String("session_id", session.ID),
		zap.String("file", file.Path()),
		zap.String("frames", rec.FrameDir()),
		zap.Int("sinks", len(sinks)))
	return rec, nil
}
