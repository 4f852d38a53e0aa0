// File: cmd/sim.go
package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/herobine/internal/env/sim"
	"github.com/xkilldash9x/herobine/internal/ingress"
	"github.com/xkilldash9x/herobine/internal/instruction"
	"github.com/xkilldash9x/herobine/internal/loop"
	"github.com/xkilldash9x/herobine/internal/network"
	"github.com/xkilldash9x/herobine/internal/observability"
	"github.com/xkilldash9x/herobine/internal/observation"
)

// newSimCmd creates the `sim` command.
func newSimCmd() *cobra.Command {
	var (
		interactivePort int
		chatAddr        string
		console         bool
	)

	simCmd := &cobra.Command{
		Use:   "sim",
		Short: "Runs the agent inside the full-client simulation",
		Long: `Connects to the simulator, optionally opens the world to players and runs the
control loop. Instructions arrive through the chat ingress or the console.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interactive-port") {
				cfg.Sim.InteractivePort = interactivePort
			}
			if chatAddr != "" {
				cfg.Ingress.Enabled = true
				cfg.Ingress.Address = chatAddr
			}
			if console {
				cfg.Ingress.Console = true
			}
			if err := cfg.ValidateSim(); err != nil {
				return err
			}

			normalizer := observation.New(cfg.Loop.FrameHeight, cfg.Loop.FrameWidth)
			e := sim.New(cfg.Sim, normalizer, logger)

			pol, err := buildPolicy(ctx, cfg, network.NewClient(nil), logger)
			if err != nil {
				return err
			}
			jr, err := openJournal(ctx, cfg.Journal, logger)
			if err != nil {
				return err
			}

			queue := instruction.NewQueue(logger, cfg.Loop.QueueSize)
			agent := loop.New(e, queue, pol, jr, cfg.Loop, cfg.Agent, logger)

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			g, gctx := errgroup.WithContext(runCtx)

			g.Go(func() error {
				// The ingress goroutines stop with the loop.
				defer cancel()
				return agent.Run(gctx)
			})
			if cfg.Ingress.Enabled {
				g.Go(func() error {
					return ingress.NewHTTPServer(cfg.Ingress, queue, logger).Run(gctx)
				})
			}
			if cfg.Ingress.Console {
				g.Go(func() error {
					err := ingress.NewConsole(queue, os.Stdin, cmd.OutOrStdout(), logger).Run(gctx)
					if errors.Is(err, ingress.ErrQuit) {
						cancel()
						return nil
					}
					return err
				})
			}
			if !cfg.Ingress.Enabled && !cfg.Ingress.Console {
				logger.Info("No instruction ingress enabled; the agent follows the default instruction.",
					zap.String("instruction", cfg.Agent.DefaultInstruction))
			}

			return g.Wait()
		},
	}

	simCmd.Flags().IntVar(&interactivePort, "interactive-port", 0, "open the world to players on this port")
	simCmd.Flags().StringVar(&chatAddr, "chat-addr", "", "serve the chat ingress on this address")
	simCmd.Flags().BoolVar(&console, "console", false, "read instructions from stdin")
	return simCmd
}
