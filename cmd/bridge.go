// File: cmd/bridge.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/internal/bridgeproc"
	"github.com/xkilldash9x/herobine/internal/env/bridge"
	"github.com/xkilldash9x/herobine/internal/loop"
	"github.com/xkilldash9x/herobine/internal/network"
	"github.com/xkilldash9x/herobine/internal/observability"
	"github.com/xkilldash9x/herobine/internal/observation"
)

// newBridgeCmd creates the `bridge` command.
func newBridgeCmd() *cobra.Command {
	var noAutoStart bool

	bridgeCmd := &cobra.Command{
		Use:   "bridge",
		Short: "Runs the agent through the automation bridge on a multiplayer server",
		Long: `Starts (or attaches to) the automation bridge, connects the bot to the game
server and runs the control loop. Players steer the agent through in-game chat.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if noAutoStart {
				cfg.Bridge.AutoStart = false
			}
			if err := cfg.ValidateBridge(); err != nil {
				return err
			}

			if cfg.Bridge.AutoStart {
				h, err := bridgeproc.NewLauncher(cfg.Bridge, logger).Start(ctx)
				if err != nil {
					return err
				}
				defer h.Stop()
			}

			client := network.NewClient(nil)
			normalizer := observation.New(cfg.Loop.FrameHeight, cfg.Loop.FrameWidth)
			e := bridge.New(cfg.Bridge, normalizer, client, logger)
			if err := e.Init(ctx); err != nil {
				logger.Warn("Bridge initialization incomplete; continuing.", zap.Error(err))
			}

			pol, err := buildPolicy(ctx, cfg, client, logger)
			if err != nil {
				e.Close(ctx)
				return err
			}
			jr, err := openJournal(ctx, cfg.Journal, logger)
			if err != nil {
				e.Close(ctx)
				return err
			}

			logger.Info("Players can steer the bot in chat. Say \"reset\" to restore the default instruction.",
				zap.String("username", cfg.Bridge.Username))
			return loop.New(e, e.ChatSource(), pol, jr, cfg.Loop, cfg.Agent, logger).Run(ctx)
		},
	}

	bridgeCmd.Flags().BoolVar(&noAutoStart, "no-auto-start", false, "attach to an already running bridge instead of starting one")
	return bridgeCmd
}
