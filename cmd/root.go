// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

const envPrefix = "HEROBINE"

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"host":             "bridge.host",
	"port":             "bridge.port",
	"username":         "bridge.username",
	"bridge-port":      "bridge.bridge_port",
	"sim-endpoint":     "sim.endpoint",
	"provider":         "inference.provider",
	"endpoint":         "inference.endpoint",
	"checkpoint":       "inference.checkpoint",
	"temperature":      "inference.temperature",
	"history-num":      "inference.history_num",
	"instruction":      "agent.default_instruction",
	"instruction-type": "agent.instruction_type",
	"verbose":          "agent.verbose",
	"fps":              "loop.fps",
	"max-steps":        "loop.max_steps",
	"log-level":        "logger.level",
}

// NewRootCommand builds a fresh command tree. Each call returns independent
// flag and configuration state.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:     "herobine",
		Short:   "Herobine drives a Minecraft agent from chat instructions.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "herobine"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "herobine"})
				return fmt.Errorf("failed to load config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded.", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	flags.String("host", "", "game server host the bot joins")
	flags.Int("port", 0, "game server port")
	flags.String("username", "", "bot username")
	flags.Int("bridge-port", 0, "local port of the automation bridge")
	flags.String("sim-endpoint", "", "websocket endpoint of the simulator")
	flags.String("provider", "", "inference provider (none, vla, gemini)")
	flags.String("endpoint", "", "inference engine endpoint")
	flags.String("checkpoint", "", "path to the policy checkpoint")
	flags.Float32("temperature", 0, "sampling temperature")
	flags.Int("history-num", 0, "number of past frames sent with each request")
	flags.StringP("instruction", "i", "", "default instruction")
	flags.String("instruction-type", "", "instruction type (normal, recipe, simple)")
	flags.BoolP("verbose", "v", false, "verbose inference output")
	flags.Int("fps", 0, "target ticks per second")
	flags.Int("max-steps", 0, "stop after this many ticks (0 runs until interrupted)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newBridgeCmd())
	rootCmd.AddCommand(newSimCmd())
	rootCmd.AddCommand(newJournalCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and environment, then binds the flags
// that were set so they take precedence.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	return bindErr
}

// getConfigFromContext returns the configuration loaded by the root command.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}
