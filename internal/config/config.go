// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// ErrMissingCheckpoint is returned when the inference engine needs a checkpoint that cannot be found.
var ErrMissingCheckpoint = errors.New("inference checkpoint not found")

// ErrMissingBridgeScript is returned when the bridge must be auto-started but its script is absent.
var ErrMissingBridgeScript = errors.New("bridge script not found")

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Bridge    BridgeConfig    `mapstructure:"bridge" yaml:"bridge"`
	Sim       SimConfig       `mapstructure:"sim" yaml:"sim"`
	Inference InferenceConfig `mapstructure:"inference" yaml:"inference"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Loop      LoopConfig      `mapstructure:"loop" yaml:"loop"`
	Journal   JournalConfig   `mapstructure:"journal" yaml:"journal"`
	Ingress   IngressConfig   `mapstructure:"ingress" yaml:"ingress"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BridgeConfig configures the automation bridge backend and the bot it drives.
type BridgeConfig struct {
	// Host and Port locate the game server the bot joins.
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// BridgePort is the local HTTP port the bridge process listens on.
	BridgePort int    `mapstructure:"bridge_port" yaml:"bridge_port"`
	BridgeHost string `mapstructure:"bridge_host" yaml:"bridge_host"`

	AutoStart   bool          `mapstructure:"auto_start" yaml:"auto_start"`
	ScriptPath  string        `mapstructure:"script_path" yaml:"script_path"`
	NodeBinary  string        `mapstructure:"node_binary" yaml:"node_binary"`
	Display     string        `mapstructure:"display" yaml:"display"`
	StartupWait time.Duration `mapstructure:"startup_wait" yaml:"startup_wait"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`

	InitTimeout   time.Duration `mapstructure:"init_timeout" yaml:"init_timeout"`
	SpawnWait     time.Duration `mapstructure:"spawn_wait" yaml:"spawn_wait"`
	ResetTimeout  time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	ChatTimeout   time.Duration `mapstructure:"chat_timeout" yaml:"chat_timeout"`
}

// URL returns the base URL of the bridge HTTP API.
func (b BridgeConfig) URL() string {
	host := b.BridgeHost
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, b.BridgePort)
}

// SimConfig configures the full-client simulation backend.
type SimConfig struct {
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	InteractivePort int           `mapstructure:"interactive_port" yaml:"interactive_port"`
	Realtime        bool          `mapstructure:"realtime" yaml:"realtime"`
	MaxPlayers      int           `mapstructure:"max_players" yaml:"max_players"`
	Seed            int64         `mapstructure:"seed" yaml:"seed"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ResetTimeout    time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
	ActionTimeout   time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// InferenceProvider defines the supported inference engine providers.
type InferenceProvider string

const (
	ProviderNone   InferenceProvider = "none"
	ProviderVLA    InferenceProvider = "vla"
	ProviderGemini InferenceProvider = "gemini"
)

// InferenceConfig configures the inference engine that turns frames and instructions into actions.
type InferenceConfig struct {
	Provider       InferenceProvider `mapstructure:"provider" yaml:"provider"`
	Endpoint       string            `mapstructure:"endpoint" yaml:"endpoint"`
	Checkpoint     string            `mapstructure:"checkpoint" yaml:"checkpoint"`
	Model          string            `mapstructure:"model" yaml:"model"`
	APIKey         string            `mapstructure:"api_key" yaml:"-"`
	Temperature    float32           `mapstructure:"temperature" yaml:"temperature"`
	HistoryNum     int               `mapstructure:"history_num" yaml:"history_num"`
	ActionChunkLen int               `mapstructure:"action_chunk_len" yaml:"action_chunk_len"`
	Timeout        time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	FrameQuality   int               `mapstructure:"frame_quality" yaml:"frame_quality"`
}

// Enabled reports whether a policy should be built at all.
func (i InferenceConfig) Enabled() bool {
	switch i.Provider {
	case ProviderVLA:
		return i.Endpoint != "" && i.Checkpoint != ""
	case ProviderGemini:
		return true
	default:
		return false
	}
}

// Instruction types understood by the inference engine.
const (
	InstructionNormal = "normal"
	InstructionRecipe = "recipe"
	InstructionSimple = "simple"
)

// AgentConfig holds the settings of the agent driven by the loop.
type AgentConfig struct {
	DefaultInstruction string `mapstructure:"default_instruction" yaml:"default_instruction"`
	InstructionType    string `mapstructure:"instruction_type" yaml:"instruction_type"`
	NeedCraftingTable  bool   `mapstructure:"need_crafting_table" yaml:"need_crafting_table"`
	Verbose            bool   `mapstructure:"verbose" yaml:"verbose"`
	// Supersede lets a newer chat instruction replace the one in progress.
	Supersede bool `mapstructure:"supersede" yaml:"supersede"`
}

// LoopConfig tunes the control loop cadence.
type LoopConfig struct {
	FPS              int           `mapstructure:"fps" yaml:"fps"`
	MaxSteps         int           `mapstructure:"max_steps" yaml:"max_steps"`
	ChatPollInterval time.Duration `mapstructure:"chat_poll_interval" yaml:"chat_poll_interval"`
	SummaryEvery     int           `mapstructure:"summary_every" yaml:"summary_every"`
	FrameHeight      int           `mapstructure:"frame_height" yaml:"frame_height"`
	FrameWidth       int           `mapstructure:"frame_width" yaml:"frame_width"`
	QueueSize        int           `mapstructure:"queue_size" yaml:"queue_size"`
}

// TickInterval converts the configured FPS into a tick duration.
func (l LoopConfig) TickInterval() time.Duration {
	if l.FPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(l.FPS)
}

// JournalConfig configures the append-only step journal.
type JournalConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir          string `mapstructure:"dir" yaml:"dir"`
	MaxSize      int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups   int    `mapstructure:"max_backups" yaml:"max_backups"`
	Compress     bool   `mapstructure:"compress" yaml:"compress"`
	FrameQuality int    `mapstructure:"frame_quality" yaml:"frame_quality"`
	FrameEvery   int    `mapstructure:"frame_every" yaml:"frame_every"`
	PostgresURL  string `mapstructure:"postgres_url" yaml:"-"`
	SQLitePath   string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// IngressConfig configures the instruction ingress used when the backend has no chat of its own.
type IngressConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "herobine")
	v.SetDefault("logger.log_file", "herobine.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Bridge --
	v.SetDefault("bridge.host", "localhost")
	v.SetDefault("bridge.port", 25565)
	v.SetDefault("bridge.username", "JarvisAI")
	v.SetDefault("bridge.bridge_host", "localhost")
	v.SetDefault("bridge.bridge_port", 1111)
	v.SetDefault("bridge.auto_start", true)
	v.SetDefault("bridge.script_path", "bridge/mineflayer_bridge.js")
	v.SetDefault("bridge.node_binary", "node")
	v.SetDefault("bridge.display", ":99")
	v.SetDefault("bridge.startup_wait", "2s")
	v.SetDefault("bridge.stop_timeout", "5s")
	v.SetDefault("bridge.init_timeout", "10s")
	v.SetDefault("bridge.spawn_wait", "15s")
	v.SetDefault("bridge.reset_timeout", "10s")
	v.SetDefault("bridge.action_timeout", "5s")
	v.SetDefault("bridge.chat_timeout", "2s")

	// -- Full-client simulation --
	v.SetDefault("sim.endpoint", "ws://localhost:9999/v1/env")
	v.SetDefault("sim.interactive_port", 0)
	v.SetDefault("sim.realtime", true)
	v.SetDefault("sim.max_players", 10)
	v.SetDefault("sim.seed", 0)
	v.SetDefault("sim.dial_timeout", "10s")
	v.SetDefault("sim.reset_timeout", "60s")
	v.SetDefault("sim.action_timeout", "5s")

	// -- Inference --
	v.SetDefault("inference.provider", string(ProviderVLA))
	v.SetDefault("inference.endpoint", "")
	v.SetDefault("inference.checkpoint", "")
	v.SetDefault("inference.model", "gemini-2.5-flash")
	v.SetDefault("inference.temperature", 0.7)
	v.SetDefault("inference.history_num", 0)
	v.SetDefault("inference.action_chunk_len", 1)
	v.SetDefault("inference.timeout", "10s")
	v.SetDefault("inference.frame_quality", 85)

	// -- Agent --
	v.SetDefault("agent.default_instruction", "Explore and survive in Minecraft")
	v.SetDefault("agent.instruction_type", InstructionNormal)
	v.SetDefault("agent.need_crafting_table", false)
	v.SetDefault("agent.verbose", false)
	v.SetDefault("agent.supersede", false)

	// -- Loop --
	v.SetDefault("loop.fps", 20)
	v.SetDefault("loop.max_steps", 0)
	v.SetDefault("loop.chat_poll_interval", "1s")
	v.SetDefault("loop.summary_every", 100)
	v.SetDefault("loop.frame_height", 360)
	v.SetDefault("loop.frame_width", 640)
	v.SetDefault("loop.queue_size", 64)

	// -- Journal --
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.dir", "agent_logs")
	v.SetDefault("journal.max_size", 100)
	v.SetDefault("journal.max_backups", 10)
	v.SetDefault("journal.compress", false)
	v.SetDefault("journal.frame_quality", 90)
	v.SetDefault("journal.frame_every", 1)

	// -- Ingress --
	v.SetDefault("ingress.enabled", false)
	v.SetDefault("ingress.address", "127.0.0.1:8765")
	v.SetDefault("ingress.console", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Sensitive values are only ever read from the environment.
	_ = v.BindEnv("inference.api_key", "HEROBINE_INFERENCE_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("journal.postgres_url", "HEROBINE_JOURNAL_POSTGRES_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandPaths resolves a leading "~" in every path-valued setting.
func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.Logger.LogFile,
		&c.Bridge.ScriptPath,
		&c.Inference.Checkpoint,
		&c.Journal.Dir,
		&c.Journal.SQLitePath,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration shared by every backend.
func (c *Config) Validate() error {
	if c.Loop.FPS <= 0 {
		return fmt.Errorf("loop.fps must be a positive integer")
	}
	if c.Loop.MaxSteps < 0 {
		return fmt.Errorf("loop.max_steps must not be negative")
	}
	if c.Loop.FrameHeight <= 0 || c.Loop.FrameWidth <= 0 {
		return fmt.Errorf("loop.frame_height and loop.frame_width must be positive")
	}
	if c.Loop.ChatPollInterval <= 0 {
		return fmt.Errorf("loop.chat_poll_interval must be a positive duration")
	}
	if strings.TrimSpace(c.Agent.DefaultInstruction) == "" {
		return fmt.Errorf("agent.default_instruction must not be empty")
	}
	switch c.Agent.InstructionType {
	case InstructionNormal, InstructionRecipe, InstructionSimple:
	default:
		return fmt.Errorf("agent.instruction_type must be one of [%s, %s, %s], got %q",
			InstructionNormal, InstructionRecipe, InstructionSimple, c.Agent.InstructionType)
	}
	if err := c.Inference.Validate(); err != nil {
		return fmt.Errorf("inference configuration invalid: %w", err)
	}
	return nil
}

// ValidateBridge checks the settings needed by the automation bridge variant.
func (c *Config) ValidateBridge() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Bridge.BridgePort <= 0 {
		return fmt.Errorf("bridge.bridge_port must be a positive integer")
	}
	if c.Bridge.Username == "" {
		return fmt.Errorf("bridge.username must not be empty")
	}
	if c.Bridge.ActionTimeout <= 0 || c.Bridge.ResetTimeout <= 0 {
		return fmt.Errorf("bridge timeouts must be positive durations")
	}
	if c.Bridge.AutoStart {
		if _, err := os.Stat(c.Bridge.ScriptPath); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingBridgeScript, c.Bridge.ScriptPath)
		}
	}
	return nil
}

// ValidateSim checks the settings needed by the full-client simulation variant.
// The simulation variant always runs a policy.
func (c *Config) ValidateSim() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Sim.Endpoint == "" {
		return fmt.Errorf("sim.endpoint must not be empty")
	}
	if c.Sim.ActionTimeout <= 0 || c.Sim.ResetTimeout <= 0 {
		return fmt.Errorf("sim timeouts must be positive durations")
	}
	if !c.Inference.Enabled() {
		return fmt.Errorf("the simulation variant requires an inference engine: %w", ErrMissingCheckpoint)
	}
	return nil
}

// Validate checks the inference settings.
func (i *InferenceConfig) Validate() error {
	switch i.Provider {
	case ProviderNone:
		return nil
	case ProviderVLA:
		if i.Checkpoint == "" {
			return nil
		}
		if _, err := os.Stat(i.Checkpoint); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingCheckpoint, i.Checkpoint)
		}
		if i.Endpoint == "" {
			return fmt.Errorf("inference.endpoint is required when a checkpoint is configured")
		}
	case ProviderGemini:
		if i.APIKey == "" {
			return fmt.Errorf("inference.api_key is required for the gemini provider (set GEMINI_API_KEY)")
		}
		if i.Model == "" {
			return fmt.Errorf("inference.model is required for the gemini provider")
		}
	default:
		return fmt.Errorf("unknown inference provider %q. Supported: [%s, %s, %s]", i.Provider, ProviderNone, ProviderVLA, ProviderGemini)
	}
	if i.Temperature < 0 {
		return fmt.Errorf("inference.temperature must not be negative")
	}
	if i.ActionChunkLen <= 0 {
		return fmt.Errorf("inference.action_chunk_len must be a positive integer")
	}
	if i.HistoryNum < 0 {
		return fmt.Errorf("inference.history_num must not be negative")
	}
	return nil
}
