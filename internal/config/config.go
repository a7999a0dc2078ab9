package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the outdial worker.
type Config struct {
	Version  int            `yaml:"version"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	LiveKit  LiveKitConfig  `yaml:"livekit"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Dialer   DialerConfig   `yaml:"dialer"`
	Silence  SilenceConfig  `yaml:"silence"`
	Call     CallConfig     `yaml:"call"`
	Dialogue DialogueConfig `yaml:"dialogue"`
	Prompts  PromptsConfig  `yaml:"prompts"`
	Store    StoreConfig    `yaml:"store"`
}

// Load reads, merges, and validates the configuration file.
//
// The file may be YAML or JSON5, may pull in other files via $include, and
// may reference environment variables with ${VAR} syntax. Unknown fields are
// rejected.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "outdial"
	}
	if cfg.LiveKit.RequestTimeout == 0 {
		cfg.LiveKit.RequestTimeout = 10 * time.Second
	}
	if cfg.LiveKit.TokenTTL == 0 {
		cfg.LiveKit.TokenTTL = 15 * time.Minute
	}
	if cfg.Bridge.ReconnectDelay == 0 {
		cfg.Bridge.ReconnectDelay = time.Second
	}
	if cfg.Bridge.ReconnectMaxDelay == 0 {
		cfg.Bridge.ReconnectMaxDelay = 30 * time.Second
	}
	if cfg.Bridge.SayTimeout == 0 {
		cfg.Bridge.SayTimeout = 30 * time.Second
	}
	if cfg.Dialer.MaxAttempts == 0 {
		cfg.Dialer.MaxAttempts = 3
	}
	if cfg.Dialer.RetryDelay == 0 {
		cfg.Dialer.RetryDelay = 2 * time.Second
	}
	if cfg.Dialer.DialTimeout == 0 {
		cfg.Dialer.DialTimeout = 45 * time.Second
	}
	if cfg.Silence.PollInterval == 0 {
		cfg.Silence.PollInterval = 2500 * time.Millisecond
	}
	if cfg.Silence.Threshold == 0 {
		cfg.Silence.Threshold = 15 * time.Second
	}
	if cfg.Silence.Grace == 0 {
		cfg.Silence.Grace = 10 * time.Second
	}
	if cfg.Silence.Emergency == 0 {
		cfg.Silence.Emergency = 180 * time.Second
	}
	if cfg.Silence.GoodbyePlayoutDelay == 0 {
		cfg.Silence.GoodbyePlayoutDelay = 2 * time.Second
	}
	if cfg.Call.AgentIdentity == "" {
		cfg.Call.AgentIdentity = "outdial-agent"
	}
	if cfg.Call.CalleeIdentity == "" {
		cfg.Call.CalleeIdentity = "phone_user"
	}
	if cfg.Call.RoomPrefix == "" {
		cfg.Call.RoomPrefix = "call-"
	}
	if cfg.Call.EndCallDelay == 0 {
		cfg.Call.EndCallDelay = 4 * time.Second
	}
	if cfg.Dialogue.Provider == "" {
		cfg.Dialogue.Provider = "openai"
	}
	if cfg.Dialogue.RequestTimeout == 0 {
		cfg.Dialogue.RequestTimeout = 30 * time.Second
	}
}
