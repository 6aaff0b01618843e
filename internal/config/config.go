// Package config loads the agent configuration from YAML or JSON5,
// expands environment variables, and applies ITAK_SET_ overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/itak-ai/itak/internal/agent"
	"github.com/itak-ai/itak/internal/heartbeat"
	"github.com/itak-ai/itak/internal/mcp"
	"github.com/itak-ai/itak/internal/ratelimit"
)

// Provider selects and configures one LLM backend.
type Provider struct {
	Kind      string `yaml:"kind"` // "anthropic" or "openai"
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// SlackConfig holds the two tokens Socket Mode needs.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

// ChannelsConfig enables transports. A channel starts when its token (or
// enabled flag, for the CLI) is set.
type ChannelsConfig struct {
	CLI           bool        `yaml:"cli"`
	DiscordToken  string      `yaml:"discord_token"`
	TelegramToken string      `yaml:"telegram_token"`
	Slack         SlackConfig `yaml:"slack"`
}

// LoggingConfig configures the event logger sinks.
type LoggingConfig struct {
	Dir        string `yaml:"dir"`
	DBPath     string `yaml:"db_path"`
	BufferSize int    `yaml:"buffer_size"`
}

// StorageConfig holds the data paths.
type StorageConfig struct {
	MemoryDBPath  string `yaml:"memory_db_path"`
	CheckpointDir string `yaml:"checkpoint_dir"`
}

// Config is the root configuration.
type Config struct {
	Agent       agent.Config       `yaml:"agent"`
	Provider    Provider           `yaml:"provider"`
	RateLimit   ratelimit.Config   `yaml:"rate_limit"`
	Heartbeat   heartbeat.Config   `yaml:"heartbeat"`
	MCP         []mcp.ServerConfig `yaml:"mcp_servers"`
	Channels    ChannelsConfig     `yaml:"channels"`
	Logging     LoggingConfig      `yaml:"logging"`
	Storage     StorageConfig      `yaml:"storage"`
	EnvFile     string             `yaml:"env_file"`
	MetricsAddr string             `yaml:"metrics_addr"`

	// Warnings collects non-fatal load problems, notably bad
	// ITAK_SET_ override paths.
	Warnings []string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agent:     agent.DefaultConfig(),
		Provider:  Provider{Kind: "anthropic"},
		RateLimit: ratelimit.DefaultConfig(),
		Heartbeat: heartbeat.DefaultConfig(),
		Channels:  ChannelsConfig{CLI: true},
		Logging: LoggingConfig{
			Dir:        filepath.Join("data", "logs"),
			DBPath:     filepath.Join("data", "db", "events.db"),
			BufferSize: 1000,
		},
		Storage: StorageConfig{
			MemoryDBPath:  filepath.Join("data", "db", "memory.db"),
			CheckpointDir: filepath.Join("data", "db"),
		},
		EnvFile:     ".env",
		MetricsAddr: "", // empty disables the metrics listener
	}
}

// Load reads path, expands $VARS, applies environment overrides, and
// decodes over the defaults. A missing file yields the defaults plus
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := decodeRaw(path, []byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	warnings := applyEnvOverrides(raw, os.Environ())

	// Round-trip the merged map through YAML so overrides and file
	// values decode identically.
	merged, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode merged config: %w", err)
	}
	if err := yaml.Unmarshal(merged, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Warnings = warnings
	return cfg, nil
}

// decodeRaw parses the file body by extension: JSON5 for .json/.json5,
// YAML otherwise.
func decodeRaw(path string, data []byte, out *map[string]any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		return json5.Unmarshal(data, out)
	default:
		return yaml.Unmarshal(data, out)
	}
}
