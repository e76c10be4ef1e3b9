package config

import (
	"time"

	"github.com/janhq/jan-core/internal/completion"
	"github.com/janhq/jan-core/internal/mcp"
)

// Config represents the main application configuration.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Completion CompletionConfig `yaml:"completion"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Logging    LoggingConfig    `yaml:"logging"`
	MCP        MCPConfig        `yaml:"mcp"`

	// Assistants are the configured personas selectable per turn.
	Assistants []completion.Assistant `yaml:"assistants,omitempty"`

	// Runtime version information
	Version string `yaml:"-"`
}

// AppConfig holds paths and top-level application settings.
type AppConfig struct {
	// DataDir holds the thread database, provider catalog, and logs.
	// Empty selects the platform default.
	DataDir string `yaml:"data_dir,omitempty"`
}

// CompletionConfig holds completion-loop settings.
type CompletionConfig struct {
	// ExperimentalFeatures gates tool calling end to end.
	ExperimentalFeatures bool `yaml:"experimental_features"`

	// FollowUpToolCalls keeps the loop running after a round-trip that
	// requested tools. Off means one round per turn.
	FollowUpToolCalls bool `yaml:"follow_up_tool_calls"`

	// DefaultProvider and DefaultModel seed new threads when the caller
	// does not pick one.
	DefaultProvider string `yaml:"default_provider,omitempty"`
	DefaultModel    string `yaml:"default_model,omitempty"`

	// AllowAllToolCalls skips per-call approval prompts.
	AllowAllToolCalls bool `yaml:"allow_all_tool_calls"`
}

// OllamaConfig holds local inference backend settings.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"` // Optional, for remote servers with auth

	KeepAlive   time.Duration `yaml:"keep_alive"`   // How long loaded models stay resident
	HTTPTimeout time.Duration `yaml:"http_timeout"` // HTTP request timeout
}

// RecoveryConfig holds context-overflow recovery settings.
type RecoveryConfig struct {
	// SettleDelay is the pause after stopping and after starting a model
	// during a recovery restart.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // Logging level: debug, info, warn, error

	// File enables writing the log to <data_dir>/jancore.log.
	File bool `yaml:"file"`
}

// MCPConfig holds MCP (Model Context Protocol) settings.
type MCPConfig struct {
	Enabled bool                `yaml:"enabled"`
	Servers []*mcp.ServerConfig `yaml:"servers,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Completion: CompletionConfig{
			ExperimentalFeatures: false,
			FollowUpToolCalls:    true,
			AllowAllToolCalls:    false,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			KeepAlive:   30 * time.Minute,
			HTTPTimeout: 120 * time.Second,
		},
		Recovery: RecoveryConfig{
			SettleDelay: time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  true,
		},
		MCP: MCPConfig{
			Enabled: false,
		},
	}
}
