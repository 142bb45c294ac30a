package config

import (
	"fmt"
	"os"
	"strings"
)

// Config is the root minibot configuration.
type Config struct {
	// DataDir holds sessions, the job store, and the subagent registry.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace is the agent's working directory: bootstrap files, memory,
	// skills, HEARTBEAT.md.
	Workspace string `json:"workspace" mapstructure:"workspace"`

	Provider  ProviderConfig  `json:"provider" mapstructure:"provider"`
	Agent     AgentConfig     `json:"agent" mapstructure:"agent"`
	Tools     ToolsConfig     `json:"tools" mapstructure:"tools"`
	Telegram  TelegramConfig  `json:"telegram" mapstructure:"telegram"`
	Heartbeat HeartbeatConfig `json:"heartbeat" mapstructure:"heartbeat"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// ProviderConfig selects and authenticates the model backend.
type ProviderConfig struct {
	// Name is "anthropic" or "openai". Empty means inferred from Model.
	Name        string  `json:"name" mapstructure:"name"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// AgentConfig tunes the loop.
type AgentConfig struct {
	MaxIterations int `json:"max_iterations" mapstructure:"max_iterations"`
	MaxRetries    int `json:"max_retries" mapstructure:"max_retries"`
	ContextBudget int `json:"context_budget" mapstructure:"context_budget"`
}

// ToolsConfig tunes tool execution.
type ToolsConfig struct {
	// RestrictToWorkspace confines file and shell tools to the workspace.
	RestrictToWorkspace bool `json:"restrict_to_workspace" mapstructure:"restrict_to_workspace"`
	ShellTimeoutSeconds int  `json:"shell_timeout_seconds" mapstructure:"shell_timeout_seconds"`
}

// TelegramConfig holds the Telegram channel configuration.
type TelegramConfig struct {
	Enabled   bool    `json:"enabled" mapstructure:"enabled"`
	BotToken  string  `json:"bot_token" mapstructure:"bot_token"`
	Allowlist []int64 `json:"allowlist" mapstructure:"allowlist"`
}

// HeartbeatConfig tunes the standing heartbeat trigger.
type HeartbeatConfig struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled"`
	IntervalMinutes int    `json:"interval_minutes" mapstructure:"interval_minutes"`
	Channel         string `json:"channel" mapstructure:"channel"`
	ChatID          string `json:"chat_id" mapstructure:"chat_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Model:       "claude-sonnet-4-20250514",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Agent: AgentConfig{
			MaxIterations: 25,
			MaxRetries:    3,
			ContextBudget: 16000,
		},
		Tools: ToolsConfig{
			RestrictToWorkspace: true,
			ShellTimeoutSeconds: 60,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         true,
			IntervalMinutes: 30,
			Channel:         "cli",
			ChatID:          "direct",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
	}
}

// ResolveAPIKey returns the configured key, falling back to the provider's
// conventional environment variable.
func (c *Config) ResolveAPIKey() string {
	if c.Provider.APIKey != "" {
		return c.Provider.APIKey
	}
	switch c.ProviderName() {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// ProviderName resolves the backend name, inferring it from the model
// prefix when unset.
func (c *Config) ProviderName() string {
	if c.Provider.Name != "" {
		return c.Provider.Name
	}
	switch {
	case strings.HasPrefix(c.Provider.Model, "claude"):
		return "anthropic"
	case strings.HasPrefix(c.Provider.Model, "gpt"),
		strings.HasPrefix(c.Provider.Model, "o1"),
		strings.HasPrefix(c.Provider.Model, "o3"),
		strings.HasPrefix(c.Provider.Model, "o4"):
		return "openai"
	}
	return ""
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if c.ProviderName() == "" {
		return fmt.Errorf("provider.name is required when it cannot be inferred from model %q", c.Provider.Model)
	}
	if name := c.ProviderName(); name != "anthropic" && name != "openai" {
		return fmt.Errorf("unsupported provider %q", name)
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 1 {
		return fmt.Errorf("provider.temperature must be between 0 and 1")
	}
	if c.Provider.MaxTokens < 0 {
		return fmt.Errorf("provider.max_tokens cannot be negative")
	}
	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent.max_iterations cannot be negative")
	}
	if c.Agent.ContextBudget < 0 {
		return fmt.Errorf("agent.context_budget cannot be negative")
	}
	if c.Tools.ShellTimeoutSeconds < 0 {
		return fmt.Errorf("tools.shell_timeout_seconds cannot be negative")
	}
	if c.Heartbeat.IntervalMinutes < 0 {
		return fmt.Errorf("heartbeat.interval_minutes cannot be negative")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}
	return nil
}
