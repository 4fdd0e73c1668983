package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config represents the memeagent configuration
type Config struct {
	// Arcade tool broker
	Arcade ArcadeConfig `json:"arcade" mapstructure:"arcade"`

	// Optional MCP tool server
	MCP MCPConfig `json:"mcp" mapstructure:"mcp"`

	// Models
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Agent behaviour
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// ArcadeConfig holds tool broker settings
type ArcadeConfig struct {
	APIKey   string   `json:"api_key" mapstructure:"api_key"`
	BaseURL  string   `json:"base_url" mapstructure:"base_url"`
	UserID   string   `json:"user_id" mapstructure:"user_id"`
	Toolkits []string `json:"toolkits" mapstructure:"toolkits"`
	Tools    []string `json:"tools" mapstructure:"tools"`
	Limit    int      `json:"limit" mapstructure:"limit"`
}

// MCPConfig points at an MCP server whose tools are added to the catalog.
type MCPConfig struct {
	URL     string            `json:"url" mapstructure:"url"`
	Headers map[string]string `json:"headers" mapstructure:"headers"`
}

// ModelsConfig holds model configuration
type ModelsConfig struct {
	Default         string  `json:"default" mapstructure:"default"` // model id, optionally "provider:model"
	Provider        string  `json:"provider" mapstructure:"provider"`
	OpenAIAPIKey    string  `json:"openai_api_key" mapstructure:"openai_api_key"`
	AnthropicAPIKey string  `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	Temperature     float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens       int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// AgentConfig holds agent runtime settings
type AgentConfig struct {
	Name          string   `json:"name" mapstructure:"name"`
	SessionKey    string   `json:"session_key" mapstructure:"session_key"`
	SystemPrompt  string   `json:"system_prompt" mapstructure:"system_prompt"`
	MaxToolRounds int      `json:"max_tool_rounds" mapstructure:"max_tool_rounds"`
	ConfirmTools  []string `json:"confirm_tools" mapstructure:"confirm_tools"`
	ToolTimeout   int      `json:"tool_timeout" mapstructure:"tool_timeout"` // seconds
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the optional prometheus listener
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// ConfigError reports a missing or invalid setting that prevents startup.
type ConfigError struct {
	Key string // config key, e.g. arcade.user_id
	Env string // environment variable, e.g. ARCADE_USER_ID
	Msg string
}

func (e *ConfigError) Error() string {
	if e.Env != "" {
		return fmt.Sprintf("%s: set %s in the environment or in a .env file", e.Msg, e.Env)
	}
	return fmt.Sprintf("%s: %s", e.Key, e.Msg)
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Arcade: ArcadeConfig{
			BaseURL:  "https://api.arcade.dev",
			Toolkits: []string{"Imgflip"},
			Tools:    []string{},
			Limit:    100,
		},
		Models: ModelsConfig{
			Provider:    "openai",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Agent: AgentConfig{
			Name:          "Meme Agent",
			SessionKey:    "1",
			MaxToolRounds: 10,
			ConfirmTools:  []string{"Imgflip_CreateMeme"},
			ToolTimeout:   60,
		},
		Logging: LoggingConfig{
			Level:     "warn",
			Pretty:    true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Arcade.APIKey = mask(c.Arcade.APIKey)
	masked.Models.OpenAIAPIKey = mask(c.Models.OpenAIAPIKey)
	masked.Models.AnthropicAPIKey = mask(c.Models.AnthropicAPIKey)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// ProviderAndModel splits Models.Default into provider and model id.
// "anthropic:claude-sonnet-4-5" selects anthropic; a bare id uses Models.Provider.
func (c *Config) ProviderAndModel() (string, string) {
	model := strings.TrimSpace(c.Models.Default)
	if provider, rest, ok := strings.Cut(model, ":"); ok {
		switch strings.ToLower(provider) {
		case "openai", "anthropic":
			return strings.ToLower(provider), rest
		}
	}
	provider := strings.ToLower(c.Models.Provider)
	if provider == "" {
		provider = "openai"
	}
	return provider, model
}

// Validate checks the settings the agent cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Arcade.UserID) == "" {
		return &ConfigError{Key: "arcade.user_id", Env: EnvArcadeUserID, Msg: "missing Arcade user id"}
	}
	if strings.TrimSpace(c.Models.Default) == "" {
		return &ConfigError{Key: "models.default", Env: EnvOpenAIModel, Msg: "missing model name"}
	}

	provider, model := c.ProviderAndModel()
	if provider != "openai" && provider != "anthropic" {
		return &ConfigError{Key: "models.provider", Msg: fmt.Sprintf("invalid provider %s (must be: openai, anthropic)", provider)}
	}
	if model == "" {
		return &ConfigError{Key: "models.default", Env: EnvOpenAIModel, Msg: "model name is empty after provider prefix"}
	}

	if len(c.Arcade.Toolkits) == 0 && len(c.Arcade.Tools) == 0 && c.MCP.URL == "" {
		return &ConfigError{Key: "arcade.toolkits", Msg: "at least one toolkit, tool or MCP server is required"}
	}
	if c.Arcade.Limit <= 0 {
		return &ConfigError{Key: "arcade.limit", Msg: "must be positive"}
	}
	if c.Agent.MaxToolRounds <= 0 {
		return &ConfigError{Key: "agent.max_tool_rounds", Msg: "must be positive"}
	}
	if c.Agent.SessionKey == "" {
		return &ConfigError{Key: "agent.session_key", Msg: "is required"}
	}

	return nil
}
