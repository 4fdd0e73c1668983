package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Environment variables read by the agent.
const (
	EnvArcadeUserID    = "ARCADE_USER_ID"
	EnvArcadeAPIKey    = "ARCADE_API_KEY"
	EnvArcadeBaseURL   = "ARCADE_BASE_URL"
	EnvOpenAIModel     = "OPENAI_MODEL"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
)

// envBindings maps config keys to the unprefixed variables users already
// export for the SDKs. Everything else is reachable through MEMEAGENT_*.
var envBindings = map[string]string{
	"arcade.user_id":           EnvArcadeUserID,
	"arcade.api_key":           EnvArcadeAPIKey,
	"arcade.base_url":          EnvArcadeBaseURL,
	"models.default":           EnvOpenAIModel,
	"models.openai_api_key":    EnvOpenAIAPIKey,
	"models.anthropic_api_key": EnvAnthropicAPIKey,
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new config loader. Either path may be empty;
// an empty envFile means ".env" in the working directory.
func NewLoader(configPath, envFile string) *Loader {
	if envFile == "" {
		envFile = ".env"
	}
	return &Loader{
		configPath: configPath,
		envFile:    envFile,
		lookupEnv:  os.LookupEnv,
	}
}

// Load builds the configuration from defaults, the optional JSON file,
// the .env file and the process environment, in increasing precedence.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", l.configPath, err)
		}
		v.SetConfigFile(l.configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	dotenv, err := l.readEnvFile()
	if err != nil {
		return nil, err
	}

	v.SetEnvPrefix("MEMEAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if val, ok := l.lookupEnv(env); ok && val != "" {
			v.Set(key, val)
			continue
		}
		if dotenv != nil && dotenv.IsSet(env) {
			v.Set(key, dotenv.GetString(env))
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// readEnvFile parses the .env file with viper's dotenv codec.
// A missing file is not an error.
func (l *Loader) readEnvFile() (*viper.Viper, error) {
	if _, err := os.Stat(l.envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("env file %s: %w", l.envFile, err)
	}

	dotenv := viper.New()
	dotenv.SetConfigFile(l.envFile)
	dotenv.SetConfigType("env")
	if err := dotenv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return dotenv, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("arcade.base_url", cfg.Arcade.BaseURL)
	v.SetDefault("arcade.toolkits", cfg.Arcade.Toolkits)
	v.SetDefault("arcade.tools", cfg.Arcade.Tools)
	v.SetDefault("arcade.limit", cfg.Arcade.Limit)
	v.SetDefault("arcade.user_id", "")
	v.SetDefault("arcade.api_key", "")
	v.SetDefault("mcp.url", "")
	v.SetDefault("models.default", "")
	v.SetDefault("models.provider", cfg.Models.Provider)
	v.SetDefault("models.openai_api_key", "")
	v.SetDefault("models.anthropic_api_key", "")
	v.SetDefault("models.temperature", cfg.Models.Temperature)
	v.SetDefault("models.max_tokens", cfg.Models.MaxTokens)
	v.SetDefault("agent.name", cfg.Agent.Name)
	v.SetDefault("agent.session_key", cfg.Agent.SessionKey)
	v.SetDefault("agent.system_prompt", "")
	v.SetDefault("agent.max_tool_rounds", cfg.Agent.MaxToolRounds)
	v.SetDefault("agent.confirm_tools", cfg.Agent.ConfirmTools)
	v.SetDefault("agent.tool_timeout", cfg.Agent.ToolTimeout)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.audit_file", "")
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("metrics.addr", "")
}

// Load is a convenience function that creates a loader, loads and validates the config
func Load(configPath, envFile string) (*Config, error) {
	cfg, err := NewLoader(configPath, envFile).Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
