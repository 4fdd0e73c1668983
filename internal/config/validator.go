package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator checks setting formats. Its findings are warnings: a key with an
// unusual prefix may still be accepted by the provider.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "arcade":
		if !strings.HasPrefix(key, "arc_") {
			return fmt.Errorf("invalid Arcade API key format (should start with arc_)")
		}
	}

	return nil
}

// ValidateBaseURL validates the broker endpoint
func (v *Validator) ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base url %q: missing host", raw)
	}
	return nil
}

// ValidateToolName validates a qualified tool name such as Imgflip.CreateMeme
func (v *Validator) ValidateToolName(name string) error {
	toolkit, tool, ok := strings.Cut(name, ".")
	if !ok || toolkit == "" || tool == "" {
		return fmt.Errorf("invalid tool name %q (expected Toolkit.Tool)", name)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	provider, _ := cfg.ProviderAndModel()
	switch provider {
	case "openai":
		if cfg.Models.OpenAIAPIKey != "" {
			if err := v.ValidateAPIKey(cfg.Models.OpenAIAPIKey, "openai"); err != nil {
				errors = append(errors, err)
			}
		}
	case "anthropic":
		if err := v.ValidateAPIKey(cfg.Models.AnthropicAPIKey, "anthropic"); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Arcade.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Arcade.APIKey, "arcade"); err != nil {
			errors = append(errors, err)
		}
	}
	if err := v.ValidateBaseURL(cfg.Arcade.BaseURL); err != nil {
		errors = append(errors, err)
	}
	for _, name := range cfg.Arcade.Tools {
		if err := v.ValidateToolName(name); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.MCP.URL != "" {
		if err := v.ValidateBaseURL(cfg.MCP.URL); err != nil {
			errors = append(errors, fmt.Errorf("mcp: %w", err))
		}
	}

	if err := v.ValidateTemperature(cfg.Models.Temperature); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateMaxTokens(cfg.Models.MaxTokens); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if cfg.Agent.ToolTimeout < 0 {
		errors = append(errors, fmt.Errorf("agent.tool_timeout must be >= 0"))
	}

	return errors
}
