package agent

import (
	"context"
	"fmt"

	"github.com/harun/memeagent/pkg/toolexecutor"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// ToolSpec is the model-facing description of a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []AgentMessage
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderConfig selects and authenticates a provider.
type ProviderConfig struct {
	Provider string // "openai" or "anthropic"
	APIKey   string
	BaseURL  string
}

// ProviderFactory creates LLM providers
type ProviderFactory struct{}

// NewProvider creates a new LLM provider based on config
func (f *ProviderFactory) NewProvider(cfg ProviderConfig) (LLMProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	case "openai", "":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// ToolSpecs converts registered tool definitions into model-facing specs.
func ToolSpecs(defs []toolexecutor.ToolDefinition) []ToolSpec {
	specs := make([]ToolSpec, 0, len(defs))
	for _, def := range defs {
		schema := def.InputSchema
		if schema == nil {
			schema = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		specs = append(specs, ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		})
	}
	return specs
}
