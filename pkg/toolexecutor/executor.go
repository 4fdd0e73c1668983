package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harun/memeagent/internal/observability"
	"github.com/harun/memeagent/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "memeagent/toolexecutor"

// DefaultTimeout bounds a tool call when the execution context sets none.
const DefaultTimeout = 60 * time.Second

// maxOutputSize is the largest serialized output passed back to the model.
const maxOutputSize = 10 * 1024

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name          string                 `json:"name"` // model-facing, e.g. Imgflip_CreateMeme
	QualifiedName string                 `json:"qualified_name,omitempty"`
	Description   string                 `json:"description"`
	InputSchema   map[string]interface{} `json:"input_schema"`
	Source        string                 `json:"source"`
	RequiresAuth  bool                   `json:"requires_auth,omitempty"`
	Handler       ToolHandler            `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	SessionKey string
	UserID     string
	Timeout    time.Duration
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Content renders the result as the text handed back to the model.
func (r ToolResult) Content() string {
	if !r.Success {
		return "Error: " + r.Error
	}
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	return &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	if def.InputSchema == nil {
		def.InputSchema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Str("source", def.Source).Msg("Tool registered")

	return nil
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names, sorted
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	return tools
}

// Definitions returns copies of all registered definitions, sorted by name
func (te *ToolExecutor) Definitions() []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.tools))
	for _, def := range te.tools {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Execute executes a tool with the given parameters
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()

	ctx, span := tracing.StartSpan(ctx, tracerName, "toolexecutor.execute", attribute.String("tool.name", toolName))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		logger.Error().Str("tool", toolName).Msg("Tool not found")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", toolName),
		}
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	if err := te.validateParameters(schema, params); err != nil {
		logger.Warn().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("parameter validation failed: %v", err),
		}
	}

	timeout := DefaultTimeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ContextWithExecContext(ctx, execCtx), timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := tool.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	var result ToolResult
	select {
	case output := <-resultChan:
		output, truncated := te.truncateOutput(output)
		result = ToolResult{
			Success:   true,
			Output:    output,
			Truncated: truncated,
		}

	case err := <-errChan:
		result = ToolResult{
			Success: false,
			Error:   err.Error(),
		}

	case <-timeoutCtx.Done():
		result = ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool execution timeout after %v", timeout),
		}
	}

	duration := time.Since(startTime)
	result.Metadata = map[string]interface{}{
		"duration": duration.Milliseconds(),
	}

	span.SetAttributes(attribute.Bool("tool.success", result.Success))
	observability.RecordToolExecution(toolName, duration, result.Success)

	actor := ""
	if execCtx != nil {
		actor = execCtx.SessionKey
	}
	status := "success"
	if !result.Success {
		status = "failure"
		logger.Error().
			Str("tool", toolName).
			Dur("duration", duration).
			Str("error", result.Error).
			Msg("Tool execution failed")
	} else {
		logger.Debug().
			Str("tool", toolName).
			Dur("duration", duration).
			Bool("truncated", result.Truncated).
			Msg("Tool execution completed")
	}
	observability.RecordToolAudit(ctx, toolName, actor, status, result.Metadata)

	return result
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if t, ok := def.InputSchema["type"]; ok && t != "object" {
		return fmt.Errorf("input schema of %s must be an object, got %v", def.Name, t)
	}
	return nil
}

// validateParameters validates parameters against a JSON Schema
func (te *ToolExecutor) validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}

// truncateOutput truncates output if its serialized form exceeds maxOutputSize
func (te *ToolExecutor) truncateOutput(output interface{}) (interface{}, bool) {
	var str string
	switch v := output.(type) {
	case string:
		str = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			str = fmt.Sprintf("%v", v)
		} else {
			str = string(data)
		}
	}

	if len(str) <= maxOutputSize {
		return output, false
	}

	log.Warn().
		Int("original", len(str)).
		Int("truncated", maxOutputSize).
		Msg("Output truncated")

	// Cut on a rune boundary.
	cut := maxOutputSize
	for cut > 0 && !utf8.RuneStart(str[cut]) {
		cut--
	}
	return str[:cut] + "\n... [output truncated]", true
}
