package arcade

import (
	"strings"
)

// ToolDefinition describes one broker-hosted tool.
type ToolDefinition struct {
	Name               string       `json:"name"`
	FullyQualifiedName string       `json:"fully_qualified_name"`
	QualifiedName      string       `json:"qualified_name"`
	Description        string       `json:"description"`
	Toolkit            Toolkit      `json:"toolkit"`
	Input              ToolInput    `json:"input"`
	Requirements       Requirements `json:"requirements"`
}

// Toolkit identifies the toolkit a tool belongs to.
type Toolkit struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

// ToolInput lists a tool's parameters.
type ToolInput struct {
	Parameters []Parameter `json:"parameters"`
}

// Parameter is one tool argument.
type Parameter struct {
	Name        string      `json:"name"`
	Required    bool        `json:"required"`
	Description string      `json:"description"`
	ValueSchema ValueSchema `json:"value_schema"`
}

// ValueSchema is the broker's type description of a parameter.
type ValueSchema struct {
	ValType      string   `json:"val_type"`
	InnerValType string   `json:"inner_val_type,omitempty"`
	Enum         []string `json:"enum,omitempty"`
}

// Requirements lists what a tool needs before it can run.
type Requirements struct {
	Authorization *AuthorizationRequirement `json:"authorization,omitempty"`
}

// AuthorizationRequirement names the auth provider a tool depends on.
type AuthorizationRequirement struct {
	ID           string `json:"id,omitempty"`
	ProviderID   string `json:"provider_id,omitempty"`
	ProviderType string `json:"provider_type,omitempty"`
}

// DottedName returns the dotted name, e.g. Imgflip.CreateMeme.
func (t ToolDefinition) DottedName() string {
	if t.QualifiedName != "" {
		return t.QualifiedName
	}
	if t.Toolkit.Name != "" {
		return t.Toolkit.Name + "." + t.Name
	}
	return t.Name
}

// FunctionName returns the model-facing name, e.g. Imgflip_CreateMeme.
func (t ToolDefinition) FunctionName() string {
	return FunctionName(t.DottedName())
}

// FunctionName converts a dotted tool name to the model-facing form.
func FunctionName(dotted string) string {
	return strings.ReplaceAll(dotted, ".", "_")
}

// RequiresAuthorization reports whether the tool declares an auth requirement.
func (t ToolDefinition) RequiresAuthorization() bool {
	return t.Requirements.Authorization != nil
}

// JSONSchema renders the parameters as a JSON schema object.
func (t ToolDefinition) JSONSchema() map[string]any {
	properties := make(map[string]any, len(t.Input.Parameters))
	required := make([]string, 0)

	for _, p := range t.Input.Parameters {
		prop := valueSchema(p.ValueSchema.ValType, p.ValueSchema.InnerValType)
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.ValueSchema.Enum) > 0 {
			enum := make([]any, len(p.ValueSchema.Enum))
			for i, v := range p.ValueSchema.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func valueSchema(valType, inner string) map[string]any {
	switch valType {
	case "string", "integer", "number", "boolean":
		return map[string]any{"type": valType}
	case "array":
		prop := map[string]any{"type": "array"}
		if inner != "" {
			prop["items"] = valueSchema(inner, "")
		}
		return prop
	case "json":
		return map[string]any{"type": "object"}
	default:
		return map[string]any{}
	}
}

// ToolList is a page of tool definitions.
type ToolList struct {
	Items      []ToolDefinition `json:"items"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
	PageCount  int              `json:"page_count"`
	TotalCount int              `json:"total_count"`
}

// Authorization status values.
const (
	AuthStatusNotStarted = "not_started"
	AuthStatusPending    = "pending"
	AuthStatusCompleted  = "completed"
	AuthStatusFailed     = "failed"
)

// AuthorizationResponse is the state of one authorization request.
type AuthorizationResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	URL    string   `json:"url,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	UserID string   `json:"user_id,omitempty"`
}

// Completed reports whether the user finished authorizing.
func (a AuthorizationResponse) Completed() bool {
	return a.Status == AuthStatusCompleted
}

// ExecuteRequest runs a tool for a user.
type ExecuteRequest struct {
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input"`
	UserID   string         `json:"user_id,omitempty"`
}

// ExecuteResponse is the result of a tool execution.
type ExecuteResponse struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Status      string         `json:"status,omitempty"`
	Success     bool           `json:"success"`
	Duration    float64        `json:"duration,omitempty"`
	Output      *ExecuteOutput `json:"output,omitempty"`
}

// ExecuteOutput carries either a value or an error.
type ExecuteOutput struct {
	Value any             `json:"value,omitempty"`
	Error *ExecutionError `json:"error,omitempty"`
}

// ExecutionError is a tool-level failure.
type ExecutionError struct {
	Message  string `json:"message"`
	CanRetry bool   `json:"can_retry,omitempty"`
}
