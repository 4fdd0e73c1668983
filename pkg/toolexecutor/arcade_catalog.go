package toolexecutor

import (
	"context"
	"fmt"

	"github.com/harun/memeagent/pkg/arcade"
	"github.com/rs/zerolog"
)

// ArcadeAPI is the part of the broker client the catalog needs.
type ArcadeAPI interface {
	ListTools(ctx context.Context, params arcade.ListToolsParams) (*arcade.ToolList, error)
	GetTool(ctx context.Context, name string) (*arcade.ToolDefinition, error)
	Execute(ctx context.Context, req arcade.ExecuteRequest) (*arcade.ExecuteResponse, error)
}

// ArcadeCatalog serves tools hosted by the Arcade broker.
type ArcadeCatalog struct {
	client ArcadeAPI
	logger zerolog.Logger
}

// NewArcadeCatalog creates a broker-backed catalog.
func NewArcadeCatalog(client ArcadeAPI, logger zerolog.Logger) *ArcadeCatalog {
	return &ArcadeCatalog{client: client, logger: logger}
}

// Name implements Catalog.
func (c *ArcadeCatalog) Name() string {
	return "arcade"
}

// Tools lists every requested toolkit, fetches each individually named tool,
// drops duplicates, and truncates the result to req.Limit.
func (c *ArcadeCatalog) Tools(ctx context.Context, req CatalogRequest) ([]ToolDefinition, error) {
	seen := make(map[string]bool)
	var defs []ToolDefinition

	add := func(def arcade.ToolDefinition) {
		name := def.FunctionName()
		if seen[name] {
			return
		}
		seen[name] = true
		defs = append(defs, c.toDefinition(def, req.UserID))
	}

	for _, toolkit := range req.Toolkits {
		list, err := c.client.ListTools(ctx, arcade.ListToolsParams{
			Toolkit: toolkit,
			Limit:   req.Limit,
			UserID:  req.UserID,
		})
		if err != nil {
			return nil, fmt.Errorf("toolkit %s: %w", toolkit, err)
		}
		for _, def := range list.Items {
			add(def)
		}
	}

	for _, name := range req.Tools {
		def, err := c.client.GetTool(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		add(*def)
	}

	return truncateDefinitions(c.Name(), defs, req.Limit), nil
}

func (c *ArcadeCatalog) toDefinition(def arcade.ToolDefinition, userID string) ToolDefinition {
	dotted := def.DottedName()
	return ToolDefinition{
		Name:          def.FunctionName(),
		QualifiedName: dotted,
		Description:   def.Description,
		InputSchema:   def.JSONSchema(),
		Source:        c.Name(),
		RequiresAuth:  def.RequiresAuthorization(),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			uid := userID
			if execCtx := ExecContextFromContext(ctx); execCtx != nil && execCtx.UserID != "" {
				uid = execCtx.UserID
			}
			return c.execute(ctx, dotted, params, uid)
		},
	}
}

func (c *ArcadeCatalog) execute(ctx context.Context, toolName string, params map[string]interface{}, userID string) (interface{}, error) {
	resp, err := c.client.Execute(ctx, arcade.ExecuteRequest{
		ToolName: toolName,
		Input:    params,
		UserID:   userID,
	})
	if err != nil {
		return nil, err
	}

	if resp.Output != nil && resp.Output.Error != nil {
		return nil, fmt.Errorf("%s: %s", toolName, resp.Output.Error.Message)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s: execution failed", toolName)
	}

	c.logger.Debug().Str("tool", toolName).Str("execution_id", resp.ExecutionID).Msg("Broker tool executed")

	if resp.Output == nil {
		return nil, nil
	}
	return resp.Output.Value, nil
}
