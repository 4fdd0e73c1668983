package toolexecutor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// MCPClient is the part of the mcp-go client the catalog uses.
type MCPClient interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error)
	ListTools(ctx context.Context, req mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error)
	CallTool(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
	Close() error
}

// MCPCatalog serves tools from an MCP server, such as an Arcade MCP gateway.
type MCPCatalog struct {
	client  MCPClient
	version string
	logger  zerolog.Logger

	mu          sync.Mutex
	initialized bool
}

// NewMCPCatalog wraps an already constructed MCP client.
func NewMCPCatalog(client MCPClient, version string, logger zerolog.Logger) *MCPCatalog {
	return &MCPCatalog{client: client, version: version, logger: logger}
}

// NewStreamableHTTPCatalog connects to an MCP server over streamable HTTP.
func NewStreamableHTTPCatalog(url string, headers map[string]string, version string, logger zerolog.Logger) (*MCPCatalog, error) {
	var opts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}

	client, err := mcpclient.NewStreamableHttpClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("create MCP client for %s: %w", url, err)
	}
	return NewMCPCatalog(client, version, logger), nil
}

// Name implements Catalog.
func (c *MCPCatalog) Name() string {
	return "mcp"
}

func (c *MCPCatalog) ensureInitialized(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	if err := c.client.Start(ctx); err != nil {
		return fmt.Errorf("start MCP client: %w", err)
	}

	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpgo.Implementation{Name: "memeagent", Version: c.version}

	result, err := c.client.Initialize(ctx, req)
	if err != nil {
		return fmt.Errorf("initialize MCP session: %w", err)
	}

	c.logger.Info().
		Str("server", result.ServerInfo.Name).
		Str("protocol", result.ProtocolVersion).
		Msg("MCP session initialized")

	c.initialized = true
	return nil
}

// Tools lists the server's tools. Toolkits and Tools act as filters on the
// server-side name ("Imgflip_CreateMeme" matches toolkit Imgflip and tool
// Imgflip.CreateMeme); with neither set every tool is returned.
func (c *MCPCatalog) Tools(ctx context.Context, req CatalogRequest) ([]ToolDefinition, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	var (
		defs   []ToolDefinition
		cursor mcpgo.Cursor
	)
	for {
		listReq := mcpgo.ListToolsRequest{}
		listReq.Params.Cursor = cursor

		result, err := c.client.ListTools(ctx, listReq)
		if err != nil {
			return nil, fmt.Errorf("list MCP tools: %w", err)
		}

		for _, tool := range result.Tools {
			if !matchesSelection(tool.Name, req) {
				continue
			}
			defs = append(defs, c.toDefinition(tool))
		}

		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	return truncateDefinitions(c.Name(), defs, req.Limit), nil
}

func matchesSelection(name string, req CatalogRequest) bool {
	if len(req.Toolkits) == 0 && len(req.Tools) == 0 {
		return true
	}
	normalized := strings.ReplaceAll(name, ".", "_")
	for _, toolkit := range req.Toolkits {
		if strings.HasPrefix(strings.ToLower(normalized), strings.ToLower(toolkit)+"_") {
			return true
		}
	}
	for _, tool := range req.Tools {
		if strings.EqualFold(normalized, strings.ReplaceAll(tool, ".", "_")) {
			return true
		}
	}
	return false
}

func (c *MCPCatalog) toDefinition(tool mcpgo.Tool) ToolDefinition {
	original := tool.Name
	return ToolDefinition{
		Name:          strings.ReplaceAll(original, ".", "_"),
		QualifiedName: original,
		Description:   tool.Description,
		InputSchema:   inputSchemaToMap(tool.InputSchema),
		Source:        c.Name(),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return c.callTool(ctx, original, params)
		},
	}
}

func (c *MCPCatalog) callTool(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = params

	result, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP tool %s: %w", name, err)
	}

	text := extractTextContent(result)
	if result.IsError {
		return nil, fmt.Errorf("MCP tool %s: %s", name, text)
	}
	return text, nil
}

// Close ends the MCP session.
func (c *MCPCatalog) Close() error {
	return c.client.Close()
}

// inputSchemaToMap converts the MCP input schema into a plain JSON schema map.
func inputSchemaToMap(schema mcpgo.ToolInputSchema) map[string]interface{} {
	m := map[string]interface{}{
		"type": schema.Type,
	}
	if schema.Type == "" {
		m["type"] = "object"
	}
	if len(schema.Properties) > 0 {
		m["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		m["required"] = schema.Required
	}
	return m
}

// extractTextContent concatenates the text parts of a tool result.
func extractTextContent(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}

	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		case mcpgo.ImageContent:
			parts = append(parts, fmt.Sprintf("[image: %s]", v.MIMEType))
		default:
			parts = append(parts, fmt.Sprintf("[non-text content: %T]", c))
		}
	}
	return strings.Join(parts, "\n")
}
