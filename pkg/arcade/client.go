package arcade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the hosted broker endpoint.
const DefaultBaseURL = "https://api.arcade.dev"

// authWaitSeconds is the server-side long-poll window for auth status.
const authWaitSeconds = 59

// APIError is a non-2xx broker response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("arcade API error (status %d): %s", e.StatusCode, e.Message)
}

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client talks to the broker's REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new broker client
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Longer than the auth long-poll window.
		httpClient = &http.Client{Timeout: (authWaitSeconds + 30) * time.Second}
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// ListToolsParams filters a tool listing.
type ListToolsParams struct {
	Toolkit string
	Limit   int
	Offset  int
	UserID  string
}

// ListTools lists tool definitions, optionally restricted to one toolkit.
func (c *Client) ListTools(ctx context.Context, params ListToolsParams) (*ToolList, error) {
	q := url.Values{}
	if params.Toolkit != "" {
		q.Set("toolkit", params.Toolkit)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	if params.UserID != "" {
		q.Set("user_id", params.UserID)
	}

	var list ToolList
	if err := c.do(ctx, http.MethodGet, "/v1/tools", q, nil, &list); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return &list, nil
}

// GetTool fetches one tool definition by dotted name.
func (c *Client) GetTool(ctx context.Context, name string) (*ToolDefinition, error) {
	var def ToolDefinition
	if err := c.do(ctx, http.MethodGet, "/v1/tools/"+url.PathEscape(name), nil, nil, &def); err != nil {
		return nil, fmt.Errorf("get tool %s: %w", name, err)
	}
	return &def, nil
}

// Authorize starts, or reports, the authorization a tool needs for a user.
func (c *Client) Authorize(ctx context.Context, toolName, userID string) (*AuthorizationResponse, error) {
	body := map[string]string{
		"tool_name": toolName,
		"user_id":   userID,
	}

	var resp AuthorizationResponse
	if err := c.do(ctx, http.MethodPost, "/v1/tools/authorize", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("authorize %s: %w", toolName, err)
	}
	return &resp, nil
}

// AuthStatus returns the status of an authorization, waiting up to
// wait seconds server-side for it to change.
func (c *Client) AuthStatus(ctx context.Context, authID string, wait int) (*AuthorizationResponse, error) {
	q := url.Values{}
	q.Set("id", authID)
	if wait > 0 {
		q.Set("wait", strconv.Itoa(wait))
	}

	var resp AuthorizationResponse
	if err := c.do(ctx, http.MethodGet, "/v1/auth/status", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("auth status %s: %w", authID, err)
	}
	return &resp, nil
}

// WaitForCompletion long-polls until the authorization completes.
// It has no deadline of its own and returns only on completion, on a
// failed status, on an API error or when ctx is done.
func (c *Client) WaitForCompletion(ctx context.Context, authID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := c.AuthStatus(ctx, authID, authWaitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch resp.Status {
		case AuthStatusCompleted:
			return nil
		case AuthStatusFailed:
			return fmt.Errorf("authorization %s failed", authID)
		}

		c.logger.Debug().Str("auth_id", authID).Str("status", resp.Status).Msg("Authorization pending")
	}
}

// Execute runs a tool for a user.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	if err := c.do(ctx, http.MethodPost, "/v1/tools/execute", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("execute %s: %w", req.ToolName, err)
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call arcade API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage prefers the "message" or "error" field of a JSON error body.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
