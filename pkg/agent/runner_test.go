package agent

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/harun/memeagent/pkg/arcade"
	"github.com/harun/memeagent/pkg/interrupt"
	"github.com/harun/memeagent/pkg/session"
	"github.com/harun/memeagent/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	resp *LLMResponse
	err  error
}

// scriptedProvider replays canned responses and records every request.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []step
	fallback *LLMResponse
	requests []LLMRequest
}

func (p *scriptedProvider) Call(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = append([]AgentMessage(nil), req.Messages...)
	p.requests = append(p.requests, req)

	if len(p.steps) == 0 {
		if p.fallback != nil {
			return p.fallback, nil
		}
		return &LLMResponse{Content: "done"}, nil
	}
	s := p.steps[0]
	p.steps = p.steps[1:]
	return s.resp, s.err
}

func (p *scriptedProvider) Provider() string { return "scripted" }

func (p *scriptedProvider) lastRequest() LLMRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

type fakeAuthorizer struct {
	mu        sync.Mutex
	responses map[string]*arcade.AuthorizationResponse
	err       error
	calls     []string
}

func (a *fakeAuthorizer) Authorize(ctx context.Context, toolName, userID string) (*arcade.AuthorizationResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, toolName+"|"+userID)
	if a.err != nil {
		return nil, a.err
	}
	if resp, ok := a.responses[toolName]; ok {
		return resp, nil
	}
	return &arcade.AuthorizationResponse{Status: arcade.AuthStatusCompleted}, nil
}

type testEnv struct {
	runner     *Runner
	provider   *scriptedProvider
	store      *session.Store
	authorizer *fakeAuthorizer
	executed   map[string]*int32
}

func toolCall(id, name string, params map[string]interface{}) ToolCall {
	return ToolCall{ID: id, Name: name, Parameters: params}
}

func setupTestRunner(t *testing.T, steps ...step) *testEnv {
	t.Helper()

	env := &testEnv{
		provider:   &scriptedProvider{steps: steps},
		store:      session.NewStore(),
		authorizer: &fakeAuthorizer{responses: map[string]*arcade.AuthorizationResponse{}},
		executed:   map[string]*int32{},
	}

	te := toolexecutor.New()
	register := func(def toolexecutor.ToolDefinition, output string) {
		var count int32
		env.executed[def.Name] = &count
		def.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			atomic.AddInt32(&count, 1)
			return output, nil
		}
		require.NoError(t, te.RegisterTool(def))
	}

	register(toolexecutor.ToolDefinition{
		Name:          "Imgflip_SearchMemes",
		QualifiedName: "Imgflip.SearchMemes",
		Description:   "Search meme templates",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
			"required":   []string{"query"},
		},
	}, `[{"id":"181913649","name":"Drake Hotline Bling"}]`)
	register(toolexecutor.ToolDefinition{
		Name:          "Imgflip_CreateMeme",
		QualifiedName: "Imgflip.CreateMeme",
		Description:   "Create a meme",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"template_id": map[string]interface{}{"type": "string"}},
			"required":   []string{"template_id"},
		},
	}, "https://i.imgflip.com/abc.jpg")
	register(toolexecutor.ToolDefinition{
		Name:          "Slack_SendMessage",
		QualifiedName: "Slack.SendMessage",
		Description:   "Post a message",
		RequiresAuth:  true,
	}, "sent")
	register(toolexecutor.ToolDefinition{
		Name:          "Slack_DeleteMessage",
		QualifiedName: "Slack.DeleteMessage",
		Description:   "Delete a message",
		RequiresAuth:  true,
	}, "deleted")

	runner, err := NewRunner(Config{
		Provider:     env.provider,
		Tools:        te,
		Sessions:     env.store,
		Authorizer:   env.authorizer,
		Logger:       zerolog.Nop(),
		Model:        "gpt-4o",
		UserID:       "user@example.com",
		ConfirmTools: []string{"Imgflip.CreateMeme", "Slack_DeleteMessage"},
	})
	require.NoError(t, err)
	env.runner = runner
	return env
}

func (env *testEnv) count(name string) int {
	return int(atomic.LoadInt32(env.executed[name]))
}

func streamAll(t *testing.T, r *Runner, input Input) []Event {
	t.Helper()
	ch, err := r.Stream(context.Background(), "1", input)
	require.NoError(t, err)

	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func lastEvent(events []Event) Event {
	if len(events) == 0 {
		return Event{}
	}
	return events[len(events)-1]
}

func resume(decisions ...interrupt.Decision) Input {
	return ResumeInput(interrupt.NewResumePayload(decisions))
}

func TestNewRunner(t *testing.T) {
	store := session.NewStore()
	te := toolexecutor.New()
	provider := &scriptedProvider{}

	t.Run("should create runner with defaults", func(t *testing.T) {
		r, err := NewRunner(Config{Provider: provider, Tools: te, Sessions: store, Model: "gpt-4o"})
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxToolRounds, r.maxRounds)
		assert.Equal(t, DefaultSystemPrompt, r.systemPrompt)
	})

	t.Run("should normalize confirmation names", func(t *testing.T) {
		r, err := NewRunner(Config{
			Provider: provider, Tools: te, Sessions: store, Model: "gpt-4o",
			ConfirmTools: []string{"Imgflip.CreateMeme"},
		})
		require.NoError(t, err)
		assert.True(t, r.confirm["Imgflip_CreateMeme"])
	})

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing provider", Config{Tools: te, Sessions: store, Model: "m"}, "provider"},
		{"missing tools", Config{Provider: provider, Sessions: store, Model: "m"}, "tool runner"},
		{"missing sessions", Config{Provider: provider, Tools: te, Model: "m"}, "session store"},
		{"missing model", Config{Provider: provider, Tools: te, Sessions: store}, "model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunner_Stream_RejectsBadInput(t *testing.T) {
	env := setupTestRunner(t)

	_, err := env.runner.Stream(context.Background(), "", UserInput("hi"))
	assert.Error(t, err)

	_, err = env.runner.Stream(context.Background(), "1", Input{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestRunner_Stream_PlainReply(t *testing.T) {
	env := setupTestRunner(t, step{resp: &LLMResponse{Content: "Hi! Want a meme?"}})

	events := streamAll(t, env.runner, UserInput("hello"))

	require.Len(t, events, 1)
	assert.Equal(t, EventContent, events[0].Type)
	assert.Equal(t, session.RoleAssistant, events[0].Role)
	assert.Equal(t, "Hi! Want a meme?", events[0].Text)

	req := env.provider.lastRequest()
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, DefaultSystemPrompt, req.SystemPrompt)
	assert.Len(t, req.Tools, 4)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hello", req.Messages[0].Content)

	cp, err := env.store.Load(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, cp.Messages, 2)
	assert.False(t, cp.HasPending())
}

func TestRunner_Stream_UngatedToolRuns(t *testing.T) {
	env := setupTestRunner(t,
		step{resp: &LLMResponse{ToolCalls: []ToolCall{toolCall("call_1", "Imgflip_SearchMemes", map[string]interface{}{"query": "drake"})}}},
		step{resp: &LLMResponse{Content: "Found Drake Hotline Bling"}},
	)

	events := streamAll(t, env.runner, UserInput("find drake"))

	require.Len(t, events, 3)
	assert.Len(t, events[0].ToolCalls, 1)
	assert.Equal(t, session.RoleTool, events[1].Role)
	assert.Equal(t, "Imgflip_SearchMemes", events[1].ToolName)
	assert.Contains(t, events[1].Text, "Drake")
	assert.Equal(t, "Found Drake Hotline Bling", events[2].Text)
	assert.Equal(t, 1, env.count("Imgflip_SearchMemes"))

	req := env.provider.lastRequest()
	require.Len(t, req.Messages, 3)
	assert.Equal(t, session.RoleTool, req.Messages[2].Role)
	assert.Equal(t, "call_1", req.Messages[2].ToolCallID)
}

func TestRunner_Stream_ApprovalSuspension(t *testing.T) {
	create := toolCall("call_1", "Imgflip_CreateMeme", map[string]interface{}{"template_id": "181913649"})

	t.Run("approve executes the call", func(t *testing.T) {
		env := setupTestRunner(t,
			step{resp: &LLMResponse{ToolCalls: []ToolCall{create}}},
			step{resp: &LLMResponse{Content: "Here is your meme"}},
		)

		events := streamAll(t, env.runner, UserInput("make it"))
		last := lastEvent(events)
		require.Equal(t, EventSuspension, last.Type)
		require.Len(t, last.Suspensions, 1)
		s := last.Suspensions[0]
		assert.Equal(t, interrupt.KindApprovalRequired, s.Kind)
		assert.Equal(t, "Imgflip_CreateMeme", s.ToolName)
		assert.Equal(t, "call_1", s.ToolCallID)
		assert.Equal(t, "181913649", s.Input["template_id"])
		assert.Equal(t, 0, env.count("Imgflip_CreateMeme"))
		assert.Equal(t, 1, env.store.PendingCount())

		events = streamAll(t, env.runner, resume(interrupt.Approve))
		require.Len(t, events, 2)
		assert.Equal(t, "https://i.imgflip.com/abc.jpg", events[0].Text)
		assert.Equal(t, "Here is your meme", events[1].Text)
		assert.Equal(t, 1, env.count("Imgflip_CreateMeme"))
		assert.Equal(t, 0, env.store.PendingCount())
	})

	t.Run("deny tells the model and skips execution", func(t *testing.T) {
		env := setupTestRunner(t,
			step{resp: &LLMResponse{ToolCalls: []ToolCall{create}}},
			step{resp: &LLMResponse{Content: "Okay, I will not create it"}},
		)

		streamAll(t, env.runner, UserInput("make it"))
		events := streamAll(t, env.runner, resume(interrupt.Deny))

		require.Len(t, events, 2)
		assert.Contains(t, events[0].Text, "denied")
		assert.Equal(t, 0, env.count("Imgflip_CreateMeme"))

		req := env.provider.lastRequest()
		toolMsg := req.Messages[len(req.Messages)-1]
		assert.Equal(t, session.RoleTool, toolMsg.Role)
		assert.Equal(t, "call_1", toolMsg.ToolCallID)
		assert.Contains(t, toolMsg.Content, "denied")
	})
}

func TestRunner_Stream_BatchPreservesOrder(t *testing.T) {
	env := setupTestRunner(t,
		step{resp: &LLMResponse{ToolCalls: []ToolCall{
			toolCall("call_a", "Imgflip_CreateMeme", map[string]interface{}{"template_id": "1"}),
			toolCall("call_b", "Imgflip_SearchMemes", map[string]interface{}{"query": "cats"}),
			toolCall("call_c", "Imgflip_CreateMeme", map[string]interface{}{"template_id": "2"}),
		}}},
		step{resp: &LLMResponse{Content: "Made one"}},
	)

	events := streamAll(t, env.runner, UserInput("two memes"))
	last := lastEvent(events)
	require.Equal(t, EventSuspension, last.Type)
	require.Len(t, last.Suspensions, 2)
	assert.Equal(t, "call_a", last.Suspensions[0].ToolCallID)
	assert.Equal(t, "call_c", last.Suspensions[1].ToolCallID)

	// Nothing in the batch runs while a decision is outstanding.
	assert.Equal(t, 0, env.count("Imgflip_SearchMemes"))

	events = streamAll(t, env.runner, resume(interrupt.Approve, interrupt.Deny))
	require.Len(t, events, 4)
	assert.Equal(t, "https://i.imgflip.com/abc.jpg", events[0].Text)
	assert.Contains(t, events[1].Text, "Drake")
	assert.Contains(t, events[2].Text, "denied")
	assert.Equal(t, 1, env.count("Imgflip_CreateMeme"))
	assert.Equal(t, 1, env.count("Imgflip_SearchMemes"))

	req := env.provider.lastRequest()
	n := len(req.Messages)
	assert.Equal(t, "call_a", req.Messages[n-3].ToolCallID)
	assert.Equal(t, "call_b", req.Messages[n-2].ToolCallID)
	assert.Equal(t, "call_c", req.Messages[n-1].ToolCallID)
}

func TestRunner_Stream_AuthorizationSuspension(t *testing.T) {
	send := toolCall("call_1", "Slack_SendMessage", nil)

	t.Run("pending authorization suspends", func(t *testing.T) {
		env := setupTestRunner(t,
			step{resp: &LLMResponse{ToolCalls: []ToolCall{send}}},
			step{resp: &LLMResponse{Content: "Sent"}},
		)
		env.authorizer.responses["Slack.SendMessage"] = &arcade.AuthorizationResponse{
			ID: "auth_1", Status: arcade.AuthStatusPending, URL: "https://example.com/oauth",
		}

		events := streamAll(t, env.runner, UserInput("post it"))
		last := lastEvent(events)
		require.Equal(t, EventSuspension, last.Type)
		s := last.Suspensions[0]
		assert.Equal(t, interrupt.KindAuthorizationRequired, s.Kind)
		require.NotNil(t, s.Authorization)
		assert.Equal(t, "auth_1", s.Authorization.ID)
		assert.Equal(t, "https://example.com/oauth", s.Authorization.URL)
		assert.Equal(t, []string{"Slack.SendMessage|user@example.com"}, env.authorizer.calls)

		events = streamAll(t, env.runner, resume(interrupt.Approve))
		require.Len(t, events, 2)
		assert.Equal(t, "sent", events[0].Text)
		assert.Equal(t, 1, env.count("Slack_SendMessage"))
		assert.Len(t, env.authorizer.calls, 1)
	})

	t.Run("completed authorization passes", func(t *testing.T) {
		env := setupTestRunner(t,
			step{resp: &LLMResponse{ToolCalls: []ToolCall{send}}},
			step{resp: &LLMResponse{Content: "Sent"}},
		)

		events := streamAll(t, env.runner, UserInput("post it"))
		assert.NotEqual(t, EventSuspension, lastEvent(events).Type)
		assert.Equal(t, 1, env.count("Slack_SendMessage"))
	})

	t.Run("denied authorization", func(t *testing.T) {
		env := setupTestRunner(t,
			step{resp: &LLMResponse{ToolCalls: []ToolCall{send}}},
			step{resp: &LLMResponse{Content: "Could not send"}},
		)
		env.authorizer.responses["Slack.SendMessage"] = &arcade.AuthorizationResponse{ID: "auth_1", Status: arcade.AuthStatusPending}

		streamAll(t, env.runner, UserInput("post it"))
		events := streamAll(t, env.runner, resume(interrupt.Deny))
		require.Len(t, events, 2)
		assert.Contains(t, events[0].Text, "Authorization for Slack_SendMessage was not granted")
		assert.Equal(t, 0, env.count("Slack_SendMessage"))
	})

	t.Run("broker error becomes a tool error", func(t *testing.T) {
		env := setupTestRunner(t,
			step{resp: &LLMResponse{ToolCalls: []ToolCall{send}}},
			step{resp: &LLMResponse{Content: "Something went wrong"}},
		)
		env.authorizer.err = errors.New("broker unavailable")

		events := streamAll(t, env.runner, UserInput("post it"))
		require.Len(t, events, 3)
		assert.Contains(t, events[1].Text, "authorization check failed")
		assert.Equal(t, 0, env.count("Slack_SendMessage"))
	})

	t.Run("authorized call may still need approval", func(t *testing.T) {
		env := setupTestRunner(t,
			step{resp: &LLMResponse{ToolCalls: []ToolCall{toolCall("call_1", "Slack_DeleteMessage", nil)}}},
			step{resp: &LLMResponse{Content: "Deleted"}},
		)
		env.authorizer.responses["Slack.DeleteMessage"] = &arcade.AuthorizationResponse{ID: "auth_1", Status: arcade.AuthStatusPending}

		events := streamAll(t, env.runner, UserInput("delete it"))
		assert.Equal(t, interrupt.KindAuthorizationRequired, lastEvent(events).Suspensions[0].Kind)

		events = streamAll(t, env.runner, resume(interrupt.Approve))
		last := lastEvent(events)
		require.Equal(t, EventSuspension, last.Type)
		assert.Equal(t, interrupt.KindApprovalRequired, last.Suspensions[0].Kind)
		assert.Equal(t, 0, env.count("Slack_DeleteMessage"))

		events = streamAll(t, env.runner, resume(interrupt.Approve))
		assert.Equal(t, "Deleted", lastEvent(events).Text)
		assert.Equal(t, 1, env.count("Slack_DeleteMessage"))
	})
}

func TestRunner_Stream_ResumeErrors(t *testing.T) {
	t.Run("no pending turn", func(t *testing.T) {
		env := setupTestRunner(t)

		events := streamAll(t, env.runner, resume(interrupt.Approve))
		require.Len(t, events, 1)
		assert.Equal(t, EventError, events[0].Type)
		assert.ErrorIs(t, events[0].Err, ErrNoPendingTurn)
	})

	t.Run("decision count mismatch keeps the pending batch", func(t *testing.T) {
		env := setupTestRunner(t,
			step{resp: &LLMResponse{ToolCalls: []ToolCall{toolCall("call_1", "Imgflip_CreateMeme", map[string]interface{}{"template_id": "1"})}}},
		)
		streamAll(t, env.runner, UserInput("make it"))

		events := streamAll(t, env.runner, resume(interrupt.Approve, interrupt.Approve))
		require.Len(t, events, 1)
		assert.ErrorIs(t, events[0].Err, ErrDecisionMismatch)
		assert.Equal(t, 1, env.store.PendingCount())
		assert.Equal(t, 0, env.count("Imgflip_CreateMeme"))
	})
}

func TestRunner_Stream_NewInputCancelsPending(t *testing.T) {
	env := setupTestRunner(t,
		step{resp: &LLMResponse{ToolCalls: []ToolCall{toolCall("call_1", "Imgflip_CreateMeme", map[string]interface{}{"template_id": "1"})}}},
		step{resp: &LLMResponse{Content: "Sure, something else"}},
	)

	streamAll(t, env.runner, UserInput("make it"))
	events := streamAll(t, env.runner, UserInput("never mind"))

	require.Len(t, events, 1)
	assert.Equal(t, "Sure, something else", events[0].Text)
	assert.Equal(t, 0, env.store.PendingCount())
	assert.Equal(t, 0, env.count("Imgflip_CreateMeme"))

	req := env.provider.lastRequest()
	n := len(req.Messages)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, session.RoleTool, req.Messages[n-2].Role)
	assert.Contains(t, req.Messages[n-2].Content, "cancelled")
	assert.Equal(t, "never mind", req.Messages[n-1].Content)
}

func TestRunner_Stream_MaxRounds(t *testing.T) {
	env := setupTestRunner(t)
	env.provider.fallback = &LLMResponse{ToolCalls: []ToolCall{toolCall("call_x", "Imgflip_SearchMemes", map[string]interface{}{"query": "loop"})}}
	env.runner.maxRounds = 2

	events := streamAll(t, env.runner, UserInput("loop forever"))
	last := lastEvent(events)
	require.Equal(t, EventError, last.Type)
	assert.ErrorIs(t, last.Err, ErrMaxRounds)
	assert.Equal(t, 2, env.count("Imgflip_SearchMemes"))
}

func TestRunner_Stream_ProviderError(t *testing.T) {
	env := setupTestRunner(t, step{err: errors.New("rate limited")})

	events := streamAll(t, env.runner, UserInput("hello"))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Err.Error(), "rate limited")
}

func TestRunner_Stream_UnknownToolReported(t *testing.T) {
	env := setupTestRunner(t,
		step{resp: &LLMResponse{ToolCalls: []ToolCall{toolCall("call_1", "Nope_Tool", nil)}}},
		step{resp: &LLMResponse{Content: "That tool does not exist"}},
	)

	events := streamAll(t, env.runner, UserInput("use nope"))
	require.Len(t, events, 3)
	assert.Contains(t, events[1].Text, "tool not found")
}

func TestCloseDanglingCalls(t *testing.T) {
	cp := &session.Checkpoint{
		SessionKey: "1",
		Messages: []AgentMessage{
			{Role: session.RoleUser, Content: "hi"},
			{Role: session.RoleAssistant, ToolCalls: []ToolCall{{ID: "a", Name: "x"}, {ID: "b", Name: "y"}}},
			{Role: session.RoleTool, ToolCallID: "a", Content: "ok"},
		},
	}

	assert.Equal(t, 1, closeDanglingCalls(cp))
	require.Len(t, cp.Messages, 4)
	assert.Equal(t, "b", cp.Messages[3].ToolCallID)
	assert.Equal(t, 0, closeDanglingCalls(cp))
}

func TestRunner_Stream_LogsWithTraceContext(t *testing.T) {
	env := setupTestRunner(t,
		step{resp: &LLMResponse{Content: "Here you go", Usage: &TokenUsage{InputTokens: 12, OutputTokens: 3}}},
		step{err: errors.New("rate limited")},
	)
	var buf bytes.Buffer
	env.runner.logger = zerolog.New(&buf).Level(zerolog.DebugLevel)

	streamAll(t, env.runner, UserInput("hello"))
	assert.Contains(t, buf.String(), `"message":"Model responded"`)
	assert.Contains(t, buf.String(), `"input_tokens":12`)
	assert.Contains(t, buf.String(), `"session_key":"1"`)

	streamAll(t, env.runner, UserInput("again"))
	assert.Contains(t, buf.String(), `"message":"Agent stream failed"`)
}

func TestRunner_Stream_RenamedToolKeepsConfirmation(t *testing.T) {
	te := toolexecutor.New()
	var ran int32
	require.NoError(t, te.RegisterTool(toolexecutor.ToolDefinition{
		Name:          "mcp_Imgflip_CreateMeme",
		QualifiedName: "Imgflip_CreateMeme",
		Source:        "mcp",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			atomic.AddInt32(&ran, 1)
			return "made", nil
		},
	}))

	provider := &scriptedProvider{steps: []step{
		{resp: &LLMResponse{ToolCalls: []ToolCall{toolCall("call_1", "mcp_Imgflip_CreateMeme", nil)}}},
	}}
	r, err := NewRunner(Config{
		Provider:     provider,
		Tools:        te,
		Sessions:     session.NewStore(),
		Logger:       zerolog.Nop(),
		Model:        "gpt-4o",
		ConfirmTools: []string{"Imgflip.CreateMeme"},
	})
	require.NoError(t, err)

	events := streamAll(t, r, UserInput("make a meme"))
	last := lastEvent(events)
	require.Equal(t, EventSuspension, last.Type)
	require.Len(t, last.Suspensions, 1)
	assert.Equal(t, interrupt.KindApprovalRequired, last.Suspensions[0].Kind)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}
