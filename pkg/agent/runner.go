package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/memeagent/internal/observability"
	"github.com/harun/memeagent/internal/tracing"
	"github.com/harun/memeagent/pkg/arcade"
	"github.com/harun/memeagent/pkg/interrupt"
	"github.com/harun/memeagent/pkg/session"
	"github.com/harun/memeagent/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "memeagent.agent"

	// DefaultMaxToolRounds bounds model calls per turn.
	DefaultMaxToolRounds = 10
)

// ToolRunner is the registry and executor the runtime dispatches tool calls to.
type ToolRunner interface {
	GetTool(name string) *toolexecutor.ToolDefinition
	Definitions() []toolexecutor.ToolDefinition
	Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *toolexecutor.ExecutionContext) toolexecutor.ToolResult
}

// Authorizer asks the tool broker whether a user may call a tool.
type Authorizer interface {
	Authorize(ctx context.Context, toolName, userID string) (*arcade.AuthorizationResponse, error)
}

// Runner drives the model and tool loop for a session and suspends when a
// tool call needs authorization or approval.
type Runner struct {
	provider     LLMProvider
	tools        ToolRunner
	sessions     *session.Store
	authorizer   Authorizer
	logger       zerolog.Logger
	model        string
	temperature  float64
	maxTokens    int
	systemPrompt string
	userID       string
	confirm      map[string]bool
	maxRounds    int
	toolTimeout  time.Duration
}

// Config holds runner configuration
type Config struct {
	Provider     LLMProvider
	Tools        ToolRunner
	Sessions     *session.Store
	Authorizer   Authorizer // nil skips the broker authorization gate
	Logger       zerolog.Logger
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	UserID       string

	// ConfirmTools lists tools that need human approval, by model-facing
	// or dotted name.
	ConfirmTools  []string
	MaxToolRounds int
	ToolTimeout   time.Duration
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool runner is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	maxRounds := cfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}

	confirm := make(map[string]bool, len(cfg.ConfirmTools))
	for _, name := range cfg.ConfirmTools {
		confirm[arcade.FunctionName(name)] = true
	}

	return &Runner{
		provider:     cfg.Provider,
		tools:        cfg.Tools,
		sessions:     cfg.Sessions,
		authorizer:   cfg.Authorizer,
		logger:       cfg.Logger.With().Str("component", "agent").Logger(),
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: systemPrompt,
		userID:       cfg.UserID,
		confirm:      confirm,
		maxRounds:    maxRounds,
		toolTimeout:  cfg.ToolTimeout,
	}, nil
}

// Stream runs one leg of a turn. The returned channel yields content events
// and ends with either a suspension batch, an error event, or a plain close
// when the turn is done. Turns for the same session are serialized.
func (r *Runner) Stream(ctx context.Context, sessionKey string, input Input) (<-chan Event, error) {
	if err := session.ValidateSessionKey(sessionKey); err != nil {
		return nil, err
	}
	if !input.IsResume() && len(input.Messages) == 0 {
		return nil, ErrEmptyInput
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)

		unlock := r.sessions.Lock(sessionKey)
		defer unlock()

		ctx := tracing.WithSessionKey(ctx, sessionKey)
		ctx, span := tracing.StartSpan(ctx, tracerName, "agent.stream",
			attribute.String("session_key", sessionKey),
			attribute.Bool("resume", input.IsResume()),
		)

		out := &emitter{ctx: ctx, ch: events}
		err := r.run(ctx, sessionKey, input, out)
		tracing.EndSpan(span, err)
		if err != nil {
			logger := tracing.LoggerFromContext(ctx, r.logger)
			logger.Debug().Err(err).Msg("Agent stream failed")
			out.send(Event{Type: EventError, Err: err})
		}
	}()

	return events, nil
}

type emitter struct {
	ctx context.Context
	ch  chan<- Event
}

func (e *emitter) send(ev Event) {
	select {
	case e.ch <- ev:
	case <-e.ctx.Done():
	}
}

// run loads the checkpoint, advances the turn and always saves what it got to.
func (r *Runner) run(ctx context.Context, sessionKey string, input Input, out *emitter) error {
	cp, err := r.sessions.Load(ctx, sessionKey)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	runErr := r.advance(ctx, cp, input, out)

	if err := r.sessions.Save(ctx, cp); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to save session: %w", err))
	}
	return runErr
}

func (r *Runner) advance(ctx context.Context, cp *session.Checkpoint, input Input, out *emitter) error {
	logger := tracing.LoggerFromContext(ctx, r.logger)

	var calls []session.PendingCall
	round := 0

	if input.IsResume() {
		if !cp.HasPending() {
			return ErrNoPendingTurn
		}
		decisions := input.Resume.Decisions()
		if len(decisions) != len(cp.Pending.Suspensions) {
			return fmt.Errorf("%w: got %d decisions for %d suspensions",
				ErrDecisionMismatch, len(decisions), len(cp.Pending.Suspensions))
		}
		calls = applyDecisions(cp.Pending, decisions, logger)
		round = cp.Pending.Round
		cp.Pending = nil
	} else {
		cp.Pending = nil
		if closed := closeDanglingCalls(cp); closed > 0 {
			logger.Info().Int("tool_calls", closed).Msg("Cancelled unresolved tool calls for new input")
		}
		now := time.Now()
		for _, msg := range input.Messages {
			role := msg.Role
			if role == "" {
				role = session.RoleUser
			}
			cp.Messages = append(cp.Messages, AgentMessage{
				Role:      role,
				Content:   msg.Text,
				Timestamp: now,
			})
		}
	}

	for {
		if calls != nil {
			suspended, err := r.processCalls(ctx, cp, calls, round, out)
			if err != nil || suspended {
				return err
			}
			calls = nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if round >= r.maxRounds {
			return fmt.Errorf("%w (%d)", ErrMaxRounds, r.maxRounds)
		}
		round++

		response, err := r.callModel(ctx, cp.Messages, round)
		if err != nil {
			return err
		}

		assistant := AgentMessage{
			Role:      session.RoleAssistant,
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
			Timestamp: time.Now(),
		}
		cp.Messages = append(cp.Messages, assistant)

		if response.Content != "" || len(response.ToolCalls) > 0 {
			out.send(Event{
				Type:      EventContent,
				Role:      session.RoleAssistant,
				Text:      response.Content,
				ToolCalls: response.ToolCalls,
			})
		}

		if len(response.ToolCalls) == 0 {
			return nil
		}

		calls = make([]session.PendingCall, 0, len(response.ToolCalls))
		for _, tc := range response.ToolCalls {
			calls = append(calls, session.PendingCall{Call: tc})
		}
	}
}

// processCalls runs the gates for every call of one model response. If any
// call needs a decision, nothing executes: the batch is saved as pending and
// emitted as a single suspension event.
func (r *Runner) processCalls(ctx context.Context, cp *session.Checkpoint, calls []session.PendingCall, round int, out *emitter) (bool, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)
	var suspensions []interrupt.Suspension

	for i := range calls {
		pc := &calls[i]
		if pc.Denied || pc.Error != "" {
			continue
		}

		def := r.tools.GetTool(pc.Call.Name)
		if def == nil {
			// Execution reports the unknown tool back to the model.
			pc.Authorized, pc.Approved = true, true
			continue
		}

		if !pc.Authorized {
			if def.RequiresAuth && r.authorizer != nil {
				name := def.QualifiedName
				if name == "" {
					name = def.Name
				}
				resp, err := r.authorizer.Authorize(ctx, name, r.userID)
				if err != nil {
					if ctx.Err() != nil {
						return false, ctx.Err()
					}
					logger.Warn().Err(err).Str("tool", pc.Call.Name).Msg("Authorization check failed")
					pc.Error = fmt.Sprintf("authorization check failed: %v", err)
					continue
				}
				if !resp.Completed() {
					suspensions = append(suspensions, interrupt.NewAuthorizationSuspension(
						pc.Call.ID, pc.Call.Name, interrupt.AuthorizationRef{ID: resp.ID, URL: resp.URL},
					))
					continue
				}
			}
			pc.Authorized = true
		}

		if !pc.Approved {
			if r.needsConfirmation(def) {
				suspensions = append(suspensions, interrupt.NewApprovalSuspension(
					pc.Call.ID, pc.Call.Name, pc.Call.Parameters,
				))
				continue
			}
			pc.Approved = true
		}
	}

	if len(suspensions) > 0 {
		cp.Pending = &session.PendingTurn{
			Calls:       calls,
			Suspensions: suspensions,
			Round:       round,
			CreatedAt:   time.Now(),
		}
		logger.Debug().Int("suspensions", len(suspensions)).Msg("Turn suspended")
		out.send(Event{Type: EventSuspension, Suspensions: suspensions})
		return true, nil
	}

	execCtx := &toolexecutor.ExecutionContext{
		SessionKey: cp.SessionKey,
		UserID:     r.userID,
		Timeout:    r.toolTimeout,
	}
	for _, pc := range calls {
		var content string
		switch {
		case pc.Denied && !pc.Authorized:
			content = fmt.Sprintf("Authorization for %s was not granted by the user.", pc.Call.Name)
		case pc.Denied:
			content = fmt.Sprintf("The user denied the call to %s. Do not retry it unless the user asks.", pc.Call.Name)
		case pc.Error != "":
			content = "Error: " + pc.Error
		default:
			result := r.tools.Execute(tracing.WithToolCallID(ctx, pc.Call.ID), pc.Call.Name, pc.Call.Parameters, execCtx)
			content = result.Content()
		}

		cp.Messages = append(cp.Messages, AgentMessage{
			Role:       session.RoleTool,
			Content:    content,
			ToolCallID: pc.Call.ID,
			Timestamp:  time.Now(),
		})
		out.send(Event{
			Type:     EventContent,
			Role:     session.RoleTool,
			Text:     content,
			ToolName: pc.Call.Name,
		})
	}

	return false, nil
}

// needsConfirmation matches the confirmation list against the registered
// name and the qualified name, so a tool renamed on registration keeps its gate.
func (r *Runner) needsConfirmation(def *toolexecutor.ToolDefinition) bool {
	if r.confirm[def.Name] {
		return true
	}
	return def.QualifiedName != "" && r.confirm[arcade.FunctionName(def.QualifiedName)]
}

// applyDecisions maps decisions onto the pending calls by tool call ID.
func applyDecisions(pending *session.PendingTurn, decisions []interrupt.Decision, logger zerolog.Logger) []session.PendingCall {
	calls := append([]session.PendingCall(nil), pending.Calls...)
	index := make(map[string]int, len(calls))
	for i, pc := range calls {
		index[pc.Call.ID] = i
	}

	for i, s := range pending.Suspensions {
		idx, ok := index[s.ToolCallID]
		if !ok {
			logger.Warn().Str("tool_call_id", s.ToolCallID).Msg("Decision for unknown tool call")
			continue
		}
		pc := &calls[idx]
		if !decisions[i].Authorized {
			pc.Denied = true
			continue
		}
		switch s.Kind {
		case interrupt.KindAuthorizationRequired:
			pc.Authorized = true
		case interrupt.KindApprovalRequired:
			pc.Approved = true
		}
	}
	return calls
}

// closeDanglingCalls answers every tool call of the last assistant message
// that has no result yet, so the transcript stays valid for the provider.
func closeDanglingCalls(cp *session.Checkpoint) int {
	last := -1
	for i := len(cp.Messages) - 1; i >= 0; i-- {
		if cp.Messages[i].Role == session.RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 || len(cp.Messages[last].ToolCalls) == 0 {
		return 0
	}

	answered := make(map[string]bool)
	for _, msg := range cp.Messages[last+1:] {
		if msg.Role == session.RoleTool {
			answered[msg.ToolCallID] = true
		}
	}

	now := time.Now()
	closed := 0
	for _, tc := range cp.Messages[last].ToolCalls {
		if answered[tc.ID] {
			continue
		}
		cp.Messages = append(cp.Messages, AgentMessage{
			Role:       session.RoleTool,
			Content:    fmt.Sprintf("The call to %s was cancelled because the user moved on.", tc.Name),
			ToolCallID: tc.ID,
			Timestamp:  now,
		})
		closed++
	}
	return closed
}

func (r *Runner) callModel(ctx context.Context, messages []AgentMessage, round int) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.model_call",
		attribute.String("provider", r.provider.Provider()),
		attribute.String("model", r.model),
		attribute.Int("round", round),
	)

	start := time.Now()
	response, err := r.provider.Call(ctx, LLMRequest{
		Model:        r.model,
		Messages:     messages,
		Tools:        ToolSpecs(r.tools.Definitions()),
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
		SystemPrompt: r.systemPrompt,
	})
	observability.RecordModelCall(r.provider.Provider(), time.Since(start), err == nil)
	tracing.EndSpan(span, err)

	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	if response.Usage != nil {
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Debug().
			Int("round", round).
			Int("input_tokens", response.Usage.InputTokens).
			Int("output_tokens", response.Usage.OutputTokens).
			Int("tool_calls", len(response.ToolCalls)).
			Msg("Model responded")
	}
	return response, nil
}
