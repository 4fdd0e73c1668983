package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/memeagent/internal/observability"
	"github.com/harun/memeagent/internal/tracing"
	"github.com/harun/memeagent/pkg/agent"
	"github.com/harun/memeagent/pkg/interrupt"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "memeagent.turn"

// DefaultSessionKey is used when no session key is configured.
const DefaultSessionKey = "1"

// State is the phase of a turn.
type State string

const (
	StateRunning   State = "running"
	StateResolving State = "resolving"
	StateDone      State = "done"
)

// Executor is the agent execution capability.
type Executor interface {
	Stream(ctx context.Context, sessionKey string, input agent.Input) (<-chan agent.Event, error)
}

// SuspensionResolver turns one suspension into a decision.
type SuspensionResolver interface {
	Resolve(ctx context.Context, s interrupt.Suspension) (interrupt.Decision, error)
}

// Sink receives content events as they stream.
type Sink interface {
	HandleContent(ev agent.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev agent.Event)

// HandleContent calls f(ev).
func (f SinkFunc) HandleContent(ev agent.Event) { f(ev) }

// SessionConfig identifies the conversation a runner drives.
type SessionConfig struct {
	Key string
}

// Config holds runner configuration
type Config struct {
	Executor Executor
	Resolver SuspensionResolver
	Sink     Sink
	Session  SessionConfig
	Logger   zerolog.Logger
}

// Result summarizes a completed turn.
type Result struct {
	// Rounds counts calls to the executor.
	Rounds int

	// ContentEvents counts events forwarded to the sink.
	ContentEvents int

	// Resumes holds the payload sent after each suspension batch.
	Resumes []interrupt.ResumePayload
}

// Suspensions returns the total number of suspensions resolved.
func (r *Result) Suspensions() int {
	n := 0
	for _, p := range r.Resumes {
		n += p.Len()
	}
	return n
}

// Runner drives turns for one session.
type Runner struct {
	executor Executor
	resolver SuspensionResolver
	sink     Sink
	session  SessionConfig
	logger   zerolog.Logger
}

// New creates a turn runner
func New(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if cfg.Sink == nil {
		cfg.Sink = SinkFunc(func(agent.Event) {})
	}
	if cfg.Session.Key == "" {
		cfg.Session.Key = DefaultSessionKey
	}

	return &Runner{
		executor: cfg.Executor,
		resolver: cfg.Resolver,
		sink:     cfg.Sink,
		session:  cfg.Session,
		logger:   cfg.Logger.With().Str("component", "turn").Logger(),
	}, nil
}

// SessionKey returns the session this runner drives.
func (r *Runner) SessionKey() string {
	return r.session.Key
}

// Run executes one turn to completion, resolving suspensions in between.
func (r *Runner) Run(ctx context.Context, input agent.Input) (*Result, error) {
	ctx = tracing.NewTurnContext(ctx, r.session.Key)
	ctx, span := tracing.StartSpan(ctx, tracerName, "turn.run",
		attribute.String("session_key", r.session.Key),
	)

	start := time.Now()
	result := &Result{}
	err := r.run(ctx, input, result)

	span.SetAttributes(
		attribute.Int("turn.rounds", result.Rounds),
		attribute.Int("turn.suspensions", result.Suspensions()),
	)
	tracing.EndSpan(span, err)
	observability.RecordTurn(time.Since(start), result.Rounds, err == nil)

	logger := tracing.LoggerFromContext(ctx, r.logger)
	if err != nil {
		logger.Debug().Err(err).Int("rounds", result.Rounds).Msg("Turn failed")
		return result, err
	}
	logger.Debug().
		Int("rounds", result.Rounds).
		Int("content_events", result.ContentEvents).
		Int("suspensions", result.Suspensions()).
		Dur("duration", time.Since(start)).
		Msg("Turn completed")
	return result, nil
}

func (r *Runner) run(ctx context.Context, input agent.Input, result *Result) error {
	logger := tracing.LoggerFromContext(ctx, r.logger)
	state := StateRunning
	var batch []interrupt.Suspension

	for {
		logger.Debug().Str("state", string(state)).Msg("Turn state")

		switch state {
		case StateRunning:
			result.Rounds++
			suspensions, err := r.stream(ctx, input, result)
			if err != nil {
				return err
			}
			if len(suspensions) == 0 {
				state = StateDone
				continue
			}
			batch = suspensions
			state = StateResolving

		case StateResolving:
			decisions := make([]interrupt.Decision, 0, len(batch))
			for _, s := range batch {
				observability.RecordSuspension(string(s.Kind))
				d, err := r.resolver.Resolve(ctx, s)
				if err != nil {
					return fmt.Errorf("resolve %s for %s: %w", s.Kind, s.ToolName, err)
				}
				decisions = append(decisions, d)
			}
			payload := interrupt.NewResumePayload(decisions)
			result.Resumes = append(result.Resumes, payload)
			input = agent.ResumeInput(payload)
			batch = nil
			state = StateRunning

		case StateDone:
			return nil
		}
	}
}

// stream runs one executor call and drains it fully, forwarding content
// and collecting suspensions in arrival order.
func (r *Runner) stream(ctx context.Context, input agent.Input, result *Result) ([]interrupt.Suspension, error) {
	events, err := r.executor.Stream(ctx, r.session.Key, input)
	if err != nil {
		return nil, fmt.Errorf("start agent stream: %w", err)
	}

	var (
		suspensions []interrupt.Suspension
		streamErr   error
	)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return suspensions, streamErr
			}
			switch ev.Type {
			case agent.EventContent:
				result.ContentEvents++
				r.sink.HandleContent(ev)
			case agent.EventSuspension:
				suspensions = append(suspensions, ev.Suspensions...)
			case agent.EventError:
				if streamErr == nil && ev.Err != nil {
					streamErr = fmt.Errorf("agent stream: %w", ev.Err)
				} else if streamErr == nil {
					streamErr = errors.New("agent stream failed")
				}
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
