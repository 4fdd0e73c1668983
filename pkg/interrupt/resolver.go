package interrupt

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/harun/memeagent/internal/observability"
	"github.com/harun/memeagent/internal/tracing"
	"github.com/rs/zerolog"
)

// AuthWaiter blocks until a broker authorization completes or fails.
type AuthWaiter interface {
	WaitForCompletion(ctx context.Context, authID string) error
}

// Approver asks a human whether an approval-required suspension may proceed.
type Approver interface {
	Approve(ctx context.Context, s Suspension) (bool, error)
}

// Config configures a Resolver.
type Config struct {
	Waiter   AuthWaiter
	Approver Approver
	Writer   io.Writer // status lines for authorization prompts
	Logger   zerolog.Logger
}

// Resolver maps each suspension kind to its resolution strategy.
type Resolver struct {
	waiter   AuthWaiter
	approver Approver
	writer   io.Writer
	logger   zerolog.Logger
}

// NewResolver creates a resolver.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Waiter == nil {
		return nil, fmt.Errorf("auth waiter is required")
	}
	if cfg.Approver == nil {
		return nil, fmt.Errorf("approver is required")
	}
	if cfg.Writer == nil {
		cfg.Writer = io.Discard
	}
	return &Resolver{
		waiter:   cfg.Waiter,
		approver: cfg.Approver,
		writer:   cfg.Writer,
		logger:   cfg.Logger,
	}, nil
}

// Resolve produces the Decision for one suspension. Unknown kinds are denied
// without prompting. The only errors returned are approval read failures and
// cancellation of ctx; a failed authorization wait is a denial.
func (r *Resolver) Resolve(ctx context.Context, s Suspension) (Decision, error) {
	var (
		d   Decision
		err error
	)

	switch s.Kind {
	case KindAuthorizationRequired:
		d, err = r.resolveAuthorization(ctx, s)
	case KindApprovalRequired:
		d, err = r.resolveApproval(ctx, s)
	default:
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Warn().
			Str("kind", string(s.Kind)).
			Str("tool", s.ToolName).
			Msg("Unknown suspension kind, denying")
		d = Deny
	}
	if err != nil {
		return Decision{}, err
	}

	observability.RecordDecision(string(s.Kind), d.Authorized)
	observability.RecordDecisionAudit(ctx, string(s.Kind), s.ToolName, tracing.GetSessionKey(ctx), d.Authorized, nil)
	return d, nil
}

func (r *Resolver) resolveAuthorization(ctx context.Context, s Suspension) (Decision, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)

	if s.Authorization == nil || s.Authorization.ID == "" {
		logger.Error().Str("tool", s.ToolName).Msg("Authorization suspension without reference, denying")
		return Deny, nil
	}

	fmt.Fprintf(r.writer, "⚙️: Authorization required for tool call %s\n", s.ToolName)
	fmt.Fprintf(r.writer, "⚙️: Please authorize in your browser: %s\n", s.Authorization.URL)
	fmt.Fprintln(r.writer, "⚙️: Waiting for authorization to complete...")

	if err := r.waiter.WaitForCompletion(ctx, s.Authorization.ID); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return Decision{}, fmt.Errorf("authorization wait for %s: %w", s.ToolName, err)
		}
		logger.Error().
			Err(err).
			Str("tool", s.ToolName).
			Str("auth_id", s.Authorization.ID).
			Msg("Authorization failed")
		fmt.Fprintf(r.writer, "⚙️: Authorization for %s failed\n", s.ToolName)
		return Deny, nil
	}

	fmt.Fprintf(r.writer, "⚙️: Authorization for %s granted\n", s.ToolName)
	logger.Info().Str("tool", s.ToolName).Msg("Authorization completed")
	return Approve, nil
}

func (r *Resolver) resolveApproval(ctx context.Context, s Suspension) (Decision, error) {
	approved, err := r.approver.Approve(ctx, s)
	if err != nil {
		return Decision{}, fmt.Errorf("approval for %s: %w", s.ToolName, err)
	}
	return Decision{Authorized: approved}, nil
}
