package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	fields := logger.With()
	if tc.TraceID != "" {
		fields = fields.Str("trace_id", tc.TraceID)
	}
	if tc.TurnID != "" {
		fields = fields.Str("turn_id", tc.TurnID)
	}
	if tc.SessionKey != "" {
		fields = fields.Str("session_key", tc.SessionKey)
	}
	if tc.ToolCallID != "" {
		fields = fields.Str("tool_call_id", tc.ToolCallID)
	}

	return fields.Logger()
}

// LoggerFromContext returns baseLogger enriched with the context's tracing fields
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}
