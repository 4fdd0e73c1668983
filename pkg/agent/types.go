package agent

import (
	"errors"

	"github.com/harun/memeagent/pkg/interrupt"
	"github.com/harun/memeagent/pkg/session"
)

// ToolCall represents a tool invocation
type ToolCall = session.ToolCall

// AgentMessage represents a message in the conversation
type AgentMessage = session.Message

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message is one entry of a turn input.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Input starts or resumes a turn. A non-nil Resume continues the pending
// suspension batch of the session; Messages are ignored in that case.
type Input struct {
	Messages []Message                `json:"messages,omitempty"`
	Resume   *interrupt.ResumePayload `json:"resume,omitempty"`
}

// UserInput builds a fresh turn input from one line of user text.
func UserInput(text string) Input {
	return Input{Messages: []Message{{Role: session.RoleUser, Text: text}}}
}

// ResumeInput builds a turn input that answers the pending suspensions.
func ResumeInput(payload interrupt.ResumePayload) Input {
	return Input{Resume: &payload}
}

// IsResume reports whether the input continues a suspended turn.
func (in Input) IsResume() bool {
	return in.Resume != nil
}

// EventType identifies the kind of stream event.
type EventType string

const (
	// EventContent carries message text produced during the turn.
	EventContent EventType = "content"

	// EventSuspension carries a batch of suspensions; the stream ends after it.
	EventSuspension EventType = "suspension"

	// EventError carries a failure; the stream ends after it.
	EventError EventType = "error"
)

// Event is one item of a turn stream.
type Event struct {
	Type EventType `json:"type"`

	// Role is assistant or tool for content events.
	Role string `json:"role,omitempty"`

	Text string `json:"text,omitempty"`

	// ToolName names the tool a tool-role event reports on.
	ToolName string `json:"tool_name,omitempty"`

	// ToolCalls lists the calls an assistant message requested.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	Suspensions []interrupt.Suspension `json:"suspensions,omitempty"`

	Err error `json:"-"`
}

var (
	// ErrNoPendingTurn is returned when a resume arrives for a session that is not suspended.
	ErrNoPendingTurn = errors.New("no pending turn to resume")

	// ErrDecisionMismatch is returned when the decision count differs from the suspension count.
	ErrDecisionMismatch = errors.New("decision count does not match pending suspensions")

	// ErrMaxRounds is returned when a turn exceeds the configured tool rounds.
	ErrMaxRounds = errors.New("maximum tool rounds exceeded")

	// ErrEmptyInput is returned for an input with neither messages nor a resume payload.
	ErrEmptyInput = errors.New("input has no messages")
)
