package session

import (
	"time"

	"github.com/harun/memeagent/pkg/interrupt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Message represents a single conversation entry
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// PendingCall tracks which gates a suspended tool call has already passed.
// A call denied before Authorized was set failed broker authorization.
type PendingCall struct {
	Call       ToolCall `json:"call"`
	Authorized bool     `json:"authorized"`
	Approved   bool     `json:"approved"`
	Denied     bool     `json:"denied"`
	Error      string   `json:"error,omitempty"`
}

// PendingTurn is a model response whose tool calls are waiting on decisions.
type PendingTurn struct {
	Calls       []PendingCall          `json:"calls"`
	Suspensions []interrupt.Suspension `json:"suspensions"`
	Round       int                    `json:"round"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Checkpoint is the resumable state of one session.
type Checkpoint struct {
	SessionKey string       `json:"session_key"`
	Messages   []Message    `json:"messages"`
	Pending    *PendingTurn `json:"pending,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// HasPending reports whether the session is suspended mid-turn.
func (c *Checkpoint) HasPending() bool {
	return c != nil && c.Pending != nil && len(c.Pending.Suspensions) > 0
}

func (c *Checkpoint) clone() *Checkpoint {
	out := &Checkpoint{
		SessionKey: c.SessionKey,
		UpdatedAt:  c.UpdatedAt,
	}
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		for i, msg := range c.Messages {
			out.Messages[i] = msg
			if msg.ToolCalls != nil {
				out.Messages[i].ToolCalls = append([]ToolCall(nil), msg.ToolCalls...)
			}
		}
	}
	if c.Pending != nil {
		p := *c.Pending
		p.Calls = append([]PendingCall(nil), c.Pending.Calls...)
		p.Suspensions = append([]interrupt.Suspension(nil), c.Pending.Suspensions...)
		out.Pending = &p
	}
	return out
}
