package interrupt

import (
	"bytes"
	"encoding/json"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Kind identifies the reason an agent suspended.
type Kind string

const (
	KindAuthorizationRequired Kind = "authorization-required"
	KindApprovalRequired      Kind = "approval-required"
)

// AuthorizationRef points at a pending broker authorization.
type AuthorizationRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Suspension is one pending decision point. Exactly one of Authorization
// or Input is meaningful, selected by Kind.
type Suspension struct {
	ID            string            `json:"id"`
	Kind          Kind              `json:"kind"`
	ToolName      string            `json:"tool_name"`
	ToolCallID    string            `json:"tool_call_id,omitempty"`
	Authorization *AuthorizationRef `json:"authorization,omitempty"`
	Input         map[string]any    `json:"input,omitempty"`
}

func newID() string {
	id, err := gonanoid.New()
	if err != nil {
		return "susp"
	}
	return id
}

// NewAuthorizationSuspension creates an authorization-required suspension.
func NewAuthorizationSuspension(toolCallID, toolName string, ref AuthorizationRef) Suspension {
	return Suspension{
		ID:            newID(),
		Kind:          KindAuthorizationRequired,
		ToolName:      toolName,
		ToolCallID:    toolCallID,
		Authorization: &ref,
	}
}

// NewApprovalSuspension creates an approval-required suspension.
func NewApprovalSuspension(toolCallID, toolName string, input map[string]any) Suspension {
	return Suspension{
		ID:         newID(),
		Kind:       KindApprovalRequired,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Input:      input,
	}
}

// Decision is the resolution of one Suspension.
type Decision struct {
	Authorized bool `json:"authorized"`
}

var (
	Approve = Decision{Authorized: true}
	Deny    = Decision{Authorized: false}
)

// ResumePayload carries the decisions for one suspension batch, in the
// order the suspensions were observed.
type ResumePayload struct {
	decisions []Decision
}

// NewResumePayload builds a payload from decisions in observation order.
func NewResumePayload(decisions []Decision) ResumePayload {
	out := make([]Decision, len(decisions))
	copy(out, decisions)
	return ResumePayload{decisions: out}
}

// Decisions returns the normalized ordered list.
func (p ResumePayload) Decisions() []Decision {
	out := make([]Decision, len(p.decisions))
	copy(out, p.decisions)
	return out
}

// Len returns the number of decisions.
func (p ResumePayload) Len() int {
	return len(p.decisions)
}

// Single reports the lone decision of a one-suspension batch.
func (p ResumePayload) Single() (Decision, bool) {
	if len(p.decisions) != 1 {
		return Decision{}, false
	}
	return p.decisions[0], true
}

// MarshalJSON encodes one decision as an object and any other count as an array.
func (p ResumePayload) MarshalJSON() ([]byte, error) {
	if d, ok := p.Single(); ok {
		return json.Marshal(d)
	}
	if p.decisions == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.decisions)
}

// UnmarshalJSON accepts both the object and the array form.
func (p *ResumePayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty resume payload")
	}

	switch trimmed[0] {
	case '{':
		var d Decision
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return fmt.Errorf("decode decision: %w", err)
		}
		p.decisions = []Decision{d}
	case '[':
		var ds []Decision
		if err := json.Unmarshal(trimmed, &ds); err != nil {
			return fmt.Errorf("decode decisions: %w", err)
		}
		p.decisions = ds
	default:
		return fmt.Errorf("resume payload must be an object or an array")
	}
	return nil
}
