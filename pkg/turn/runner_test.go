package turn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/harun/memeagent/pkg/agent"
	"github.com/harun/memeagent/pkg/interrupt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor replays one scripted leg of events per Stream call.
type fakeExecutor struct {
	mu       sync.Mutex
	legs     [][]agent.Event
	startErr error
	inputs   []agent.Input
	keys     []string
}

func (e *fakeExecutor) Stream(ctx context.Context, sessionKey string, input agent.Input) (<-chan agent.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inputs = append(e.inputs, input)
	e.keys = append(e.keys, sessionKey)
	if e.startErr != nil {
		return nil, e.startErr
	}

	var leg []agent.Event
	if len(e.legs) > 0 {
		leg = e.legs[0]
		e.legs = e.legs[1:]
	}

	ch := make(chan agent.Event, len(leg))
	for _, ev := range leg {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type fakeResolver struct {
	mu       sync.Mutex
	decide   func(s interrupt.Suspension) (interrupt.Decision, error)
	resolved []interrupt.Suspension
}

func (r *fakeResolver) Resolve(ctx context.Context, s interrupt.Suspension) (interrupt.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, s)
	if r.decide == nil {
		return interrupt.Approve, nil
	}
	return r.decide(s)
}

func content(text string) agent.Event {
	return agent.Event{Type: agent.EventContent, Role: "assistant", Text: text}
}

func suspend(ss ...interrupt.Suspension) agent.Event {
	return agent.Event{Type: agent.EventSuspension, Suspensions: ss}
}

func approval(callID string) interrupt.Suspension {
	return interrupt.NewApprovalSuspension(callID, "Imgflip_CreateMeme", map[string]any{"template_id": "1"})
}

func authorization(callID string) interrupt.Suspension {
	return interrupt.NewAuthorizationSuspension(callID, "Slack_SendMessage", interrupt.AuthorizationRef{ID: "auth_" + callID, URL: "https://example.com"})
}

func newTestRunner(t *testing.T, exec *fakeExecutor, res *fakeResolver) (*Runner, *[]agent.Event) {
	t.Helper()
	var shown []agent.Event
	r, err := New(Config{
		Executor: exec,
		Resolver: res,
		Sink:     SinkFunc(func(ev agent.Event) { shown = append(shown, ev) }),
		Session:  SessionConfig{Key: "1"},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return r, &shown
}

func TestNew(t *testing.T) {
	t.Run("requires executor and resolver", func(t *testing.T) {
		_, err := New(Config{Resolver: &fakeResolver{}})
		assert.Error(t, err)
		_, err = New(Config{Executor: &fakeExecutor{}})
		assert.Error(t, err)
	})

	t.Run("defaults session key", func(t *testing.T) {
		r, err := New(Config{Executor: &fakeExecutor{}, Resolver: &fakeResolver{}})
		require.NoError(t, err)
		assert.Equal(t, DefaultSessionKey, r.SessionKey())
	})
}

func TestRunner_Run_NoSuspensions(t *testing.T) {
	exec := &fakeExecutor{legs: [][]agent.Event{{
		content("Here are the popular memes:"),
		{Type: agent.EventContent, Role: "tool", ToolName: "Imgflip_GetPopularMemes", Text: "[...]"},
		content("Pick one!"),
	}}}
	res := &fakeResolver{}
	r, shown := newTestRunner(t, exec, res)

	result, err := r.Run(context.Background(), agent.UserInput("show me popular memes"))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Rounds)
	assert.Len(t, exec.inputs, 1)
	assert.Equal(t, 3, result.ContentEvents)
	assert.Len(t, *shown, 3)
	assert.Equal(t, "Pick one!", (*shown)[2].Text)
	assert.Empty(t, res.resolved)
	assert.Empty(t, result.Resumes)
	assert.Equal(t, []string{"1"}, exec.keys)
}

func TestRunner_Run_SingleSuspensionResumesWithObject(t *testing.T) {
	s := approval("call_1")
	exec := &fakeExecutor{legs: [][]agent.Event{
		{content("Creating your meme"), suspend(s)},
		{content("Okay, I did not create it.")},
	}}
	res := &fakeResolver{decide: func(interrupt.Suspension) (interrupt.Decision, error) { return interrupt.Deny, nil }}
	r, shown := newTestRunner(t, exec, res)

	result, err := r.Run(context.Background(), agent.UserInput("make a meme"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Rounds)
	require.Len(t, res.resolved, 1)
	assert.Equal(t, s.ID, res.resolved[0].ID)
	assert.Len(t, *shown, 2)

	resumeInput := exec.inputs[1]
	require.True(t, resumeInput.IsResume())
	assert.Equal(t, []interrupt.Decision{interrupt.Deny}, resumeInput.Resume.Decisions())

	data, err := json.Marshal(resumeInput.Resume)
	require.NoError(t, err)
	assert.JSONEq(t, `{"authorized":false}`, string(data))
}

func TestRunner_Run_BatchResolvedInOrder(t *testing.T) {
	first := authorization("call_a")
	second := approval("call_b")
	exec := &fakeExecutor{legs: [][]agent.Event{
		{suspend(first, second)},
		{content("Done")},
	}}
	res := &fakeResolver{decide: func(s interrupt.Suspension) (interrupt.Decision, error) {
		return interrupt.Decision{Authorized: s.Kind == interrupt.KindAuthorizationRequired}, nil
	}}
	r, _ := newTestRunner(t, exec, res)

	result, err := r.Run(context.Background(), agent.UserInput("post and make"))
	require.NoError(t, err)

	require.Len(t, res.resolved, 2)
	assert.Equal(t, first.ID, res.resolved[0].ID)
	assert.Equal(t, second.ID, res.resolved[1].ID)
	assert.Equal(t, 2, result.Suspensions())

	data, err := json.Marshal(exec.inputs[1].Resume)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"authorized":true},{"authorized":false}]`, string(data))
}

func TestRunner_Run_SuspensionsAcrossEventsAndRounds(t *testing.T) {
	exec := &fakeExecutor{legs: [][]agent.Event{
		{suspend(approval("a")), content("still streaming"), suspend(approval("b"))},
		{suspend(authorization("c"))},
		{content("All done")},
	}}
	res := &fakeResolver{}
	r, shown := newTestRunner(t, exec, res)

	result, err := r.Run(context.Background(), agent.UserInput("go"))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Rounds)
	require.Len(t, result.Resumes, 2)
	assert.Equal(t, 2, result.Resumes[0].Len())
	assert.Equal(t, 1, result.Resumes[1].Len())
	assert.Len(t, *shown, 2)

	var ids []string
	for _, s := range res.resolved {
		ids = append(ids, s.ToolCallID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestRunner_Run_ResolutionErrorFailsTurn(t *testing.T) {
	exec := &fakeExecutor{legs: [][]agent.Event{
		{suspend(approval("a"), approval("b"))},
		{content("never reached")},
	}}
	res := &fakeResolver{decide: func(s interrupt.Suspension) (interrupt.Decision, error) {
		if s.ToolCallID == "b" {
			return interrupt.Decision{}, errors.New("stdin closed")
		}
		return interrupt.Approve, nil
	}}
	r, _ := newTestRunner(t, exec, res)

	_, err := r.Run(context.Background(), agent.UserInput("go"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdin closed")

	// No resume with a partial batch.
	assert.Len(t, exec.inputs, 1)
}

func TestRunner_Run_StreamErrors(t *testing.T) {
	t.Run("start error", func(t *testing.T) {
		exec := &fakeExecutor{startErr: errors.New("bad session")}
		r, _ := newTestRunner(t, exec, &fakeResolver{})

		_, err := r.Run(context.Background(), agent.UserInput("hi"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad session")
	})

	t.Run("error event", func(t *testing.T) {
		cause := errors.New("model unavailable")
		exec := &fakeExecutor{legs: [][]agent.Event{
			{content("partial"), {Type: agent.EventError, Err: cause}},
		}}
		r, shown := newTestRunner(t, exec, &fakeResolver{})

		result, err := r.Run(context.Background(), agent.UserInput("hi"))
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 1, result.ContentEvents)
		assert.Len(t, *shown, 1)
	})
}

func TestRunner_Run_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocking := make(chan agent.Event)
	exec := &blockingExecutor{ch: blocking}
	r, err := New(Config{Executor: exec, Resolver: &fakeResolver{}, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = r.Run(ctx, agent.UserInput("hi"))
	assert.ErrorIs(t, err, context.Canceled)
}

type blockingExecutor struct {
	ch chan agent.Event
}

func (e *blockingExecutor) Stream(ctx context.Context, sessionKey string, input agent.Input) (<-chan agent.Event, error) {
	return e.ch, nil
}
