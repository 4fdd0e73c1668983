// Package agent runs the model and tool loop for a chat session and
// suspends mid-turn when a tool call needs a human decision.
//
// Every tool call of a model response passes two gates before it runs:
// broker authorization for tools that declare one, then confirmation for
// tools on the confirmation list. If any call is held by a gate, none of
// them run; the held calls are emitted as one suspension batch and saved
// on the session checkpoint until a resume input supplies the decisions.
//
// Invariants:
// - Streams for the same session are serialized.
// - A resume must carry exactly one decision per pending suspension.
// - Every assistant tool call ends up with a tool result in the transcript.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{...})
//	events, _ := runner.Stream(ctx, "1", agent.UserInput("make a meme"))
//	for ev := range events {
//		_ = ev
//	}
package agent
