// Package session keeps per-session conversation checkpoints in memory.
//
// Invariants:
// - Session keys are validated before use.
// - A checkpoint holds at most one pending suspension batch.
// - Load and Save hand out copies; callers never share slices with the store.
// - Turns for the same session are serialized with Lock.
//
// Usage:
//
//	store := session.NewStore()
//	unlock := store.Lock("1")
//	defer unlock()
//	cp, _ := store.Load(ctx, "1")
//	cp.Messages = append(cp.Messages, session.Message{Role: session.RoleUser, Content: "hello"})
//	_ = store.Save(ctx, cp)
package session
