// Package turn mediates one chat turn between the agent runtime and the
// human: it streams agent output to a sink, resolves every suspension the
// agent raises, and resumes the agent with the decisions until the agent
// finishes without suspending.
//
// Invariants:
// - Each suspension of a batch is resolved exactly once, in arrival order.
// - A resume payload carries exactly the decisions of the previous batch.
// - A resolution error fails the turn; the agent is never resumed with a
//   partial batch.
package turn
