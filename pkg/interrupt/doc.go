// Package interrupt models the pauses an agent raises mid-turn and their
// resolution.
//
// A Suspension is either authorization-required (the tool broker needs the
// user to finish an out-of-band authorization flow) or approval-required (a
// human must confirm the proposed tool input). Each suspension is resolved
// exactly once into a Decision. Decisions are returned to the agent as a
// ResumePayload, which encodes a single Decision as a JSON object and several
// as an ordered JSON array.
package interrupt
