// Package chat implements the terminal REPL: it reads a line, runs it as a
// turn and prints what the agent says, until the user types exit or input
// ends.
package chat
