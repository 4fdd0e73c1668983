// Package arcade is a small client for the Arcade tool broker.
//
// It covers the calls the agent needs: listing and fetching tool
// definitions, starting and awaiting user authorization for a tool, and
// executing a tool on behalf of a user.
package arcade
