// Package tools provides host process helpers shared by control-plane modules.
//
// Ownership boundary:
// - spawning a child with its own process group
// - signalling a recorded pid
// - non-blocking reap and liveness probing
package tools
