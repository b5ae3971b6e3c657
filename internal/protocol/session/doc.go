// Package session owns the per-connection menu dialogue.
//
// Ownership boundary:
// - menu/prompt text sent to clients
// - reading verified frames and assembling three-field download commands
// - recovering from corrupted frames by abandoning the pending command
// - reconnect backoff primitives used by the client
//
// Lifecycle order:
// - menu -> url -> directory -> filename -> executing -> menu
//
// - menu -> closed on the exit selection or a transport failure.
//
// A session never shares mutable state with another session.
package session
