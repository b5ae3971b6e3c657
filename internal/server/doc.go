// Package server owns the download listener.
//
// Ownership boundary:
// - accepting TCP connections on the protocol port
// - one session goroutine per connection
// - connection tracking for shutdown and admin snapshots
// - fan-out of session notifications to metrics and event sinks
//
// Sessions never coordinate with each other; the listener only tracks them.
package server
