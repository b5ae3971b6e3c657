// Package events mirrors session lifecycle and command outcomes to external
// systems. Sinks are best-effort: a failing sink is logged and never reaches
// the client dialogue.
package events

import (
	"context"
	"errors"
	"time"
)

// SessionInfo identifies one accepted connection.
type SessionInfo struct {
	ID       string    `json:"id"`
	Node     string    `json:"node"`
	Remote   string    `json:"remote"`
	OpenedAt time.Time `json:"opened_at"`
}

// Outcome is one executed download command.
type Outcome struct {
	SessionID string    `json:"session_id"`
	Node      string    `json:"node"`
	Kind      string    `json:"kind"`
	URL       string    `json:"url"`
	Directory string    `json:"directory"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	Success   bool      `json:"success"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Timestamp time.Time `json:"timestamp"`
}

type Sink interface {
	SessionOpened(ctx context.Context, info SessionInfo) error
	SessionClosed(ctx context.Context, info SessionInfo) error
	CommandFinished(ctx context.Context, out Outcome) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) SessionOpened(context.Context, SessionInfo) error { return nil }
func (Nop) SessionClosed(context.Context, SessionInfo) error { return nil }
func (Nop) CommandFinished(context.Context, Outcome) error   { return nil }

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) SessionOpened(ctx context.Context, info SessionInfo) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SessionOpened(ctx, info))
	}
	return errors.Join(errs...)
}

func (m Multi) SessionClosed(ctx context.Context, info SessionInfo) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SessionClosed(ctx, info))
	}
	return errors.Join(errs...)
}

func (m Multi) CommandFinished(ctx context.Context, out Outcome) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.CommandFinished(ctx, out))
	}
	return errors.Join(errs...)
}
