package server

import (
	"context"
	"time"

	"github.com/danmuck/edgefetch/internal/events"
	"github.com/danmuck/edgefetch/internal/fetch"
	"github.com/danmuck/edgefetch/internal/observability"
	"github.com/danmuck/edgefetch/internal/protocol/frame"
	"github.com/danmuck/edgefetch/internal/protocol/session"
)

// observer feeds session notifications into metrics and the event sink.
type observer struct {
	svc *Service
}

var _ session.Observer = (*observer)(nil)

func (o *observer) FrameRead(_ string, state session.State, err error) {
	observability.RecordFrame(state.String(), frame.FaultLabel(err))
}

func (o *observer) StateChanged(_ string, _ session.State, to session.State) {
	observability.RecordTransition(to.String())
}

func (o *observer) CommandFinished(sessionID string, req fetch.Request, status string, elapsed time.Duration) {
	ok := fetch.Succeeded(status)
	observability.RecordCommand(string(req.Spec.Kind), ok, elapsed)
	out := events.Outcome{
		SessionID: sessionID,
		Node:      o.svc.cfg.NodeID,
		Kind:      string(req.Spec.Kind),
		URL:       req.URL,
		Directory: req.ResolvedDir(),
		Filename:  req.Filename,
		Status:    status,
		Success:   ok,
		ElapsedMS: elapsed.Milliseconds(),
		Timestamp: time.Now(),
	}
	o.svc.notify(func(ctx context.Context) error { return o.svc.sink.CommandFinished(ctx, out) })
}

func sessionOpened() {
	observability.RecordSessionOpened()
}

func sessionClosed() {
	observability.RecordSessionClosed()
}
