package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgefetch/internal/events"
	"github.com/danmuck/edgefetch/internal/fetch"
	"github.com/danmuck/edgefetch/internal/protocol/frame"
	"github.com/danmuck/edgefetch/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrNoInvoker = errors.New("server: no invoker configured")

// ServiceConfig configures the protocol listener.
type ServiceConfig struct {
	NodeID      string
	ListenAddr  string
	Limits      frame.Limits
	IdleTimeout time.Duration
	// MaxSessions caps concurrent sessions; zero means unlimited.
	MaxSessions int
	// SinkTimeout bounds each event sink call.
	SinkTimeout time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:      "fetch.local",
		ListenAddr:  "127.0.0.1:9999",
		Limits:      frame.DefaultLimits(),
		SinkTimeout: 2 * time.Second,
	}
}

// SessionSnapshot is the admin view of one connected session.
type SessionSnapshot struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	State       string    `json:"state"`
	Kind        string    `json:"kind,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

type trackedConn struct {
	info    events.SessionInfo
	session *session.Session
}

// Option customizes a Service.
type Option func(*Service)

// WithSink mirrors session lifecycle and command outcomes to sink.
func WithSink(sink events.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// Service accepts protocol connections and runs one session per connection.
type Service struct {
	cfg     ServiceConfig
	invoker fetch.Invoker
	sink    events.Sink

	connsMu sync.Mutex
	conns   map[net.Conn]*trackedConn

	listening atomic.Bool
	active    atomic.Int64
	accepted  atomic.Uint64
	rejected  atomic.Uint64
	wg        sync.WaitGroup
}

func NewService(cfg ServiceConfig, invoker fetch.Invoker, opts ...Option) *Service {
	def := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = def.NodeID
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = def.Limits
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = def.SinkTimeout
	}
	s := &Service{
		cfg:     cfg,
		invoker: invoker,
		sink:    events.Nop{},
		conns:   make(map[net.Conn]*trackedConn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) NodeID() string {
	return s.cfg.NodeID
}

// Run listens on ListenAddr and serves until ctx is done. A listen failure is
// returned immediately.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	log.Info().Str("node", s.cfg.NodeID).Str("addr", ln.Addr().String()).Msg("listening with crc and parity checks")
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln. Accept errors are retried with backoff; it
// returns nil once ctx is done or ln is closed and every session has finished.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if s.invoker == nil {
		_ = ln.Close()
		return ErrNoInvoker
	}
	defer ln.Close()
	s.listening.Store(true)
	defer s.listening.Store(false)
	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.closeAllConns()
	}()

	var retryDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			// Per-connection failures such as fd exhaustion never stop the listener.
			retryDelay = nextAcceptDelay(retryDelay)
			log.Warn().Err(err).Dur("retry_in", retryDelay).Msg("accept failed")
			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
			}
			continue
		}
		retryDelay = 0

		if limit := s.cfg.MaxSessions; limit > 0 && s.active.Load() >= int64(limit) {
			s.rejected.Add(1)
			log.Warn().
				Str("remote", conn.RemoteAddr().String()).
				Int("max_sessions", limit).
				Msg("session limit reached; closing connection")
			_ = conn.Close()
			continue
		}

		s.accepted.Add(1)
		s.active.Add(1)
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev <= 0 {
		return minAcceptDelay
	}
	if next := prev * 2; next < maxAcceptDelay {
		return next
	}
	return maxAcceptDelay
}

// Listening reports whether the accept loop is running.
func (s *Service) Listening() bool {
	return s.listening.Load()
}

// ActiveSessions returns the number of sessions currently running.
func (s *Service) ActiveSessions() int64 {
	return s.active.Load()
}

// Counters returns lifetime accepted and rejected connection counts.
func (s *Service) Counters() (accepted, rejected uint64) {
	return s.accepted.Load(), s.rejected.Load()
}

// Snapshot lists connected sessions ordered by connect time.
func (s *Service) Snapshot() []SessionSnapshot {
	s.connsMu.Lock()
	out := make([]SessionSnapshot, 0, len(s.conns))
	for _, tc := range s.conns {
		out = append(out, SessionSnapshot{
			ID:          tc.info.ID,
			Remote:      tc.info.Remote,
			State:       tc.session.State().String(),
			Kind:        string(tc.session.Kind()),
			ConnectedAt: tc.info.OpenedAt,
		})
	}
	s.connsMu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.active.Add(-1)
	defer conn.Close()

	info := events.SessionInfo{
		ID:       uuid.NewString(),
		Node:     s.cfg.NodeID,
		Remote:   conn.RemoteAddr().String(),
		OpenedAt: time.Now(),
	}
	sess := session.New(conn, session.Config{
		ID:          info.ID,
		Invoker:     s.invoker,
		Observer:    &observer{svc: s},
		Limits:      s.cfg.Limits,
		IdleTimeout: s.cfg.IdleTimeout,
	})
	s.trackConn(conn, &trackedConn{info: info, session: sess})
	defer s.untrackConn(conn)

	sessionOpened()
	s.notify(func(c context.Context) error { return s.sink.SessionOpened(c, info) })
	log.Info().
		Str("session", info.ID).
		Str("remote", info.Remote).
		Int64("active_sessions", s.active.Load()).
		Msg("accepted connection")

	err := sess.Run(ctx)

	sessionClosed()
	s.notify(func(c context.Context) error { return s.sink.SessionClosed(c, info) })
	event := log.Info()
	if err != nil && ctx.Err() == nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("session", info.ID).
		Str("remote", info.Remote).
		Dur("duration", time.Since(info.OpenedAt)).
		Msg("connection closed")
}

// notify runs fn against the sink off the session goroutine.
func (s *Service) notify(fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SinkTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Msg("event sink failed")
		}
	}()
}

func (s *Service) trackConn(conn net.Conn, tc *trackedConn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = tc
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

// closeAllConns unblocks every session read on shutdown.
func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
