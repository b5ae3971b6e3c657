package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/danmuck/edgefetch/internal/fetch"
	"github.com/danmuck/edgefetch/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var ErrNoInvoker = errors.New("session: no invoker configured")

// State is one step of the menu dialogue.
type State int

const (
	StateMenu State = iota
	StateCollectingURL
	StateCollectingDir
	StateCollectingFilename
	StateExecuting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateMenu:
		return "menu"
	case StateCollectingURL:
		return "collecting_url"
	case StateCollectingDir:
		return "collecting_dir"
	case StateCollectingFilename:
		return "collecting_filename"
	case StateExecuting:
		return "executing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Command is the download being assembled from client frames.
type Command struct {
	Spec      fetch.Spec
	URL       string
	Directory string
	Filename  string
}

func (c Command) Request() fetch.Request {
	return fetch.Request{
		Spec:      c.Spec,
		URL:       c.URL,
		Directory: c.Directory,
		Filename:  c.Filename,
	}
}

// Observer receives dialogue notifications. Implementations must not block.
type Observer interface {
	FrameRead(sessionID string, state State, err error)
	StateChanged(sessionID string, from, to State)
	CommandFinished(sessionID string, req fetch.Request, status string, elapsed time.Duration)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) FrameRead(string, State, error)                               {}
func (NopObserver) StateChanged(string, State, State)                            {}
func (NopObserver) CommandFinished(string, fetch.Request, string, time.Duration) {}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Session drives one connection's menu dialogue.
type Session struct {
	conn io.ReadWriter
	cfg  Config

	mu      sync.RWMutex
	state   State
	pending *Command
	kind    fetch.Kind
}

// New binds a session to conn in the menu state.
func New(conn io.ReadWriter, cfg Config) *Session {
	return &Session{
		conn:  conn,
		cfg:   cfg.WithDefaults(),
		state: StateMenu,
	}
}

func (s *Session) ID() string {
	return s.cfg.ID
}

// State returns the current dialogue state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Kind returns the kind of the command in progress, or the last one executed.
func (s *Session) Kind() fetch.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kind
}

// Pending returns a copy of the command being collected.
func (s *Session) Pending() (Command, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return Command{}, false
	}
	return *s.pending, true
}

// Run blocks until the client exits (nil), the transport fails, or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.Invoker == nil {
		return ErrNoInvoker
	}
	for {
		if err := ctx.Err(); err != nil {
			s.transition(StateClosed)
			return err
		}

		var err error
		switch s.State() {
		case StateMenu:
			err = s.stepMenu()
		case StateCollectingURL, StateCollectingDir, StateCollectingFilename:
			err = s.stepCollect()
		case StateExecuting:
			err = s.stepExecute(ctx)
		case StateClosed:
			return nil
		}
		if err != nil {
			s.transition(StateClosed)
			return err
		}
	}
}

func (s *Session) stepMenu() error {
	if err := s.send(MenuText); err != nil {
		return err
	}
	choice, err := s.read()
	if err != nil {
		if frame.IsCorruption(err) {
			return s.send(RetryText(err))
		}
		return err
	}

	if spec, ok := fetch.ByChoice(choice); ok {
		s.mu.Lock()
		s.pending = &Command{Spec: spec}
		s.kind = spec.Kind
		s.mu.Unlock()
		s.transition(StateCollectingURL)
		return nil
	}
	if choice == ExitChoice {
		if err := s.send(GoodbyeText); err != nil {
			return err
		}
		s.transition(StateClosed)
		return nil
	}
	return s.send(InvalidChoiceText)
}

func (s *Session) stepCollect() error {
	cmd, ok := s.Pending()
	if !ok {
		s.transition(StateMenu)
		return nil
	}

	state := s.State()
	var prompt string
	switch state {
	case StateCollectingURL:
		prompt = URLPrompt(cmd.Spec)
	case StateCollectingDir:
		prompt = DirectoryPrompt
	default:
		prompt = FilenamePrompt
	}
	if err := s.send(prompt); err != nil {
		return err
	}

	value, err := s.read()
	if err != nil {
		if !frame.IsCorruption(err) {
			return err
		}
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		log.Warn().
			Str("session", s.cfg.ID).
			Str("state", state.String()).
			Str("kind", string(cmd.Spec.Kind)).
			Msg("command abandoned after corrupted field")
		s.transition(StateMenu)
		return s.send(CorruptionText(err))
	}

	next := StateExecuting
	s.mu.Lock()
	switch state {
	case StateCollectingURL:
		s.pending.URL = value
		next = StateCollectingDir
	case StateCollectingDir:
		s.pending.Directory = value
		next = StateCollectingFilename
	default:
		s.pending.Filename = value
	}
	s.mu.Unlock()
	s.transition(next)
	return nil
}

func (s *Session) stepExecute(ctx context.Context) error {
	cmd, ok := s.Pending()
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	if !ok {
		s.transition(StateMenu)
		return nil
	}

	req := cmd.Request()
	start := time.Now()
	status := s.cfg.Invoker.Fetch(ctx, req)
	elapsed := time.Since(start)
	s.cfg.Observer.CommandFinished(s.cfg.ID, req, status, elapsed)
	log.Info().
		Str("session", s.cfg.ID).
		Str("kind", string(req.Spec.Kind)).
		Str("url", req.URL).
		Str("dir", req.ResolvedDir()).
		Dur("elapsed", elapsed).
		Msg("command executed")

	s.transition(StateMenu)
	return s.send(status)
}

func (s *Session) read() (string, error) {
	if s.cfg.IdleTimeout > 0 {
		if d, ok := s.conn.(readDeadliner); ok {
			_ = d.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
	}
	state := s.State()
	text, err := frame.ReadText(s.conn, s.cfg.Limits)
	s.cfg.Observer.FrameRead(s.cfg.ID, state, err)
	if err != nil && frame.IsCorruption(err) {
		log.Warn().
			Str("session", s.cfg.ID).
			Str("state", state.String()).
			Str("fault", frame.FaultLabel(err)).
			Err(err).
			Msg("frame verification failed")
	}
	return text, err
}

func (s *Session) send(text string) error {
	_, err := io.WriteString(s.conn, text)
	return err
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	log.Debug().
		Str("session", s.cfg.ID).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("session transition")
	s.cfg.Observer.StateChanged(s.cfg.ID, from, to)
}
