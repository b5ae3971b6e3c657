package session

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/edgefetch/internal/fetch"
	"github.com/danmuck/edgefetch/internal/protocol/frame"
	"github.com/danmuck/edgefetch/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type recordingInvoker struct {
	mu   sync.Mutex
	reqs []fetch.Request
}

func (r *recordingInvoker) Fetch(_ context.Context, req fetch.Request) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return "fetched " + req.TargetPath()
}

func (r *recordingInvoker) requests() []fetch.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fetch.Request, len(r.reqs))
	copy(out, r.reqs)
	return out
}

type recordingObserver struct {
	mu          sync.Mutex
	faults      []string
	transitions []State
	finished    int
}

func (o *recordingObserver) FrameRead(_ string, _ State, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.faults = append(o.faults, frame.FaultLabel(err))
}

func (o *recordingObserver) StateChanged(_ string, _ State, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, to)
}

func (o *recordingObserver) CommandFinished(string, fetch.Request, string, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
}

type harness struct {
	t       *testing.T
	client  net.Conn
	session *Session
	done    chan error
}

func startSession(t *testing.T, inv fetch.Invoker, obs Observer) *harness {
	t.Helper()
	server, client := net.Pipe()
	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	cfg := DefaultConfig()
	cfg.ID = "sess.test"
	cfg.Invoker = inv
	if obs != nil {
		cfg.Observer = obs
	}
	s := New(server, cfg)
	h := &harness{t: t, client: client, session: s, done: make(chan error, 1)}
	go func() {
		h.done <- s.Run(context.Background())
		_ = server.Close()
	}()
	t.Cleanup(func() { _ = client.Close() })
	return h
}

func (h *harness) expect(want string) {
	h.t.Helper()
	buf := make([]byte, len(want))
	if _, err := io.ReadFull(h.client, buf); err != nil {
		h.t.Fatalf("read %q: %v", want, err)
	}
	if string(buf) != want {
		h.t.Fatalf("unexpected server text:\n got=%q\nwant=%q", string(buf), want)
	}
}

func (h *harness) send(text string) {
	h.t.Helper()
	if err := frame.WriteText(h.client, text); err != nil {
		h.t.Fatalf("send %q: %v", text, err)
	}
}

// sendCorrupt computes the header over text and then flips the low bit of the
// first payload byte.
func (h *harness) sendCorrupt(text string) {
	h.t.Helper()
	f := frame.Encode([]byte(text))
	f.Payload[0] ^= 0x01
	if err := frame.WriteFrame(h.client, f); err != nil {
		h.t.Fatalf("send corrupt %q: %v", text, err)
	}
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatalf("session did not finish")
		return nil
	}
}

func TestSessionFullImageCommand(t *testing.T) {
	testlog.Start(t)
	inv := &recordingInvoker{}
	h := startSession(t, inv, nil)

	h.expect(MenuText)
	h.send("1")
	h.expect("Enter image URL: ")
	h.send("http://example.com/cat")
	h.expect(DirectoryPrompt)
	h.send("pics")
	h.expect(FilenamePrompt)
	h.send("cat\n")
	h.expect("fetched pics/cat.jpg")
	h.expect(MenuText)
	h.send(ExitChoice)
	h.expect(GoodbyeText)

	if err := h.wait(); err != nil {
		t.Fatalf("run: %v", err)
	}
	reqs := inv.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, fetch.KindImage, reqs[0].Spec.Kind)
	require.Equal(t, "http://example.com/cat", reqs[0].URL)
	require.Equal(t, "pics", reqs[0].Directory)
	require.Equal(t, "cat", reqs[0].Filename)
	require.Equal(t, StateClosed, h.session.State())
	require.Equal(t, fetch.KindImage, h.session.Kind())
}

func TestSessionBlankDirectoryUsesKindDefault(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		choice string
		prompt string
		dir    string
		file   string
	}{
		{"2", "Enter video URL: ", "Videos", "clip.mp4"},
		{"3", "Enter audio URL: ", "Audio", "clip.mp3"},
		{"4", "Enter PDF URL: ", "PDFs", "clip.pdf"},
		{"5", "Enter ZIP URL: ", "Zips", "clip.zip"},
	}
	for _, tc := range cases {
		t.Run(tc.dir, func(t *testing.T) {
			inv := &recordingInvoker{}
			h := startSession(t, inv, nil)
			h.expect(MenuText)
			h.send(tc.choice)
			h.expect(tc.prompt)
			h.send("http://example.com/x")
			h.expect(DirectoryPrompt)
			h.send("   ")
			h.expect(FilenamePrompt)
			h.send("clip")
			h.expect("fetched " + tc.dir + "/" + tc.file)
			h.expect(MenuText)
			h.send(ExitChoice)
			h.expect(GoodbyeText)
			require.NoError(t, h.wait())
			require.Equal(t, tc.dir, inv.requests()[0].ResolvedDir())
		})
	}
}

func TestSessionCorruptChoiceRedisplaysMenu(t *testing.T) {
	testlog.Start(t)
	obs := &recordingObserver{}
	h := startSession(t, &recordingInvoker{}, obs)

	h.expect(MenuText)
	f := frame.Encode([]byte("hello"))
	f.Header.Checksum ^= 0x01
	if err := frame.WriteFrame(h.client, f); err != nil {
		t.Fatalf("write: %v", err)
	}
	h.expect("\n[SERVER] " + ChecksumErrorText + " -> Please Try Again.\n")
	h.expect(MenuText)
	require.Equal(t, StateMenu, h.session.State())

	h.send(ExitChoice)
	h.expect(GoodbyeText)
	require.NoError(t, h.wait())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Equal(t, []string{"checksum", "ok"}, obs.faults)
	require.Equal(t, []State{StateClosed}, obs.transitions)
}

func TestSessionParityFailureAtMenu(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, &recordingInvoker{}, nil)

	h.expect(MenuText)
	f := frame.Encode([]byte("1"))
	f.Header.RowParity ^= 0x10
	require.NoError(t, frame.WriteFrame(h.client, f))
	h.expect(RetryText(frame.ErrParityMismatch))
	h.expect(MenuText)
	h.send(ExitChoice)
	h.expect(GoodbyeText)
	require.NoError(t, h.wait())
}

func TestSessionExitClosesWithoutFurtherReads(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, &recordingInvoker{}, nil)

	h.expect(MenuText)
	h.send("6")
	h.expect(GoodbyeText)
	if err := h.wait(); err != nil {
		t.Fatalf("run: %v", err)
	}
	// The server side is closed once Run returns.
	if _, err := h.client.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after goodbye, got %v", err)
	}
}

func TestSessionInvalidChoiceKeepsConnection(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, &recordingInvoker{}, nil)

	h.expect(MenuText)
	h.send("9")
	h.expect(InvalidChoiceText)
	h.expect(MenuText)
	h.send("download")
	h.expect(InvalidChoiceText)
	h.expect(MenuText)
	require.Equal(t, StateMenu, h.session.State())
	h.send(ExitChoice)
	h.expect(GoodbyeText)
	require.NoError(t, h.wait())
}

func TestSessionCorruptURLAbandonsCommand(t *testing.T) {
	testlog.Start(t)
	inv := &recordingInvoker{}
	h := startSession(t, inv, nil)

	h.expect(MenuText)
	h.send("1")
	h.expect("Enter image URL: ")
	h.sendCorrupt("http://example.com/cat")
	h.expect(ChecksumErrorText)
	// Straight back to the menu: no directory or filename prompt.
	h.expect(MenuText)
	if _, ok := h.session.Pending(); ok {
		t.Fatalf("pending command should be discarded")
	}
	h.send(ExitChoice)
	h.expect(GoodbyeText)
	require.NoError(t, h.wait())
	require.Empty(t, inv.requests())
}

func TestSessionUndecodableURLAbandonsCommand(t *testing.T) {
	testlog.Start(t)
	inv := &recordingInvoker{}
	obs := &recordingObserver{}
	h := startSession(t, inv, obs)

	h.expect(MenuText)
	h.send("1")
	h.expect("Enter image URL: ")
	h.send("http://x/\xff\xfe")
	h.expect(PacketErrorText)
	h.expect(MenuText)
	if _, ok := h.session.Pending(); ok {
		t.Fatalf("pending command should be discarded")
	}
	h.send(ExitChoice)
	h.expect(GoodbyeText)
	require.NoError(t, h.wait())
	require.Empty(t, inv.requests())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Equal(t, []string{"ok", "text", "ok"}, obs.faults)
}

func TestSessionUndecodableChoiceRetriesMenu(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, &recordingInvoker{}, nil)

	h.expect(MenuText)
	h.send("\xc3")
	h.expect("\n[SERVER] " + PacketErrorText + " -> Please Try Again.\n")
	h.expect(MenuText)
	h.send(ExitChoice)
	h.expect(GoodbyeText)
	require.NoError(t, h.wait())
}

func TestSessionCorruptFilenameDiscardsCollectedFields(t *testing.T) {
	testlog.Start(t)
	inv := &recordingInvoker{}
	h := startSession(t, inv, nil)

	h.expect(MenuText)
	h.send("4")
	h.expect("Enter PDF URL: ")
	h.send("http://example.com/doc")
	h.expect(DirectoryPrompt)
	h.send("docs")
	h.expect(FilenamePrompt)
	h.sendCorrupt("report")
	h.expect(ChecksumErrorText)
	h.expect(MenuText)

	// A new command starts from scratch.
	h.send("4")
	h.expect("Enter PDF URL: ")
	h.send("http://example.com/other")
	h.expect(DirectoryPrompt)
	h.send("")
	h.expect(FilenamePrompt)
	h.send("other")
	h.expect("fetched PDFs/other.pdf")
	h.expect(MenuText)
	h.send(ExitChoice)
	h.expect(GoodbyeText)
	require.NoError(t, h.wait())

	reqs := inv.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "http://example.com/other", reqs[0].URL)
	require.Empty(t, reqs[0].Directory)
}

func TestSessionTransportFailureEndsSilently(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, &recordingInvoker{}, nil)

	h.expect(MenuText)
	h.send("2")
	h.expect("Enter video URL: ")
	_ = h.client.Close()

	err := h.wait()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	require.Equal(t, StateClosed, h.session.State())
}

func TestSessionShortHeaderIsTransportFailure(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, &recordingInvoker{}, nil)

	h.expect(MenuText)
	_, err := h.client.Write([]byte{5, 0, 0})
	require.NoError(t, err)
	_ = h.client.Close()

	if err := h.wait(); !errors.Is(err, frame.ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestSessionObserverSeesCommand(t *testing.T) {
	testlog.Start(t)
	obs := &recordingObserver{}
	h := startSession(t, &recordingInvoker{}, obs)

	h.expect(MenuText)
	h.send("5")
	h.expect("Enter ZIP URL: ")
	h.send("http://example.com/z")
	h.expect(DirectoryPrompt)
	h.send("")
	h.expect(FilenamePrompt)
	h.send("z")
	h.expect("fetched Zips/z.zip")
	h.expect(MenuText)
	h.send(ExitChoice)
	h.expect(GoodbyeText)
	require.NoError(t, h.wait())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Equal(t, 1, obs.finished)
	require.Equal(t, []State{
		StateCollectingURL,
		StateCollectingDir,
		StateCollectingFilename,
		StateExecuting,
		StateMenu,
		StateClosed,
	}, obs.transitions)
}

func TestSessionIdleTimeoutClosesSilently(t *testing.T) {
	testlog.Start(t)
	server, client := net.Pipe()
	defer client.Close()
	_ = client.SetDeadline(time.Now().Add(5 * time.Second))

	cfg := DefaultConfig()
	cfg.ID = "sess.idle"
	cfg.Invoker = &recordingInvoker{}
	cfg.IdleTimeout = 50 * time.Millisecond
	s := New(server, cfg)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
		_ = server.Close()
	}()

	buf := make([]byte, len(MenuText))
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, MenuText, string(buf))

	select {
	case err := <-done:
		require.ErrorIs(t, err, os.ErrDeadlineExceeded)
		var ne net.Error
		require.True(t, errors.As(err, &ne) && ne.Timeout())
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not time out")
	}
	require.Equal(t, StateClosed, s.State())

	// nothing follows the menu once the read deadline fires
	n, err := client.Read(make([]byte, 1))
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestSessionRequiresInvoker(t *testing.T) {
	testlog.Start(t)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	err := New(server, DefaultConfig()).Run(context.Background())
	if !errors.Is(err, ErrNoInvoker) {
		t.Fatalf("expected ErrNoInvoker, got %v", err)
	}
}

func TestSessionStopsOnCanceledContext(t *testing.T) {
	testlog.Start(t)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := DefaultConfig()
	cfg.Invoker = &recordingInvoker{}
	s := New(server, cfg)
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	require.Equal(t, StateClosed, s.State())
}

func TestStateString(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, "menu", StateMenu.String())
	require.Equal(t, "collecting_filename", StateCollectingFilename.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "unknown", State(42).String())
}

func TestCorruptionText(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, ChecksumErrorText, CorruptionText(frame.ErrChecksumMismatch))
	require.Equal(t, ParityErrorText, CorruptionText(frame.ErrParityMismatch))
	require.Equal(t, PacketErrorText, CorruptionText(frame.ErrInvalidText))
	require.Equal(t, PacketErrorText, CorruptionText(io.ErrUnexpectedEOF))
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultBackoff()
	rng := rand.New(rand.NewSource(7))
	for attempt := 1; attempt <= 8; attempt++ {
		got := NextBackoffDelay(cfg, attempt, rng)
		if attempt == 1 && got != cfg.InitialDelay {
			t.Fatalf("attempt1 should not jitter, got=%v", got)
		}
		if got > time.Duration(float64(cfg.MaxDelay)*1.5) {
			t.Fatalf("attempt%d exceeded jittered max: %v", attempt, got)
		}
	}
}
