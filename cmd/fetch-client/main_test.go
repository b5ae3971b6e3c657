package main

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgefetch/internal/fetch"
	"github.com/danmuck/edgefetch/internal/protocol/frame"
	"github.com/danmuck/edgefetch/internal/protocol/session"
	"github.com/danmuck/edgefetch/internal/server"
	"github.com/danmuck/edgefetch/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestLoadClientConfigFromExample(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadClientConfig("ex.config.toml")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.Addr)
	require.Equal(t, 3, cfg.ConnectAttempts)
	require.False(t, cfg.InjectPrompt)
}

func TestLoadClientConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte("addr = \"10.0.0.2:9999\"\n"), 0o600))

	cfg, err := loadClientConfig(path)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.2:9999", cfg.Addr)
	require.Equal(t, 5, cfg.ConnectAttempts)
	require.True(t, cfg.InjectPrompt)

	require.NoError(t, os.WriteFile(path, []byte("connect_attempts = 0\n"), 0o600))
	_, err = loadClientConfig(path)
	require.Error(t, err)
}

func TestSendInjectsSingleBitFlip(t *testing.T) {
	testlog.Start(t)
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()
	c := &client{conn: local, out: &bytes.Buffer{}}

	errCh := make(chan error, 1)
	go func() { errCh <- c.send("2", true) }()
	f, err := frame.ReadFrame(remote, frame.DefaultLimits())
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, []byte{'2' ^ 0x01}, f.Payload)
	require.ErrorIs(t, frame.Verify(f), frame.ErrChecksumMismatch)

	go func() { errCh <- c.send("2", false) }()
	f, err = frame.ReadFrame(remote, frame.DefaultLimits())
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.NoError(t, frame.Verify(f))
}

func TestClientDrivesScriptedSession(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reqs := make(chan fetch.Request, 1)
	inv := fetch.InvokerFunc(func(_ context.Context, req fetch.Request) string {
		reqs <- req
		return req.Spec.Label + " downloaded successfully as " + req.TargetPath()
	})
	svc := server.NewService(server.ServiceConfig{}, inv)
	go func() { _ = svc.Serve(ctx, ln) }()

	conn, err := dialWithRetry(ln.Addr().String(), 3, session.BackoffConfig{InitialDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var out bytes.Buffer
	c := &client{
		conn: conn,
		in:   bufio.NewReader(strings.NewReader("5\nhttp://example.com/b.zip\n\nbundle\n6\n")),
		out:  &out,
	}
	require.NoError(t, c.run())

	got := <-reqs
	require.Equal(t, fetch.KindArchive, got.Spec.Kind)
	require.Equal(t, "http://example.com/b.zip", got.URL)
	require.Equal(t, "bundle", got.Filename)
	require.Contains(t, out.String(), "Enter ZIP URL: ")
	require.Contains(t, out.String(), "ZIP file downloaded successfully as Zips/bundle.zip")
	require.Contains(t, out.String(), "Goodbye")
}

func TestDialWithRetryGivesUp(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = dialWithRetry(addr, 2, session.BackoffConfig{InitialDelay: time.Millisecond})
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 2 attempts")
}
