package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	"github.com/danmuck/edgefetch/internal/logging"
	"github.com/danmuck/edgefetch/internal/protocol/frame"
	"github.com/danmuck/edgefetch/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

func main() {
	configPath := flag.String("config", "", "path to client TOML config")
	addr := flag.String("addr", "", "server address (overrides config)")
	flag.Parse()

	logging.ConfigureRuntime("fetch-client")

	cfg := defaultClientConfig()
	if *configPath != "" {
		loaded, err := loadClientConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetch-client: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	conn, err := dialWithRetry(cfg.Addr, cfg.ConnectAttempts, session.DefaultBackoff())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch-client: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()
	fmt.Println("Connected to Server. CRC & Parity active.")

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	c := &client{
		conn:        conn,
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		interactive: interactive,
		askInject:   cfg.InjectPrompt && interactive,
	}
	if err := c.run(); err != nil {
		fmt.Fprintf(os.Stderr, "fetch-client: %v\n", err)
		os.Exit(1)
	}
}

func dialWithRetry(addr string, attempts int, backoff session.BackoffConfig) (net.Conn, error) {
	if attempts < 1 {
		attempts = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := session.NextBackoffDelay(backoff, attempt, rng)
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("connect failed")
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("connect %s after %d attempts: %w", addr, attempts, lastErr)
}

type client struct {
	conn        net.Conn
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	askInject   bool
}

// run alternates server turns and user lines until the server says goodbye or
// either side closes.
func (c *client) run() error {
	for {
		text, err := c.readTurn()
		if text != "" {
			fmt.Fprintf(c.out, "\nSERVER SAYS:\n%s\n", text)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if strings.Contains(text, "Goodbye") {
			return nil
		}

		if c.interactive {
			fmt.Fprint(c.out, "Your Input: ")
		}
		line, err := c.in.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return err
			}
			if line == "" {
				return nil
			}
		}
		line = strings.TrimRight(line, "\r\n")

		inject := false
		if c.askInject {
			inject, err = c.confirm("Inject Error? (y/n): ")
			if err != nil {
				return err
			}
		}
		if err := c.send(line, inject); err != nil {
			return err
		}
	}
}

// readTurn collects server text until it ends in a prompt or says goodbye.
// Server text is unframed, so one turn may span several reads.
func (c *client) readTurn() (string, error) {
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		sb.Write(buf[:n])
		text := sb.String()
		if strings.HasSuffix(text, ": ") || strings.Contains(text, "Goodbye") {
			return text, nil
		}
		if err != nil {
			return text, err
		}
	}
}

func (c *client) confirm(prompt string) (bool, error) {
	fmt.Fprint(c.out, prompt)
	answer, err := c.in.ReadString('\n')
	if err != nil && answer == "" {
		return false, err
	}
	answer = strings.TrimSpace(answer)
	return strings.EqualFold(answer, "y"), nil
}

// send frames line with checksums computed over the clean bytes, then
// optionally flips the low bit of the first payload byte.
func (c *client) send(line string, inject bool) error {
	f := frame.Encode([]byte(line))
	if inject && len(f.Payload) > 0 {
		fmt.Fprintln(c.out, "\n[!!!] INJECTING ERROR: Flipping bit in first byte...")
		f.Payload[0] ^= 0x01
	}
	return frame.WriteFrame(c.conn, f)
}
