// Package mcp bridges tools served by external MCP servers into the session
// tool registry.
package mcp

import (
	"bufio"
	"context"
	"errors"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gemini-live-lab/internal/logging"
)

// KeepaliveInterval is how often a connected session is pinged.
var KeepaliveInterval = 30 * time.Second

// ClientWrapper owns one MCP client session and whatever had to be started
// to reach it (a websocket or a child process).
type ClientWrapper struct {
	client          *sdk.Client
	session         *sdk.ClientSession
	keepaliveCancel context.CancelFunc
	closers         []func() error
	mu              sync.Mutex
}

func NewClientWrapper(name, version string) *ClientWrapper {
	impl := &sdk.Implementation{Name: name, Version: version}
	return &ClientWrapper{client: sdk.NewClient(impl, nil)}
}

// Session returns the connected session, or nil before a successful connect.
func (w *ClientWrapper) Session() *sdk.ClientSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// ConnectWebSocket dials an MCP websocket endpoint. http(s) URLs are
// rewritten to ws(s).
func (w *ClientWrapper) ConnectWebSocket(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	if err := w.Connect(ctx, NewWebSocketTransport(conn)); err != nil {
		_ = conn.Close()
		return err
	}
	logging.Infow("mcp: connected", "url", u.String())
	return nil
}

// ConnectCommand spawns a local MCP server and talks to it over stdio. The
// child's stderr is forwarded to the log.
func (w *ClientWrapper) ConnectCommand(ctx context.Context, serverName, command string, args []string, env map[string]string) error {
	if command == "" {
		return errors.New("mcp: command is required")
	}
	cmd := exec.Command(command, args...)
	if len(env) > 0 {
		merged := os.Environ()
		for k, v := range env {
			merged = append(merged, k+"="+v)
		}
		cmd.Env = merged
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = stdout.Close()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		_ = stdin.Close()
		return err
	}
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stdin.Close()
		_ = stderr.Close()
		return err
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logging.Debugw("mcp: server stderr", "server", serverName, "line", scanner.Text())
		}
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	if err := w.Connect(ctx, newCommandTransport(stdout, stdin)); err != nil {
		_ = stdout.Close()
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		<-waitCh
		return err
	}
	logging.Infow("mcp: command server started", "server", serverName, "command", command, "args", strings.Join(args, " "))

	w.appendCloser(func() error {
		_ = stdin.Close()
		_ = stdout.Close()
		var err error
		select {
		case err = <-waitCh:
		case <-time.After(2 * time.Second):
			_ = cmd.Process.Kill()
			err = <-waitCh
		}
		if err != nil {
			logging.Warnw("mcp: command server exited", "server", serverName, "err", err)
		}
		return nil
	})
	return nil
}

// Connect binds the wrapper to an arbitrary transport and starts the
// keepalive loop. A previous session's keepalive is stopped.
func (w *ClientWrapper) Connect(ctx context.Context, t sdk.Transport) error {
	sess, err := w.client.Connect(ctx, t, nil)
	if err != nil {
		return err
	}
	kaCtx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	if prev := w.keepaliveCancel; prev != nil {
		prev()
	}
	w.session = sess
	w.keepaliveCancel = cancel
	w.mu.Unlock()

	go keepalive(kaCtx, sess)
	return nil
}

func keepalive(ctx context.Context, sess *sdk.ClientSession) {
	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := sess.Ping(pingCtx, nil); err != nil {
				logging.Warnw("mcp: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

func (w *ClientWrapper) appendCloser(fn func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closers = append(w.closers, fn)
}

// Close ends the session and tears down what was started for it, newest
// first.
func (w *ClientWrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	if w.keepaliveCancel != nil {
		w.keepaliveCancel()
		w.keepaliveCancel = nil
	}
	if w.session != nil {
		if err := w.session.Close(); err != nil {
			errs = append(errs, err)
		}
		w.session = nil
	}
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}
