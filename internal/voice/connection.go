// Package voice runs one browser voice session: a receiver reading client
// frames, a processor bridging them to the model stream, and a sender writing
// events back, supervised by Connection.Handle.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/gemini-live-lab/internal/logging"
	"github.com/gemini-live-lab/internal/metrics"
	"github.com/gemini-live-lab/internal/protocol"
	"github.com/gemini-live-lab/internal/recording"
	"github.com/gemini-live-lab/internal/tools"
	"github.com/gemini-live-lab/llm"
)

const (
	DefaultStartTimeout = 30 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultGreeting     = "Hello."
	closeGrace          = time.Second
)

// Transport is the client side of the connection. *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Recorder builds the session recording at teardown.
type Recorder interface {
	Assemble(ctx context.Context, s recording.Session) (string, error)
}

// Config tunes one connection.
type Config struct {
	StartTimeout    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	// Greeting is sent to the model as a complete user turn right after
	// the session opens.
	Greeting string
	Session  llm.SessionConfig
}

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Greeting == "" {
		c.Greeting = DefaultGreeting
	}
	return c
}

// Deps are the process-wide collaborators shared by every connection.
type Deps struct {
	Dialer   llm.Dialer
	Tools    *tools.Registry
	Recorder Recorder
	Metrics  *metrics.Metrics
}

// Connection owns everything belonging to one client session.
type Connection struct {
	ID        string
	CreatedAt time.Time

	conn     Transport
	cfg      Config
	dialer   llm.Dialer
	tools    *tools.Registry
	recorder Recorder
	metrics  *metrics.Metrics

	started      *Latch
	receiverDone chan struct{}
	audioQ       *Queue[[]byte]
	outQ         *Queue[protocol.ServerMessage]
	utter        *utterances
	state        *stateMachine
	toolState    *tools.State

	userMu  sync.Mutex
	userPCM []byte

	resultMu      sync.Mutex
	result        string
	recordingPath string
}

// NewID returns conn_<unix-ms>_<first 8 hex of a uuid>.
func NewID(now time.Time) string {
	return fmt.Sprintf("conn_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

// NewConnection prepares a session for conn without starting it; Handle runs
// it. A nil deps.Tools gives the session an empty registry.
func NewConnection(conn Transport, cfg Config, deps Deps) *Connection {
	now := time.Now()
	c := &Connection{
		ID:           NewID(now),
		CreatedAt:    now,
		conn:         conn,
		cfg:          cfg.withDefaults(),
		dialer:       deps.Dialer,
		tools:        deps.Tools,
		recorder:     deps.Recorder,
		metrics:      deps.Metrics,
		started:      NewLatch(),
		receiverDone: make(chan struct{}),
		audioQ:       NewQueue[[]byte](),
		outQ:         NewQueue[protocol.ServerMessage](),
	}
	if c.tools == nil {
		c.tools = tools.NewRegistry()
	}
	c.utter = newUtterances(c.started.Since)
	c.toolState = tools.NewState(c.ID)
	c.state = &stateMachine{onChange: func(from, to State) {
		logging.Infow("voice: state change", append(logging.ConnFields(c.ID), "from", from.String(), "to", to.String())...)
		c.metrics.Transition(from.String(), to.String())
	}}
	return c
}

// State is the current lifecycle stage.
func (c *Connection) State() State { return c.state.Current() }

// RecordingPath is the file written at teardown, empty if none.
func (c *Connection) RecordingPath() string {
	c.resultMu.Lock()
	defer c.resultMu.Unlock()
	return c.recordingPath
}

// Handle runs the session until the client leaves, the model stream ends, or
// ctx is cancelled, then cleans up. All three workers are awaited; the
// processor finishing is what cancels the receiver.
func (c *Connection) Handle(ctx context.Context) error {
	ctx = logging.WithFields(ctx, logging.ConnFields(c.ID)...)
	ctx = tools.WithState(ctx, c.toolState)
	c.metrics.SessionOpened()
	logging.InfowCtx(ctx, "voice: connection opened")
	c.state.To(StateAwaitingStart)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	recvCtx, cancelRecv := context.WithCancel(sessCtx)
	defer cancelRecv()

	var g errgroup.Group
	g.Go(c.guard(sessCtx, cancel, "receiver", func() error {
		return c.receive(recvCtx)
	}))
	g.Go(c.guard(sessCtx, cancel, "processor", func() error {
		defer cancelRecv()
		return c.process(sessCtx)
	}))
	g.Go(c.guard(sessCtx, cancel, "sender", func() error {
		return c.send(sessCtx)
	}))
	err := g.Wait()
	if err != nil {
		c.setResult("failed")
		logging.ErrorwCtx(ctx, "voice: worker failed", "err", err)
	}
	c.cleanup(ctx, err)
	return err
}

// guard turns a worker panic into an error and cancels the session so the
// other workers wind down.
func (c *Connection) guard(ctx context.Context, cancel context.CancelFunc, name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				logging.ErrorwCtx(ctx, "voice: worker panic", "worker", name, "panic", p)
				err = fmt.Errorf("voice: %s panicked: %v", name, p)
				cancel()
			}
		}()
		return fn()
	}
}

func (c *Connection) cleanup(ctx context.Context, failure error) {
	c.state.To(StateEnding)
	if c.utter.Finalize() {
		logging.DebugwCtx(ctx, "voice: finalized in-flight utterance at teardown")
	}
	if failure != nil {
		// The sender is gone; write the error frame directly.
		if err := c.write(protocol.Error(protocol.ErrSessionFailed)); err != nil {
			logging.DebugwCtx(ctx, "voice: failure notice not delivered", "err", err)
		}
	}
	audio, events := c.audioQ.Drain(), c.outQ.Drain()
	logging.InfowCtx(ctx, "voice: queues drained", "audio_dropped", audio, "events_dropped", events)

	c.assemble(ctx)

	deadline := time.Now().Add(closeGrace)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		logging.DebugwCtx(ctx, "voice: close frame not sent", "err", err)
	}
	_ = c.conn.Close()

	c.state.To(StateClosed)
	result := c.Result()
	c.metrics.SessionClosed(result, time.Since(c.CreatedAt))
	logging.InfowCtx(ctx, "voice: connection closed", "result", result, "duration_ms", time.Since(c.CreatedAt).Milliseconds())
}

// assemble runs the recorder on its own goroutine and waits for it. Panics
// in the recorder are contained to this connection.
func (c *Connection) assemble(ctx context.Context) {
	if c.recorder == nil {
		return
	}
	sess := recording.Session{
		ConnectionID: c.ID,
		StartedAt:    c.started.SetAt(),
		UserPCM:      c.userAudio(),
		Utterances:   c.utter.Records(),
	}
	type outcome struct {
		path string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("recorder panic: %v", p)}
			}
		}()
		path, err := c.recorder.Assemble(context.WithoutCancel(ctx), sess)
		done <- outcome{path, err}
	}()
	o := <-done
	switch {
	case o.err == nil:
		c.resultMu.Lock()
		c.recordingPath = o.path
		c.resultMu.Unlock()
	case errors.Is(o.err, recording.ErrNoUserAudio):
	default:
		logging.ErrorwCtx(ctx, "voice: recording failed", "err", o.err)
	}
}

func (c *Connection) appendUser(pcm []byte) {
	c.userMu.Lock()
	c.userPCM = append(c.userPCM, pcm...)
	c.userMu.Unlock()
}

func (c *Connection) userAudio() []byte {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	return c.userPCM
}

// setResult records the first non-ok outcome of the session.
func (c *Connection) setResult(r string) {
	c.resultMu.Lock()
	defer c.resultMu.Unlock()
	if c.result == "" {
		c.result = r
	}
}

// Result is "ok" unless the session timed out, the model failed, or a worker
// panicked.
func (c *Connection) Result() string {
	c.resultMu.Lock()
	defer c.resultMu.Unlock()
	if c.result == "" {
		return "ok"
	}
	return c.result
}

func (c *Connection) enqueue(m protocol.ServerMessage) { c.outQ.Push(m) }
