package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gemini-live-lab/internal/recording"
	"github.com/gemini-live-lab/llm"
)

// fakeTransport feeds scripted client frames and records what the server
// writes. Closing in simulates the client closing the socket.
type fakeTransport struct {
	in       chan []byte
	deadline chan struct{}
	dlOnce   sync.Once

	mu          sync.Mutex
	written     [][]byte
	closed      bool
	closeFrame  bool
	failWrites  int
	panicWrites int
	limit       int64
}

func newFakeTransport(frames ...string) *fakeTransport {
	ft := &fakeTransport{in: make(chan []byte, 64), deadline: make(chan struct{})}
	for _, f := range frames {
		ft.in <- []byte(f)
	}
	return ft
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-f.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return websocket.TextMessage, b, nil
	case <-f.deadline:
		return 0, nil, errors.New("read: i/o timeout")
	}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicWrites > 0 {
		f.panicWrites--
		panic("transport exploded")
	}
	if f.failWrites > 0 {
		f.failWrites--
		return errors.New("write: broken pipe")
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.CloseMessage {
		f.closeFrame = true
	}
	return nil
}

func (f *fakeTransport) SetReadDeadline(t time.Time) error {
	if !t.After(time.Now()) {
		f.dlOnce.Do(func() { close(f.deadline) })
	}
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) SetReadLimit(n int64) {
	f.mu.Lock()
	f.limit = n
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (f *fakeTransport) frames(t *testing.T) []frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]frame, 0, len(f.written))
	for _, b := range f.written {
		var fr frame
		if err := json.Unmarshal(b, &fr); err != nil {
			t.Fatalf("server wrote invalid JSON %q: %v", b, err)
		}
		out = append(out, fr)
	}
	return out
}

func events(frames []frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Event
	}
	return out
}

func (fr frame) text() string {
	var s string
	_ = json.Unmarshal(fr.Data, &s)
	return s
}

// fakeStream replays scripted model events. Closing script ends Recv with
// recvErr, or ErrStreamClosed when recvErr is nil.
type fakeStream struct {
	script  chan llm.Event
	recvErr error

	closed    chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	initial     string
	audio       [][]byte
	ended       bool
	toolResults [][]llm.ToolResult
	sendErr     error
	toolErr     error
}

func newFakeStream(evs ...llm.Event) *fakeStream {
	s := &fakeStream{script: make(chan llm.Event, 64), closed: make(chan struct{})}
	for _, ev := range evs {
		s.script <- ev
	}
	return s
}

func (s *fakeStream) SendInitialTurn(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initial = text
	return s.sendErr
}

func (s *fakeStream) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, pcm)
	return nil
}

func (s *fakeStream) EndAudio() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	return nil
}

func (s *fakeStream) SendToolResults(r []llm.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolResults = append(s.toolResults, r)
	return s.toolErr
}

func (s *fakeStream) Recv() (llm.Event, error) {
	select {
	case ev, ok := <-s.script:
		if ok {
			return ev, nil
		}
		if s.recvErr != nil {
			return llm.Event{}, s.recvErr
		}
		return llm.Event{}, llm.ErrStreamClosed
	case <-s.closed:
		return llm.Event{}, llm.ErrStreamClosed
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) forwarded() ([][]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...), s.ended
}

type fakeDialer struct {
	mu     sync.Mutex
	stream *fakeStream
	err    error
	dials  int
	cfg    llm.SessionConfig
}

func (d *fakeDialer) Dial(_ context.Context, cfg llm.SessionConfig) (llm.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.cfg = cfg
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeRecorder struct {
	mu       sync.Mutex
	sessions []recording.Session
}

func (r *fakeRecorder) Assemble(_ context.Context, s recording.Session) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
	if len(s.UserPCM) == 0 {
		return "", recording.ErrNoUserAudio
	}
	return "/recordings/" + s.ConnectionID + ".wav", nil
}

func (r *fakeRecorder) only(t *testing.T) recording.Session {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) != 1 {
		t.Fatalf("recorder calls: want=1 got=%d", len(r.sessions))
	}
	return r.sessions[0]
}

func audioFrame(pcm []byte) string {
	return `{"event":"audio_chunk","data":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`
}

const (
	startFrame = `{"event":"start_session"}`
	endFrame   = `{"event":"end_session"}`
)
