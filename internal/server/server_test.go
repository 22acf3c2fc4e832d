package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/gemini-live-lab/internal/metrics"
	"github.com/gemini-live-lab/internal/recording"
	"github.com/gemini-live-lab/internal/tools"
	"github.com/gemini-live-lab/internal/voice"
	"github.com/gemini-live-lab/llm"
)

// scriptedStream returns its events in order, then blocks until closed.
type scriptedStream struct {
	mu     sync.Mutex
	events []llm.Event
	audio  int

	closed chan struct{}
	once   sync.Once
}

func (s *scriptedStream) SendInitialTurn(string) error           { return nil }
func (s *scriptedStream) EndAudio() error                        { return nil }
func (s *scriptedStream) SendToolResults([]llm.ToolResult) error { return nil }

func (s *scriptedStream) SendAudio([]byte) error {
	s.mu.Lock()
	s.audio++
	s.mu.Unlock()
	return nil
}

func (s *scriptedStream) Recv() (llm.Event, error) {
	s.mu.Lock()
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		s.mu.Unlock()
		return ev, nil
	}
	s.mu.Unlock()
	<-s.closed
	return llm.Event{}, llm.ErrStreamClosed
}

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type scriptedDialer struct {
	mu     sync.Mutex
	stream *scriptedStream
	cfg    llm.SessionConfig
}

func (d *scriptedDialer) Dial(_ context.Context, cfg llm.SessionConfig) (llm.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	return d.stream, nil
}

type wsMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, dialer llm.Dialer) (*Server, *httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(reg))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := New(ctx, Options{
		Voice: voice.Config{StartTimeout: 2 * time.Second, Session: llm.SessionConfig{Model: "test-model"}},
		Deps: voice.Deps{
			Dialer:   dialer,
			Tools:    reg,
			Recorder: recording.NewAssembler(dir, 32000),
			Metrics:  metrics.New("test"),
		},
		Sidecars: recording.NewSidecarStore(dir),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts, dir
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) []wsMessage {
	t.Helper()
	var got []wsMessage
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var m wsMessage
		require.NoError(t, conn.ReadJSON(&m))
		got = append(got, m)
		if m.Event == event {
			return got
		}
	}
}

func TestVoiceSessionEndToEnd(t *testing.T) {
	stream := &scriptedStream{
		closed: make(chan struct{}),
		events: []llm.Event{
			{Kind: llm.EventServerContent, Content: &llm.ServerContent{OutputTranscript: "namaste"}},
			{Kind: llm.EventServerContent, Content: &llm.ServerContent{Audio: [][]byte{make([]byte, 480)}}},
			{Kind: llm.EventServerContent, Content: &llm.ServerContent{TurnComplete: true}},
		},
	}
	dialer := &scriptedDialer{stream: stream}
	srv, ts, dir := newTestServer(t, dialer)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "start_session"}))
	pcm := base64.StdEncoding.EncodeToString(make([]byte, 3200))
	require.NoError(t, conn.WriteJSON(map[string]any{"event": "audio_chunk", "data": pcm}))

	msgs := readUntil(t, conn, "turn_complete")
	events := make([]string, len(msgs))
	for i, m := range msgs {
		events[i] = m.Event
	}
	require.Equal(t, []string{"status", "model_transcript", "audio_chunk", "turn_complete"}, events)

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "end_session"}))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	srv.Wait()
	require.Zero(t, srv.Active())

	dialer.mu.Lock()
	require.Len(t, dialer.cfg.Tools, 2, "builtin tools are declared to the model")
	dialer.mu.Unlock()

	sidecars, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	require.Len(t, sidecars, 1)
	id := strings.TrimSuffix(filepath.Base(sidecars[0]), ".json")

	resp, err := http.Get(ts.URL + "/recordings/" + id)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, recording.DefaultEncoder(0).ContentType(), resp.Header.Get("Content-Type"))
	require.NotEmpty(t, body)

	resp, err = http.Get(ts.URL + "/recordings/" + id + "/metadata")
	require.NoError(t, err)
	var md recording.Metadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&md))
	resp.Body.Close()
	require.Equal(t, id, md.ConnectionID)
	require.Len(t, md.Utterances, 1)
}

func TestRecordingNotFound(t *testing.T) {
	_, ts, dir := newTestServer(t, &scriptedDialer{})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0o644))

	for _, path := range []string{"/recordings/conn_missing", "/recordings/..%2Fsecret", "/recordings/a.b"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts, _ := newTestServer(t, &scriptedDialer{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	require.Equal(t, "ok", health["status"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "test_sessions_active")
}

func TestOriginCheck(t *testing.T) {
	s := New(context.Background(), Options{AllowedOrigins: []string{"https://app.example"}})
	ok := httptest.NewRequest(http.MethodGet, "/ws", nil)
	ok.Header.Set("Origin", "https://app.example")
	bad := httptest.NewRequest(http.MethodGet, "/ws", nil)
	bad.Header.Set("Origin", "https://evil.example")
	require.True(t, s.checkOrigin(ok))
	require.False(t, s.checkOrigin(bad))
}
