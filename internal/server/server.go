// Package server exposes the voice endpoint and its supporting routes over
// HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/gemini-live-lab/internal/logging"
	"github.com/gemini-live-lab/internal/recording"
	"github.com/gemini-live-lab/internal/voice"
)

// Options wires the server to its collaborators.
type Options struct {
	Voice    voice.Config
	Deps     voice.Deps
	Sidecars *recording.SidecarStore
	// AllowedOrigins limits browser origins for /ws. Empty allows any.
	AllowedOrigins []string
}

// Server owns the HTTP routes and tracks live voice sessions.
type Server struct {
	opts     Options
	base     context.Context
	upgrader websocket.Upgrader
	router   *mux.Router

	active atomic.Int64
	wg     sync.WaitGroup
}

// New builds the router. base is the parent context of every session;
// cancelling it ends them all.
func New(base context.Context, opts Options) *Server {
	s := &Server{opts: opts, base: base}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", opts.Deps.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/recordings/{id}", s.handleRecording).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/recordings/{id}/metadata", s.handleRecordingMetadata).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Active is the number of sessions currently being handled.
func (s *Server) Active() int64 { return s.active.Load() }

// Wait blocks until every session has finished its teardown.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.opts.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.base.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("server: websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	cfg := s.opts.Voice
	if s.opts.Deps.Tools != nil {
		cfg.Session.Tools = s.opts.Deps.Tools.Declarations()
	}
	conn := voice.NewConnection(ws, cfg, s.opts.Deps)

	s.wg.Add(1)
	s.active.Add(1)
	defer func() {
		s.active.Add(-1)
		s.wg.Done()
	}()
	logging.Infow("server: client connected", append(logging.ConnFields(conn.ID), "remote", r.RemoteAddr)...)
	if err := conn.Handle(s.base); err != nil {
		logging.Warnw("server: session ended with error", append(logging.ConnFields(conn.ID), "err", err)...)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active_sessions": s.Active()})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (recording.Metadata, bool) {
	md, err := s.opts.Sidecars.Read(mux.Vars(r)["id"])
	switch {
	case errors.Is(err, recording.ErrNotFound):
		http.NotFound(w, r)
		return md, false
	case err != nil:
		logging.Errorw("server: recording lookup failed", "err", err)
		http.Error(w, "recording unavailable", http.StatusInternalServerError)
		return md, false
	}
	return md, true
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	md, ok := s.lookup(w, r)
	if !ok {
		return
	}
	f, err := os.Open(md.RecordingPath)
	if errors.Is(err, os.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		logging.Errorw("server: open recording failed", "path", md.RecordingPath, "err", err)
		http.Error(w, "recording unavailable", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", recording.ContentTypeFor(md.Format))
	http.ServeContent(w, r, filepath.Base(md.RecordingPath), md.CreatedAt, f)
}

func (s *Server) handleRecordingMetadata(w http.ResponseWriter, r *http.Request) {
	if md, ok := s.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, md)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
