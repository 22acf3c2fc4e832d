package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gemini-live-lab/internal/config"
	"github.com/gemini-live-lab/internal/logging"
	"github.com/gemini-live-lab/internal/mcp"
	mcpconfig "github.com/gemini-live-lab/internal/mcp/config"
	"github.com/gemini-live-lab/internal/metrics"
	"github.com/gemini-live-lab/internal/recording"
	"github.com/gemini-live-lab/internal/server"
	"github.com/gemini-live-lab/internal/tools"
	"github.com/gemini-live-lab/internal/voice"
	"github.com/gemini-live-lab/llm"
)

const (
	cleanerInterval = 10 * time.Minute
	shutdownGrace   = 15 * time.Second
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logging.Init()
		logging.Fatalf("config invalid", "err", err)
	}
	// .env has been applied to the environment, so Init sees LOG_LEVEL.
	sugar := logging.Init()
	defer func() { _ = sugar.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dialer llm.Dialer
	gd, err := llm.NewGeminiDialer(ctx, cfg.APIKey)
	switch {
	case errors.Is(err, llm.ErrMissingAPIKey):
		logging.Warnw("no Gemini API key; every session will report a model error")
		dialer = llm.DialerFunc(func(context.Context, llm.SessionConfig) (llm.Stream, error) {
			return nil, llm.ErrMissingAPIKey
		})
	case err != nil:
		logging.Fatalf("gemini client init failed", "err", err)
	default:
		dialer = gd
	}

	m := metrics.New("")
	reg := tools.NewRegistry()
	reg.Observe = m.ToolCall
	if err := tools.RegisterBuiltins(reg); err != nil {
		logging.Fatalf("register builtin tools failed", "err", err)
	}
	if cfg.MCPEnabled {
		manifest, err := mcpconfig.LoadResult()
		if err != nil {
			logging.Fatalf("mcp manifest invalid", "err", err)
		}
		logging.Infow("mcp manifests loaded", "sources", manifest.Sources, "servers", manifest.Order)
		for _, w := range mcp.ConnectAll(ctx, manifest, reg) {
			defer w.Close()
		}
	}
	logging.Infow("tools ready", "tools", reg.Names())

	assembler := recording.NewAssembler(cfg.RecordingsDir, cfg.RecordingsBitrate)
	assembler.Observe = m.Recording
	if assembler.Encoder.BitsPerSecond() == 0 {
		logging.Warnw("recordings are uncompressed; build with -tags opus for Ogg/Opus output", "format", assembler.Encoder.Ext())
	}

	var bg sync.WaitGroup
	if cfg.RecordingsRetention > 0 || cfg.RecordingsMaxFiles > 0 {
		bg.Add(1)
		recording.StartCleaner(ctx, &bg, cfg.RecordingsDir, cfg.RecordingsRetention, cleanerInterval, cfg.RecordingsMaxFiles)
	}

	srv := server.New(ctx, server.Options{
		Voice: voice.Config{
			StartTimeout:    cfg.StartTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			MaxMessageBytes: cfg.MaxMessageBytes,
			Session: llm.SessionConfig{
				Model:        cfg.Model,
				Voice:        cfg.Voice,
				Language:     cfg.Language,
				SystemPrompt: cfg.Prompt,
			},
		},
		Deps: voice.Deps{
			Dialer:   dialer,
			Tools:    reg,
			Recorder: assembler,
			Metrics:  m,
		},
		Sidecars: assembler.Sidecars,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.Infow("listening", "addr", cfg.Addr(), "model", cfg.Model, "recordings_dir", cfg.RecordingsDir)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorw("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logging.Infow("shutting down", "active_sessions", srv.Active())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Warnw("http shutdown incomplete", "err", err)
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	srv.Wait()
	bg.Wait()
	logging.Infow("shutdown complete")
}
