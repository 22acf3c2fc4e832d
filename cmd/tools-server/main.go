// Command tools-server publishes the built-in meeting tools as an MCP server
// over websocket, so other agents (or another live-server) can use them.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/gemini-live-lab/internal/logging"
	"github.com/gemini-live-lab/internal/mcp"
	"github.com/gemini-live-lab/internal/tools"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Init()
		logging.Fatalf("load .env failed", "err", err)
	}
	sugar := logging.Init()
	defer func() { _ = sugar.Sync() }()

	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg); err != nil {
		logging.Fatalf("register tools failed", "err", err)
	}
	server := mcp.NewRegistryServer("gemini-live-tools", "v1.0.0", reg)

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/mcp/ws", mcp.WebSocketHandler(server))

	port := os.Getenv("PORT")
	if port == "" {
		port = "9001"
	}
	addr := net.JoinHostPort(os.Getenv("HOST"), port)
	httpSrv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		logging.Infow("mcp tools server listening", "addr", addr, "tools", reg.Names())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorw("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
