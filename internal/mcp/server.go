package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gemini-live-lab/internal/logging"
	"github.com/gemini-live-lab/internal/tools"
)

// NewRegistryServer exposes every tool in reg as an MCP tool. Calls go
// through reg.Call, so failures come back as IsError results.
func NewRegistryServer(name, version string, reg *tools.Registry) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: name, Version: version}, nil)
	for _, d := range reg.Declarations() {
		schema := d.Parameters
		if schema == nil {
			schema = &jsonschema.Schema{Type: "object"}
		}
		toolName := d.Name
		server.AddTool(&sdk.Tool{Name: d.Name, Description: d.Description, InputSchema: schema},
			func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
				args := map[string]any{}
				if raw := req.Params.Arguments; len(raw) > 0 {
					if err := json.Unmarshal(raw, &args); err != nil {
						return &sdk.CallToolResult{
							Content: []sdk.Content{&sdk.TextContent{Text: "Error: arguments must be a JSON object"}},
							IsError: true,
						}, nil
					}
				}
				res := reg.Call(ctx, toolName, args)
				return &sdk.CallToolResult{
					Content: []sdk.Content{&sdk.TextContent{Text: res.Output}},
					IsError: res.Failed,
				}, nil
			})
	}
	return server
}

// WebSocketHandler upgrades each request and serves one MCP session on it.
func WebSocketHandler(server *sdk.Server) http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnw("mcp: websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
			return
		}
		go func() {
			sess, err := server.Connect(context.Background(), NewWebSocketTransport(conn), nil)
			if err != nil {
				logging.Warnw("mcp: server connect failed", "err", err)
				_ = conn.Close()
				return
			}
			if err := sess.Wait(); err != nil {
				logging.Debugw("mcp: session ended", "err", err)
			}
		}()
	})
}
