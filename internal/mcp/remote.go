package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gemini-live-lab/internal/logging"
	"github.com/gemini-live-lab/internal/mcp/config"
	"github.com/gemini-live-lab/internal/tools"
)

// RegisterRemoteTools adds every tool the session lists to reg. Names that
// are already taken are skipped with a warning. It returns the names added.
func RegisterRemoteTools(ctx context.Context, sess *sdk.ClientSession, reg *tools.Registry) ([]string, error) {
	var added []string
	for t, err := range sess.Tools(ctx, nil) {
		if err != nil {
			return added, fmt.Errorf("mcp: list tools: %w", err)
		}
		schema, err := toSchema(t.InputSchema)
		if err != nil {
			logging.Warnw("mcp: skipping tool with unreadable schema", "tool", t.Name, "err", err)
			continue
		}
		err = reg.Register(tools.Tool{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schema,
			Handler:     remoteHandler(sess, t.Name),
		})
		if err != nil {
			logging.Warnw("mcp: skipping tool", "tool", t.Name, "err", err)
			continue
		}
		added = append(added, t.Name)
	}
	return added, nil
}

func remoteHandler(sess *sdk.ClientSession, name string) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		res, err := sess.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			return "", err
		}
		text := joinText(res.Content)
		if res.IsError {
			// the registry adds its own prefix
			text = strings.TrimPrefix(text, "Error: ")
			if text == "" {
				text = "remote tool failed"
			}
			return "", errors.New(text)
		}
		return text, nil
	}
}

func joinText(content []sdk.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if t, ok := c.(*sdk.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// toSchema converts the loosely typed schema a server advertises.
func toSchema(v any) (*jsonschema.Schema, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(*jsonschema.Schema); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ConnectAll connects to every enabled server in the manifest and registers
// its tools. Servers that fail are logged and left out. The caller closes
// the returned wrappers.
func ConnectAll(ctx context.Context, manifest config.Result, reg *tools.Registry) []*ClientWrapper {
	var out []*ClientWrapper
	for _, name := range manifest.Order {
		sc := manifest.Servers[name]
		if !sc.EnabledValue() {
			continue
		}
		w := NewClientWrapper("gemini-live-lab", "v1")
		var err error
		switch {
		case sc.Transport != nil && sc.Transport.URL != "":
			err = w.ConnectWebSocket(ctx, sc.Transport.URL)
		case sc.Command != "":
			err = w.ConnectCommand(ctx, name, sc.Command, sc.Args, sc.Env)
		default:
			err = errors.New("no transport url or command")
		}
		if err != nil {
			logging.Warnw("mcp: server unavailable", "server", name, "err", err)
			continue
		}
		added, err := RegisterRemoteTools(ctx, w.Session(), reg)
		if err != nil {
			logging.Warnw("mcp: tool discovery failed", "server", name, "err", err)
		}
		logging.Infow("mcp: tools registered", "server", name, "tools", added)
		out = append(out, w)
	}
	return out
}
