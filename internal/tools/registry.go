// Package tools holds the functions the model may call during a session.
//
// A Registry is built once at startup and shared by every connection. Call
// never returns an error: failures become a textual result the model can
// read, so a bad tool call never ends a session.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/gemini-live-lab/internal/logging"
	"github.com/gemini-live-lab/llm"
)

// Handler runs a tool with decoded JSON arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is a named handler plus the schema advertised to the model.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     Handler
}

// Result is what the model receives for a call.
type Result struct {
	Output string
	Failed bool
}

// Registry maps tool names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	// Observe, when set, is told the name and status ("ok", "error",
	// "unknown") of every call.
	Observe func(name, status string)
}

// NewRegistry returns an empty registry; see RegisterBuiltins.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tools: tool needs a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("tools: %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Declarations describes every tool to the model, sorted by name.
func (r *Registry) Declarations() []llm.FunctionDeclaration {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.FunctionDeclaration, 0, len(names))
	for _, n := range names {
		t := r.tools[n]
		out = append(out, llm.FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Schema})
	}
	return out
}

// Call invokes the named tool. Unknown tools, handler errors and panics all
// produce a failed Result whose Output starts with "Error:".
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (res Result) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.observe(name, "unknown")
		logging.WarnwCtx(ctx, "tools: unknown tool", "tool", name)
		return Result{Output: fmt.Sprintf("Error: unknown tool %q", name), Failed: true}
	}

	defer func() {
		if p := recover(); p != nil {
			logging.ErrorwCtx(ctx, "tools: handler panic", "tool", name, "panic", p)
			r.observe(name, "error")
			res = Result{Output: fmt.Sprintf("Error: tool %s panicked: %v", name, p), Failed: true}
		}
	}()

	if args == nil {
		args = map[string]any{}
	}
	out, err := t.Handler(ctx, args)
	if err != nil {
		r.observe(name, "error")
		logging.WarnwCtx(ctx, "tools: handler failed", "tool", name, "err", err)
		return Result{Output: "Error: " + err.Error(), Failed: true}
	}
	r.observe(name, "ok")
	logging.DebugwCtx(ctx, "tools: call complete", "tool", name)
	return Result{Output: out}
}

func (r *Registry) observe(name, status string) {
	if r.Observe != nil {
		r.Observe(name, status)
	}
}
