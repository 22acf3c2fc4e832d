// Package llm abstracts the duplex model session the voice pipeline talks to.
// The production implementation wraps the Gemini Live API; tests supply
// in-memory fakes.
package llm

import (
	"context"
	"errors"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrStreamClosed is returned by Stream.Recv once the session ended without a
// failure: the peer closed normally or the stream was closed locally.
var ErrStreamClosed = errors.New("llm: stream closed")

// SessionConfig selects the model, its voice and the tools it may call.
type SessionConfig struct {
	Model        string
	Voice        string
	Language     string
	SystemPrompt string
	Tools        []FunctionDeclaration
}

// FunctionDeclaration describes a callable tool to the model.
type FunctionDeclaration struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// EventKind classifies a message received from the model.
type EventKind int

const (
	EventOther EventKind = iota
	EventSetupComplete
	EventServerContent
	EventToolCall
	EventUsage
	EventGoAway
)

func (k EventKind) String() string {
	switch k {
	case EventSetupComplete:
		return "setup_complete"
	case EventServerContent:
		return "server_content"
	case EventToolCall:
		return "tool_call"
	case EventUsage:
		return "usage"
	case EventGoAway:
		return "go_away"
	default:
		return "other"
	}
}

// ServerContent is the model-turn portion of an event. Audio holds raw
// 24 kHz mono PCM parts in arrival order.
type ServerContent struct {
	Interrupted      bool
	InputTranscript  string
	OutputTranscript string
	Audio            [][]byte
	TurnComplete     bool
}

// FunctionCall is one tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Usage reports token accounting.
type Usage struct {
	PromptTokens   int
	ResponseTokens int
	TotalTokens    int
}

// Event is one message from the model. Content and ToolCalls follow Kind;
// Usage may ride along with any kind.
type Event struct {
	Kind      EventKind
	Content   *ServerContent
	ToolCalls []FunctionCall
	Usage     *Usage
}

// ToolResult answers a FunctionCall.
type ToolResult struct {
	ID     string
	Name   string
	Output string
	Failed bool
}

// Stream is an open model session. Send methods may be called from a
// different goroutine than Recv. Close unblocks a pending Recv, which then
// returns ErrStreamClosed.
type Stream interface {
	SendInitialTurn(text string) error
	SendAudio(pcm []byte) error
	EndAudio() error
	SendToolResults(results []ToolResult) error
	Recv() (Event, error)
	Close() error
}

// Dialer opens model sessions.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Stream, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cfg SessionConfig) (Stream, error)

func (f DialerFunc) Dial(ctx context.Context, cfg SessionConfig) (Stream, error) { return f(ctx, cfg) }

// OutcomeKind is how a model stream ended.
type OutcomeKind int

const (
	OutcomeClosed OutcomeKind = iota
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	if k == OutcomeFailed {
		return "failed"
	}
	return "closed"
}

// Outcome is the terminal result of consuming a Stream.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Classify maps the error that ended a receive loop onto an Outcome. nil and
// ErrStreamClosed are clean closures; anything else is a failure.
func Classify(err error) Outcome {
	if err == nil || errors.Is(err, ErrStreamClosed) {
		return Outcome{Kind: OutcomeClosed}
	}
	return Outcome{Kind: OutcomeFailed, Err: err}
}
