// Package protocol defines the JSON messages exchanged with the browser
// client. Every frame is a text frame holding {"event": ..., "data": ...}.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Client → server events.
const (
	EventStartSession = "start_session"
	EventAudioChunk   = "audio_chunk"
	EventEndSession   = "end_session"
)

// Server → client events. EventAudioChunk is shared by both directions.
const (
	EventStatus          = "status"
	EventError           = "error"
	EventInterrupt       = "interrupt"
	EventUserTranscript  = "user_transcript"
	EventModelTranscript = "model_transcript"
	EventTurnComplete    = "turn_complete"
	EventToolCall        = "tool_call"
	EventToolResponse    = "tool_response"
)

const (
	StatusSetupComplete    = "setup_complete"
	ReasonServerInterrupt  = "server_interrupt"
	TurnCompleteText       = "Model turn complete"
	ErrModelProcessing     = "gemini_processing_failed"
	ErrSessionFailed       = "session_failed"
	startTimeoutTextFormat = "Session timed out after %d seconds. Please reconnect."
)

// ClientMessage is an inbound frame. Data is kept raw until the event is known.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is an outbound frame.
type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ToolCallData is the payload of a tool_call event.
type ToolCallData struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResponseData is the payload of a tool_response event.
type ToolResponseData struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
	Result string         `json:"result"`
}

// InterruptData is the payload of an interrupt event.
type InterruptData struct {
	Reason string `json:"reason"`
}

// DecodeError reports a client frame that could not be understood.
type DecodeError struct {
	Code    string
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeClientMessage parses one inbound text frame.
func DecodeClientMessage(b []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return ClientMessage{}, &DecodeError{Code: "invalid_json", Message: "frame is not a JSON object", Err: err}
	}
	if strings.TrimSpace(m.Event) == "" {
		return ClientMessage{}, &DecodeError{Code: "missing_event", Message: "frame has no event"}
	}
	return m, nil
}

// DecodeAudio returns the PCM bytes carried by an audio_chunk frame. The data
// field must be a base64 string.
func DecodeAudio(m ClientMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(m.Data, &s); err != nil {
		return nil, &DecodeError{Code: "invalid_audio", Message: "audio data must be a base64 string", Err: err}
	}
	pcm, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Code: "invalid_audio", Message: "audio data is not valid base64", Err: err}
	}
	return pcm, nil
}

// Encode serializes a server message.
func Encode(m ServerMessage) ([]byte, error) {
	return json.Marshal(m)
}

// Status reports a session milestone such as setup complete.
func Status(s string) ServerMessage { return ServerMessage{Event: EventStatus, Data: s} }

// Error carries a human-readable failure text; the session may continue.
func Error(text string) ServerMessage { return ServerMessage{Event: EventError, Data: text} }

// StartTimeout is the error sent when no start_session arrives in time.
func StartTimeout(seconds int) ServerMessage {
	return Error(fmt.Sprintf(startTimeoutTextFormat, seconds))
}

// Interrupt tells the client to drop queued playback: the user barged in.
func Interrupt() ServerMessage {
	return ServerMessage{Event: EventInterrupt, Data: InterruptData{Reason: ReasonServerInterrupt}}
}

func UserTranscript(text string) ServerMessage {
	return ServerMessage{Event: EventUserTranscript, Data: text}
}

func ModelTranscript(text string) ServerMessage {
	return ServerMessage{Event: EventModelTranscript, Data: text}
}

// AudioChunk carries model audio (24 kHz PCM) base64 encoded.
func AudioChunk(pcm []byte) ServerMessage {
	return ServerMessage{Event: EventAudioChunk, Data: base64.StdEncoding.EncodeToString(pcm)}
}

// TurnComplete marks the end of a model turn with a fixed text payload.
func TurnComplete() ServerMessage {
	return ServerMessage{Event: EventTurnComplete, Data: TurnCompleteText}
}

func ToolCall(name string, args map[string]any) ServerMessage {
	return ServerMessage{Event: EventToolCall, Data: ToolCallData{Name: name, Args: args}}
}

// ToolResponse echoes the call arguments next to the tool output.
func ToolResponse(name string, args map[string]any, result string) ServerMessage {
	return ServerMessage{Event: EventToolResponse, Data: ToolResponseData{Name: name, Args: args, Result: result}}
}
