package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestConvertServerContent(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{1, 2}, MIMEType: "audio/pcm;rate=24000"}},
				{Text: "ignored"},
				nil,
				{InlineData: &genai.Blob{Data: []byte{3, 4}}},
			}},
			InputTranscription:  &genai.Transcription{Text: "hi"},
			OutputTranscription: &genai.Transcription{Text: "hello"},
			GenerationComplete:  true,
		},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 3, ResponseTokenCount: 4, TotalTokenCount: 7},
	}
	ev := ConvertMessage(msg)
	require.Equal(t, EventServerContent, ev.Kind)
	require.Equal(t, [][]byte{{1, 2}, {3, 4}}, ev.Content.Audio)
	require.Equal(t, "hi", ev.Content.InputTranscript)
	require.Equal(t, "hello", ev.Content.OutputTranscript)
	require.True(t, ev.Content.TurnComplete)
	require.False(t, ev.Content.Interrupted)
	require.Equal(t, &Usage{PromptTokens: 3, ResponseTokens: 4, TotalTokens: 7}, ev.Usage)
}

func TestConvertToolCallAndOthers(t *testing.T) {
	ev := ConvertMessage(&genai.LiveServerMessage{ToolCall: &genai.LiveServerToolCall{
		FunctionCalls: []*genai.FunctionCall{{ID: "1", Name: "cancel_meet_tool", Args: map[string]any{"meet_id": "a1"}}, nil},
	}})
	require.Equal(t, EventToolCall, ev.Kind)
	require.Equal(t, []FunctionCall{{ID: "1", Name: "cancel_meet_tool", Args: map[string]any{"meet_id": "a1"}}}, ev.ToolCalls)

	require.Equal(t, EventSetupComplete, ConvertMessage(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}).Kind)
	require.Equal(t, EventGoAway, ConvertMessage(&genai.LiveServerMessage{GoAway: &genai.LiveServerGoAway{}}).Kind)
	require.Equal(t, EventUsage, ConvertMessage(&genai.LiveServerMessage{UsageMetadata: &genai.UsageMetadata{TotalTokenCount: 1}}).Kind)
	require.Equal(t, EventOther, ConvertMessage(&genai.LiveServerMessage{}).Kind)
	require.Equal(t, EventOther, ConvertMessage(nil).Kind)
}

func TestLiveConfig(t *testing.T) {
	schema := &jsonschema.Schema{Type: "object"}
	lc := LiveConfig(SessionConfig{
		Model:        "m",
		Voice:        "Aoede",
		Language:     "hi-IN",
		SystemPrompt: "be brief",
		Tools:        []FunctionDeclaration{{Name: "t", Description: "d", Parameters: schema}},
	})
	require.Equal(t, []genai.Modality{genai.ModalityAudio}, lc.ResponseModalities)
	require.Equal(t, "Aoede", lc.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.Equal(t, "hi-IN", lc.SpeechConfig.LanguageCode)
	require.NotNil(t, lc.InputAudioTranscription)
	require.NotNil(t, lc.OutputAudioTranscription)
	require.Equal(t, "be brief", lc.SystemInstruction.Parts[0].Text)
	require.Len(t, lc.Tools, 1)
	require.Equal(t, "t", lc.Tools[0].FunctionDeclarations[0].Name)
	require.Same(t, schema, lc.Tools[0].FunctionDeclarations[0].ParametersJsonSchema)

	bare := LiveConfig(SessionConfig{Model: "m"})
	require.Nil(t, bare.SystemInstruction)
	require.Empty(t, bare.Tools)
}

func TestClassify(t *testing.T) {
	require.Equal(t, OutcomeClosed, Classify(nil).Kind)
	require.Equal(t, OutcomeClosed, Classify(fmt.Errorf("%w: eof", ErrStreamClosed)).Kind)
	out := Classify(errors.New("boom"))
	require.Equal(t, OutcomeFailed, out.Kind)
	require.EqualError(t, out.Err, "boom")
	require.Equal(t, "failed", out.Kind.String())
}

func TestWrapClassifiesCloseErrors(t *testing.T) {
	s := &geminiStream{}
	require.NoError(t, s.wrap(nil))
	normal := &websocket.CloseError{Code: websocket.CloseNormalClosure}
	require.ErrorIs(t, s.wrap(normal), ErrStreamClosed)
	abnormal := &websocket.CloseError{Code: websocket.CloseInternalServerErr}
	require.NotErrorIs(t, s.wrap(abnormal), ErrStreamClosed)

	s.closed.Store(true)
	require.ErrorIs(t, s.wrap(errors.New("read tcp: use of closed network connection")), ErrStreamClosed)
}

func TestNewGeminiDialerRequiresKey(t *testing.T) {
	_, err := NewGeminiDialer(context.Background(), "  ")
	require.ErrorIs(t, err, ErrMissingAPIKey)
}
