package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

// InputAudioMIME is the format of client audio forwarded to the model.
const InputAudioMIME = "audio/pcm;rate=16000"

// ErrMissingAPIKey is returned when no Gemini key is configured.
var ErrMissingAPIKey = errors.New("llm: GEMINI_API_KEY is not set")

// GeminiDialer opens Gemini Live sessions.
type GeminiDialer struct {
	client *genai.Client
}

// NewGeminiDialer builds a Gemini API client for apiKey.
func NewGeminiDialer(ctx context.Context, apiKey string) (*GeminiDialer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("llm: new client: %w", err)
	}
	return &GeminiDialer{client: c}, nil
}

// Dial connects a live session configured for audio in and audio out with
// transcription of both directions.
func (d *GeminiDialer) Dial(ctx context.Context, cfg SessionConfig) (Stream, error) {
	sess, err := d.client.Live.Connect(ctx, cfg.Model, LiveConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("llm: connect %s: %w", cfg.Model, err)
	}
	return &geminiStream{sess: sess}, nil
}

// LiveConfig translates a SessionConfig into the genai connect config.
func LiveConfig(cfg SessionConfig) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			LanguageCode: cfg.Language,
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.SystemPrompt != "" {
		lc.SystemInstruction = genai.NewContentFromText(cfg.SystemPrompt, genai.RoleUser)
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			fd := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
			if t.Parameters != nil {
				fd.ParametersJsonSchema = t.Parameters
			}
			decls = append(decls, fd)
		}
		lc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return lc
}

// geminiStream serializes writes because the underlying websocket supports
// one concurrent writer; Recv runs on its own goroutine.
type geminiStream struct {
	sess    *genai.Session
	writeMu sync.Mutex
	closed  atomic.Bool
}

func (s *geminiStream) SendInitialTurn(text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.wrap(s.sess.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		TurnComplete: genai.Ptr(true),
	}))
}

func (s *geminiStream) SendAudio(pcm []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.wrap(s.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: InputAudioMIME},
	}))
}

func (s *geminiStream) EndAudio() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.wrap(s.sess.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true}))
}

func (s *geminiStream) SendToolResults(results []ToolResult) error {
	if len(results) == 0 {
		return nil
	}
	resps := make([]*genai.FunctionResponse, 0, len(results))
	for _, r := range results {
		key := "output"
		if r.Failed {
			key = "error"
		}
		resps = append(resps, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{key: r.Output},
		})
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.wrap(s.sess.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: resps}))
}

func (s *geminiStream) Recv() (Event, error) {
	msg, err := s.sess.Receive()
	if err != nil {
		return Event{}, s.wrap(err)
	}
	return ConvertMessage(msg), nil
}

func (s *geminiStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.sess.Close()
}

// wrap maps transport errors seen after a local Close, or a normal close from
// the peer, onto ErrStreamClosed.
func (s *geminiStream) wrap(err error) error {
	if err == nil {
		return nil
	}
	if s.closed.Load() || isCleanClose(err) {
		return fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	return err
}

func isCleanClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

// ConvertMessage flattens a genai server message into an Event.
func ConvertMessage(msg *genai.LiveServerMessage) Event {
	var ev Event
	if msg == nil {
		return ev
	}
	if u := msg.UsageMetadata; u != nil {
		ev.Usage = &Usage{
			PromptTokens:   int(u.PromptTokenCount),
			ResponseTokens: int(u.ResponseTokenCount),
			TotalTokens:    int(u.TotalTokenCount),
		}
	}
	switch {
	case msg.ToolCall != nil:
		ev.Kind = EventToolCall
		for _, fc := range msg.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			ev.ToolCalls = append(ev.ToolCalls, FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	case msg.ServerContent != nil:
		ev.Kind = EventServerContent
		ev.Content = convertContent(msg.ServerContent)
	case msg.SetupComplete != nil:
		ev.Kind = EventSetupComplete
	case msg.GoAway != nil:
		ev.Kind = EventGoAway
	case ev.Usage != nil:
		ev.Kind = EventUsage
	}
	return ev
}

func convertContent(sc *genai.LiveServerContent) *ServerContent {
	c := &ServerContent{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete || sc.GenerationComplete,
	}
	if sc.InputTranscription != nil {
		c.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		c.OutputTranscript = sc.OutputTranscription.Text
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				c.Audio = append(c.Audio, p.InlineData.Data)
			}
		}
	}
	return c
}
