package voice

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gemini-live-lab/internal/logging"
	"github.com/gemini-live-lab/internal/protocol"
	"github.com/gemini-live-lab/llm"
)

var errClientLeft = errors.New("voice: client left before session start")

// process waits for start_session, opens the model stream, forwards client
// audio to it, and turns model events into client events. The outbound end
// marker is always queued on the way out.
func (c *Connection) process(ctx context.Context) error {
	defer c.outQ.Close()
	defer c.utter.Finalize()

	if err := c.awaitStart(ctx); err != nil {
		switch {
		case errors.Is(err, ErrStartTimeout):
			secs := int(math.Round(c.cfg.StartTimeout.Seconds()))
			logging.WarnwCtx(ctx, "processor: no start_session before timeout", "timeout_s", secs)
			c.setResult("timeout")
			c.enqueue(protocol.StartTimeout(secs))
		case errors.Is(err, errClientLeft):
			logging.InfowCtx(ctx, "processor: client left before start")
		default:
			logging.DebugwCtx(ctx, "processor: cancelled before start", "err", err)
		}
		return nil
	}

	stream, err := c.dialer.Dial(ctx, c.cfg.Session)
	if err != nil {
		c.fail(ctx, fmt.Errorf("dial: %w", err))
		return nil
	}
	defer stream.Close()
	logging.InfowCtx(ctx, "processor: model session open", "model", c.cfg.Session.Model)
	c.enqueue(protocol.Status(protocol.StatusSetupComplete))

	if err := stream.SendInitialTurn(c.cfg.Greeting); err != nil {
		c.fail(ctx, fmt.Errorf("initial turn: %w", err))
		return nil
	}

	// Session teardown closes the stream, which ends Recv.
	stopWatch := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stopWatch()

	pumpCtx, stopPump := context.WithCancel(ctx)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.pump(pumpCtx, stream)
	}()

	outcome := c.consume(ctx, stream)
	stopPump()
	<-pumpDone

	switch outcome.Kind {
	case llm.OutcomeClosed:
		logging.InfowCtx(ctx, "processor: model stream closed")
	case llm.OutcomeFailed:
		c.fail(ctx, outcome.Err)
	}
	return nil
}

// awaitStart also returns when the receiver exits first, so a client that
// sends end_session without ever starting does not hold the session open.
func (c *Connection) awaitStart(ctx context.Context) error {
	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-c.receiverDone:
			cancel(errClientLeft)
		case <-waitCtx.Done():
		}
	}()
	err := c.started.Wait(waitCtx, c.cfg.StartTimeout)
	if err == nil || c.started.IsSet() {
		return nil
	}
	if cause := context.Cause(waitCtx); errors.Is(cause, errClientLeft) {
		return errClientLeft
	}
	return err
}

// pump forwards queued client audio in order. At the end marker it tells the
// model the audio stream is over and closes the stream.
func (c *Connection) pump(ctx context.Context, s llm.Stream) {
	for {
		pcm, ok := c.audioQ.Pop(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			if err := s.EndAudio(); err != nil {
				logging.DebugwCtx(ctx, "processor: audio end not sent", "err", err)
			}
			// end_session ends the session now; replies still in flight are dropped.
			_ = s.Close()
			return
		}
		if err := s.SendAudio(pcm); err != nil {
			logging.WarnwCtx(ctx, "processor: audio forward failed", "err", err, "bytes", len(pcm))
			return
		}
	}
}

func (c *Connection) consume(ctx context.Context, s llm.Stream) llm.Outcome {
	for {
		ev, err := s.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return llm.Outcome{Kind: llm.OutcomeClosed}
			}
			return llm.Classify(err)
		}
		if err := c.dispatch(ctx, s, ev); err != nil {
			if ctx.Err() != nil {
				return llm.Outcome{Kind: llm.OutcomeClosed}
			}
			return llm.Classify(err)
		}
	}
}

func (c *Connection) dispatch(ctx context.Context, s llm.Stream, ev llm.Event) error {
	if u := ev.Usage; u != nil {
		logging.DebugwCtx(ctx, "processor: usage",
			"prompt_tokens", u.PromptTokens, "response_tokens", u.ResponseTokens, "total_tokens", u.TotalTokens)
		c.metrics.TokenUsage(u.PromptTokens, u.ResponseTokens)
	}
	switch ev.Kind {
	case llm.EventServerContent:
		if ev.Content != nil {
			c.handleContent(ctx, ev.Content)
		}
	case llm.EventToolCall:
		return c.handleToolCalls(ctx, s, ev.ToolCalls)
	case llm.EventUsage:
	case llm.EventSetupComplete:
		logging.DebugwCtx(ctx, "processor: model setup complete")
	case llm.EventGoAway:
		logging.WarnwCtx(ctx, "processor: model announced go away")
	default:
		logging.DebugwCtx(ctx, "processor: unhandled model event", "kind", ev.Kind.String())
	}
	return nil
}

func (c *Connection) handleContent(ctx context.Context, sc *llm.ServerContent) {
	if sc.Interrupted {
		c.utter.Finalize()
		c.state.To(StateInterrupted)
		c.enqueue(protocol.Interrupt())
	}
	if sc.InputTranscript != "" {
		c.enqueue(protocol.UserTranscript(sc.InputTranscript))
	}
	if sc.OutputTranscript != "" {
		c.enqueue(protocol.ModelTranscript(sc.OutputTranscript))
	}
	for _, pcm := range sc.Audio {
		c.state.To(StateStreaming)
		c.utter.Append(pcm)
		c.metrics.Audio("out", len(pcm))
		c.enqueue(protocol.AudioChunk(pcm))
	}
	if sc.TurnComplete {
		c.utter.Finalize()
		c.state.To(StateStreaming)
		c.enqueue(protocol.TurnComplete())
	}
}

// handleToolCalls runs every call in order, reporting each to the client,
// then answers the model with one batch.
func (c *Connection) handleToolCalls(ctx context.Context, s llm.Stream, calls []llm.FunctionCall) error {
	results := make([]llm.ToolResult, 0, len(calls))
	for _, fc := range calls {
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}
		c.enqueue(protocol.ToolCall(fc.Name, args))
		res := c.tools.Call(ctx, fc.Name, args)
		c.metrics.ToolCall(fc.Name, toolStatus(res.Failed))
		logging.InfowCtx(ctx, "processor: tool call", "tool", fc.Name, "failed", res.Failed)
		c.enqueue(protocol.ToolResponse(fc.Name, args, res.Output))
		results = append(results, llm.ToolResult{ID: fc.ID, Name: fc.Name, Output: res.Output, Failed: res.Failed})
	}
	if err := s.SendToolResults(results); err != nil {
		return fmt.Errorf("send tool results: %w", err)
	}
	return nil
}

func toolStatus(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

// fail reports a model failure: the pending utterance is kept and the client
// gets one error event.
func (c *Connection) fail(ctx context.Context, err error) {
	logging.ErrorwCtx(ctx, "processor: model stream failed", "err", err)
	c.utter.Finalize()
	c.setResult("model_failed")
	c.enqueue(protocol.Error(protocol.ErrModelProcessing))
}
