package voice

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gemini-live-lab/internal/logging"
	"github.com/gemini-live-lab/internal/protocol"
)

// receive reads client frames until end_session, a transport error, or ctx
// cancellation. The audio end marker is always queued on the way out.
func (c *Connection) receive(ctx context.Context) error {
	defer close(c.receiverDone)
	defer c.audioQ.Close()

	if c.cfg.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	// A past deadline makes the pending ReadMessage return.
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				logging.DebugwCtx(ctx, "receiver: stopped")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				logging.InfowCtx(ctx, "receiver: client closed connection")
			default:
				logging.WarnwCtx(ctx, "receiver: read failed", "err", err)
			}
			return nil
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			logging.WarnwCtx(ctx, "receiver: dropping malformed frame", "err", err, "bytes", len(data))
			continue
		}
		switch msg.Event {
		case protocol.EventStartSession:
			if c.started.IsSet() {
				logging.DebugwCtx(ctx, "receiver: duplicate start_session ignored")
				continue
			}
			c.state.To(StateStreaming)
			c.started.Set()
			logging.InfowCtx(ctx, "receiver: session started")
		case protocol.EventAudioChunk:
			pcm, err := protocol.DecodeAudio(msg)
			if err != nil {
				logging.WarnwCtx(ctx, "receiver: dropping audio chunk", "err", err)
				continue
			}
			c.appendUser(pcm)
			c.metrics.Audio("in", len(pcm))
			c.audioQ.Push(pcm)
		case protocol.EventEndSession:
			logging.InfowCtx(ctx, "receiver: end_session")
			return nil
		default:
			logging.WarnwCtx(ctx, "receiver: unknown event", logging.EventFields("in", msg.Event)...)
		}
	}
}
