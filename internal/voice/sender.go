package voice

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gemini-live-lab/internal/logging"
	"github.com/gemini-live-lab/internal/protocol"
)

// send writes queued events to the client in order until the end marker.
// Write failures are logged and the loop carries on.
func (c *Connection) send(ctx context.Context) error {
	for {
		msg, ok := c.outQ.Pop(ctx)
		if !ok {
			return nil
		}
		if err := c.write(msg); err != nil {
			logging.WarnwCtx(ctx, "sender: write failed", append(logging.EventFields("out", msg.Event), "err", err)...)
			c.metrics.Outbound(msg.Event, false)
			continue
		}
		c.metrics.Outbound(msg.Event, true)
	}
}

func (c *Connection) write(msg protocol.ServerMessage) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}
