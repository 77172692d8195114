package websocket

import (
	"context"

	"github.com/coder/websocket"
)

// coderTransport adapts a coder/websocket connection to Transport.
type coderTransport struct {
	conn *websocket.Conn
}

// NewTransport wraps an accepted websocket connection.
func NewTransport(conn *websocket.Conn) Transport {
	return &coderTransport{conn: conn}
}

func (t *coderTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

// Ping requires a concurrent Read on the connection to observe the pong.
func (t *coderTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *coderTransport) Close(reason string) error {
	switch reason {
	case ReasonHeartbeatTimeout, ReasonWriteFailed:
		// The peer is unresponsive; skip the close handshake.
		return t.conn.CloseNow()
	case ReasonServerShutdown:
		return t.conn.Close(websocket.StatusGoingAway, reason)
	default:
		return t.conn.Close(websocket.StatusNormalClosure, reason)
	}
}
