package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SessionConn is the subscriber end of a session channel.
type SessionConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

// Dial opens a channel to a session-scoped address.
func Dial(ctx context.Context, address string) (*SessionConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &SessionConn{conn: conn}, nil
}

// Receive blocks until the next data frame arrives or the channel fails.
func (c *SessionConn) Receive() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a normal close frame and releases the connection. Calling it
// again is a no-op.
func (c *SessionConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

// IsNormalClose reports whether err is the peer closing the channel cleanly.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
