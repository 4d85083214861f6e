package initiator

import (
	"context"
	"time"

	"proof-capture-app/internal/websocket"
)

// SessionChannel is a persistent connection scoped to one session.
type SessionChannel interface {
	// Receive blocks until the next message or a channel failure.
	Receive() ([]byte, error)
	// Close must be safe to call more than once.
	Close() error
}

// ChannelDialer opens a SessionChannel to address.
type ChannelDialer func(ctx context.Context, address string) (SessionChannel, error)

// DialWebSocket is the production ChannelDialer.
func DialWebSocket(ctx context.Context, address string) (SessionChannel, error) {
	conn, err := websocket.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ChannelState is the Initiator's view of its subscription.
type ChannelState int

const (
	ChannelIdle ChannelState = iota
	ChannelConnected
	ChannelReconnecting
	ChannelDisconnected
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelConnected:
		return "connected"
	case ChannelReconnecting:
		return "reconnecting"
	case ChannelDisconnected:
		return "disconnected"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReconnectPolicy is bounded exponential backoff. The zero value never
// reconnects: a dropped channel stays Disconnected.
type ReconnectPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int // 0 = unlimited
}

// Enabled reports whether the policy reconnects at all.
func (p ReconnectPolicy) Enabled() bool {
	return p.InitialBackoff > 0
}

// Delay is the wait before reconnect attempt n (0-based).
func (p ReconnectPolicy) Delay(n int) time.Duration {
	d := p.InitialBackoff
	for i := 0; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func (p ReconnectPolicy) exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
