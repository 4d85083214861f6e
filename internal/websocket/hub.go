package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrHubStopped is returned by Emit once Run has returned.
var ErrHubStopped = errors.New("hub stopped")

// Client is one subscriber connected to a session channel
type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	SessionID string
}

// Hub fans notifications out to every subscriber of a session
type Hub struct {
	Clients    map[string]map[*Client]bool // sessionID -> clients
	Broadcast  chan *Envelope
	Register   chan *Client
	Unregister chan *Client
	Mu         sync.RWMutex

	logger *slog.Logger
	done   chan struct{}
}

// Envelope is one encoded notification addressed to a session
type Envelope struct {
	SessionID string
	Payload   []byte
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		Clients:    make(map[string]map[*Client]bool),
		Broadcast:  make(chan *Envelope, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Emit encodes v and queues it for every subscriber of sessionID.
// Queue order is delivery order.
func (h *Hub) Emit(sessionID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	// Broadcast is buffered, so a stopped hub must be ruled out first.
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.Broadcast <- &Envelope{SessionID: sessionID, Payload: payload}:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Subscribers returns the number of open connections for a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.Mu.RLock()
	defer h.Mu.RUnlock()
	return len(h.Clients[sessionID])
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}
