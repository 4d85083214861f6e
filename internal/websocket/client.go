package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the pairing page and the broker live on different origins
	},
}

// Run starts the hub's message processing loop. It returns when ctx is done,
// closing every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.Mu.Lock()
		for id, clients := range h.Clients {
			for client := range clients {
				close(client.Send)
			}
			delete(h.Clients, id)
		}
		h.Mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.Mu.Lock()
			if h.Clients[client.SessionID] == nil {
				h.Clients[client.SessionID] = make(map[*Client]bool)
			}
			h.Clients[client.SessionID][client] = true
			h.Mu.Unlock()
			h.logger.Info("proof channel subscribed", "session", client.SessionID)

		case client := <-h.Unregister:
			h.remove(client)

		case env := <-h.Broadcast:
			h.Mu.Lock()
			for client := range h.Clients[env.SessionID] {
				select {
				case client.Send <- env.Payload:
				default:
					h.logger.Warn("dropping slow proof subscriber", "session", env.SessionID)
					h.removeLocked(client)
				}
			}
			h.Mu.Unlock()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.Clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.Clients, client.SessionID)
	}
	h.logger.Info("proof channel unsubscribed", "session", client.SessionID)
}

// ServeWS upgrades the request and subscribes the connection to sessionID.
func ServeWS(h *Hub, w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "session", sessionID, "err", err)
		return
	}

	client := &Client{
		Hub:       h,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		SessionID: sessionID,
	}
	if !h.register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	client.ReadPump()
}

// ReadPump drains the connection so pongs and close frames are processed.
// Subscribers never send data the broker acts on.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			// Only log if it's not a normal close
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.Hub.logger.Warn("proof channel read error", "session", c.SessionID, "err", err)
			}
			return
		}
	}
}

// WritePump writes queued notifications, one per frame, and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
