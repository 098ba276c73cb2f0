package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// Client is one socket plus its room binding. RoomID and PlayerID are
// written by the hub under its lock and are empty until the first
// successful create, join or resume.
type Client struct {
	ID           string
	ConnectionID string // audit row id, set on bind when the sink is enabled
	RoomID       string
	PlayerID     string

	Conn      *websocket.Conn
	Send      chan ServerMessage
	Hub       *Hub
	IP        string
	UserAgent string
}

// Identity reads the binding under the hub lock.
func (c *Client) Identity() (roomID, playerID string) {
	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	return c.RoomID, c.PlayerID
}

func (c *Client) setAuditID(id string) {
	c.Hub.mu.Lock()
	c.ConnectionID = id
	c.Hub.mu.Unlock()
}

func (c *Client) auditID() string {
	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	return c.ConnectionID
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(handle func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		handle(c, data)
	}
}
