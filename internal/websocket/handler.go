package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the socket and starts its pumps. gin's ClientIP is
// proxy-aware (X-Forwarded-For).
func ServeWS(hub *Hub, d *Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		client := &Client{
			ID:        uuid.NewString(),
			Conn:      conn,
			Send:      make(chan ServerMessage, 32),
			Hub:       hub,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}

		hub.Register(client)

		go client.writePump()
		go client.readPump(d.Handle)
	}
}
