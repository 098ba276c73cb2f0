package websocket

import (
	"sync"

	"github.com/charmbracelet/log"
)

// Hub tracks every live socket and its room binding. All writes go
// through a single queue goroutine so that, per client, a broadcast
// enqueued before an ack is delivered before it.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connID -> client
	rooms   map[string]map[string]*Client // roomID -> connID -> client

	queue chan func()
	quit  chan struct{}

	logger *log.Logger

	// OnDisconnect runs on the queue goroutine after a socket is
	// dropped from the maps.
	OnDisconnect func(c *Client)
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		queue:   make(chan func(), 256),
		quit:    make(chan struct{}),
		logger:  logger,
	}
}

func (h *Hub) Run() {
	h.logger.Info("hub started")
	for {
		select {
		case fn := <-h.queue:
			fn()
		case <-h.quit:
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.Send)
			}
			h.clients = make(map[string]*Client)
			h.rooms = make(map[string]map[string]*Client)
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.logger.Debug("socket registered", "conn", c.ID, "total", len(h.clients))
	h.mu.Unlock()
}

// Bind attaches a socket to a room and player after a successful
// create, join or resume.
func (h *Hub) Bind(c *Client, roomID, playerID string) {
	h.mu.Lock()
	if c.RoomID != "" && c.RoomID != roomID {
		h.unbindLocked(c)
	}
	c.RoomID = roomID
	c.PlayerID = playerID
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][c.ID] = c
	h.mu.Unlock()
}

func (h *Hub) unbindLocked(c *Client) {
	if conns, ok := h.rooms[c.RoomID]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.rooms, c.RoomID)
		}
	}
}

// Unregister drops the socket. The Send channel is closed here, and
// every later broadcast consults the maps first, so nothing writes to
// a closed channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, known := h.clients[c.ID]
	if known {
		delete(h.clients, c.ID)
		h.unbindLocked(c)
		close(c.Send)
	}
	h.mu.Unlock()
	if known && h.OnDisconnect != nil {
		h.enqueue(func() { h.OnDisconnect(c) })
	}
}

// enqueue never blocks: callbacks running on the queue goroutine may
// themselves fan out, and a full queue must not deadlock them.
func (h *Hub) enqueue(fn func()) {
	select {
	case h.queue <- fn:
	default:
		h.logger.Warn("hub queue full, dropping operation")
	}
}

// DropRoom forgets every binding for a deleted room; sockets stay
// open and later commands against the dead room surface
// room_not_found.
func (h *Hub) DropRoom(roomID string) {
	h.mu.Lock()
	delete(h.rooms, roomID)
	h.mu.Unlock()
}

// PlayerConnCount counts live sockets bound to a player in a room.
func (h *Hub) PlayerConnCount(roomID, playerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.rooms[roomID] {
		if c.PlayerID == playerID {
			n++
		}
	}
	return n
}

// BroadcastRoom fans a message out to every socket bound to a room.
func (h *Hub) BroadcastRoom(roomID string, msg ServerMessage) {
	h.enqueue(func() {
		// Sending under the read lock keeps Unregister's close of the
		// Send channel from interleaving with a write to it.
		h.mu.RLock()
		for _, c := range h.rooms[roomID] {
			h.trySend(c, msg)
		}
		h.mu.RUnlock()
	})
}

// SendTo queues a message for one socket.
func (h *Hub) SendTo(c *Client, msg ServerMessage) {
	h.enqueue(func() {
		h.mu.RLock()
		if _, live := h.clients[c.ID]; live {
			h.trySend(c, msg)
		}
		h.mu.RUnlock()
	})
}

// SendToPlayer queues a message for every socket of one player.
func (h *Hub) SendToPlayer(roomID, playerID string, msg ServerMessage) {
	h.enqueue(func() {
		h.mu.RLock()
		for _, c := range h.rooms[roomID] {
			if c.PlayerID == playerID {
				h.trySend(c, msg)
			}
		}
		h.mu.RUnlock()
	})
}

// trySend drops the frame when the client's buffer is full; a stalled
// reader must not stall the room.
func (h *Hub) trySend(c *Client, msg ServerMessage) {
	select {
	case c.Send <- msg:
	default:
		h.logger.Warn("send buffer full, dropping frame", "conn", c.ID, "type", msg.Type)
	}
}

func (h *Hub) Close() {
	close(h.quit)
}
