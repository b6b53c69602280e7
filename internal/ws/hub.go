package ws

import (
	"sync"

	"go.uber.org/zap"
)

// Hub maintains active websocket connections and their room memberships.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]bool
	clients map[*Client]map[string]bool
	log     *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]bool),
		clients: make(map[*Client]map[string]bool),
		log:     log,
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = make(map[string]bool)
}

// Join adds the connection to a room.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	h.clients[c][room] = true
}

// Leave removes the connection from a room.
func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, c)
}

func (h *Hub) leaveLocked(room string, c *Client) {
	if conns, ok := h.rooms[room]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.clients[c]; ok {
		delete(rooms, room)
	}
}

// Remove drops the connection from the hub and every room it joined.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.clients[c] {
		h.leaveLocked(room, c)
	}
	delete(h.clients, c)
}

// Broadcast sends an event to every connection in the room, skipping except
// when set. Connections that fail to take the write are closed and removed.
func (h *Hub) Broadcast(room, event string, data any, except *Client) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != except {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	h.send(conns, event, data)
}

// BroadcastAll sends an event to every registered connection.
func (h *Hub) BroadcastAll(event string, data any) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	h.send(conns, event, data)
}

// ToUser sends an event to every connection in the user's own room.
func (h *Hub) ToUser(userID, event string, data any) {
	h.Broadcast(UserRoom(userID), event, data, nil)
}

func (h *Hub) send(conns []*Client, event string, data any) {
	for _, c := range conns {
		if err := c.Send(event, data); err != nil {
			h.log.Warn("websocket write failed",
				zap.String("event", event),
				zap.String("conn_id", c.ConnID),
				zap.Error(err))
			_ = c.Close()
			h.Remove(c)
		}
	}
}
