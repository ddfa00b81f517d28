package http

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"vn.io.arda/cropalert/internal/domain"
)

// Client represents a connected SSE client.
type Client struct {
	sessionID uuid.UUID
	send      chan []byte
}

// Hub manages all active SSE client connections.
// Single-instance model: all broadcast is in-process.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*Client // session -> clients (one per open tab)
}

// NewHub creates a new SSE Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[uuid.UUID][]*Client),
	}
}

// Register adds a new SSE client.
func (h *Hub) Register(sessionID uuid.UUID, send chan []byte) *Client {
	c := &Client{sessionID: sessionID, send: send}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[sessionID] = append(h.clients[sessionID], c)

	log.Debug().Str("session", sessionID.String()).Msg("SSE client connected")
	return c
}

// Unregister removes an SSE client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[c.sessionID]
	updated := make([]*Client, 0, len(clients))
	for _, existing := range clients {
		if existing != c {
			updated = append(updated, existing)
		}
	}

	if len(updated) == 0 {
		delete(h.clients, c.sessionID)
	} else {
		h.clients[c.sessionID] = updated
	}

	log.Debug().Str("session", c.sessionID.String()).Msg("SSE client disconnected")
}

// Disconnect closes every stream of a session. Called on sign-out.
func (h *Hub) Disconnect(sessionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients[sessionID] {
		close(c.send)
	}
	delete(h.clients, sessionID)
}

// Broadcast sends a toast to all connected SSE clients of a session.
// This satisfies the application.ToastHub interface.
func (h *Hub) Broadcast(sessionID uuid.UUID, t *domain.Toast) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.clients[sessionID]
	if len(clients) == 0 {
		return
	}

	msg := buildSSEMessage("toast", t)

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// Client is slow/disconnected, skip
			log.Warn().Str("session", sessionID.String()).Msg("SSE client send buffer full, skipping")
		}
	}
}

// ConnectedCount returns the total number of connected SSE clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

// buildSSEMessage formats v as an SSE frame of the given event type.
func buildSSEMessage(event string, v any) []byte {
	b, _ := json.Marshal(v)
	return []byte("event: " + event + "\ndata: " + string(b) + "\n\n")
}
