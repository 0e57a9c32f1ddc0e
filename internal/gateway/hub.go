package gateway

import "sync"

// Hub tracks the clients whose streaming session is live so they can be
// counted for /health and closed on shutdown. A client leaves the hub when
// its session terminates or its connection drops, whichever comes first.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// AddClient registers a connected client.
func (h *Hub) AddClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// RemoveClient forgets c. Removing an unknown client is a no-op.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Len returns the number of live streaming clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll asks every client to close. Each client's read pump then tears its
// session down and removes itself.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}
