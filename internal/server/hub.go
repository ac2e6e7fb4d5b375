package server

import (
	"sync"
)

// Hub tracks the live websocket connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsConn
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*wsConn)}
}

func (h *Hub) Register(c *wsConn) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) Unregister(c *wsConn) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll tells every client the server is going away.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	list := make([]*wsConn, 0, len(h.clients))
	for _, c := range h.clients {
		list = append(list, c)
	}
	h.mu.RUnlock()

	for _, c := range list {
		c.close()
	}
}
