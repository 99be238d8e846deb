package api

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

const clientBuffer = 32

// Hub fans change frames out to the connections of each user.
type Hub struct {
	logger *log.Logger

	mu      sync.RWMutex
	clients map[string]map[chan []byte]struct{}
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{logger: logger, clients: make(map[string]map[chan []byte]struct{})}
}

// Add registers a new connection for userID and returns its frame channel.
func (h *Hub) Add(userID string) chan []byte {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[chan []byte]struct{})
		h.clients[userID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Remove(userID string, ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[userID]
	delete(set, ch)
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

// Broadcast delivers data to every connection of userID. A connection whose
// buffer is full misses the frame.
func (h *Hub) Broadcast(userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients[userID] {
		select {
		case ch <- data:
		default:
			h.logger.WithField("userId", userID).Warn("client buffer full, dropping frame")
		}
	}
}

// Connections returns the number of open connections for userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
