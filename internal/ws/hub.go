package ws

import (
	"sync"

	"github.com/legalario/txn-service/internal/notify"
	"go.uber.org/zap"
)

// Conn is a live duplex client connection as the hub sees it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Hub owns the set of live connections. All access to the set goes
// through Register/Unregister/Broadcast; nothing else touches it.
type Hub struct {
	mu    sync.Mutex
	conns map[Conn]struct{}
	log   *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{conns: make(map[Conn]struct{}), log: logger}
}

// Register starts tracking a connection.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.log.Infof("ws connected, total=%d", n)
}

// Unregister stops tracking a connection. Safe to call for a connection
// that was already removed.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()
	h.log.Infof("ws disconnected, total=%d", n)
}

// Len reports the current connection count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast delivers evt to every tracked connection. A send failure on
// one connection never blocks the rest; failed connections are pruned
// after the pass. Broadcast is driven by the single bus-subscriber
// goroutine, so each connection sees events in bus order.
func (h *Hub) Broadcast(evt notify.Event) {
	h.mu.Lock()
	targets := make([]Conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	var dead []Conn
	for _, c := range targets {
		if err := c.WriteJSON(evt); err != nil {
			h.log.Warnf("ws send failed: %v", err)
			dead = append(dead, c)
			continue
		}
	}

	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range dead {
		delete(h.conns, c)
	}
	n := len(h.conns)
	h.mu.Unlock()
	for _, c := range dead {
		_ = c.Close()
	}
	h.log.Infof("ws pruned %d dead connections, total=%d", len(dead), n)
}
