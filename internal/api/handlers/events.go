package handlers

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/deskflow/deskflow-engine/internal/models"
)

// Hub fans lifecycle transitions out to connected widgets. Slow or dead
// connections are dropped rather than allowed to block the broadcast.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]chan models.Transition
	log   *logrus.Logger
}

// NewHub creates an event hub
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		conns: make(map[*websocket.Conn]chan models.Transition),
		log:   log,
	}
}

// Broadcast queues a transition for every connected widget. Installed
// as the orchestrator's notify hook, so it must never block.
func (h *Hub) Broadcast(t models.Transition) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, ch := range h.conns {
		select {
		case ch <- t:
		default:
			h.log.Warn("dropping slow event subscriber")
			close(ch)
			delete(h.conns, conn)
		}
	}
}

// Serve handles one websocket subscriber until it disconnects
func (h *Hub) Serve(c *websocket.Conn) {
	events := make(chan models.Transition, 16)

	h.mu.Lock()
	h.conns[c] = events
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if ch, ok := h.conns[c]; ok {
			close(ch)
			delete(h.conns, c)
		}
		h.mu.Unlock()
		_ = c.Close()
	}()

	// Reader goroutine notices the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case t, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(t); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
