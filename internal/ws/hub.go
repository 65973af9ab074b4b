package ws

import (
	"log/slog"
	"sync"

	"studiodesk/internal/models"
)

// Hub routes server frames to live connections by connection id.
// Sends never block: snapshot frames coalesce in the connection's outbox and
// other frames are dropped once it holds outboundBuffer frames.
type Hub struct {
	log      *slog.Logger
	recorder Recorder

	mu    sync.RWMutex
	conns map[string]*Outbox
}

func NewHub(recorder Recorder, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:      logger.With("component", "hub"),
		recorder: recorder,
		conns:    make(map[string]*Outbox),
	}
}

// Register creates the outbound queue of a connection.
func (h *Hub) Register(connID string) *Outbox {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := newOutbox()
	h.conns[connID] = out
	return out
}

func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if out, ok := h.conns[connID]; ok {
		out.close()
		delete(h.conns, connID)
	}
}

// Deliver queues msg for one connection.
func (h *Hub) Deliver(connID string, msg models.ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if out, ok := h.conns[connID]; ok {
		h.enqueue(connID, out, msg)
	}
}

// Send delivers the online set to one connection.
func (h *Hub) Send(connID string, users []string) {
	h.Deliver(connID, onlineUsers(users))
}

// Broadcast delivers the online set to every connection.
func (h *Hub) Broadcast(users []string) {
	msg := onlineUsers(users)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID, out := range h.conns {
		h.enqueue(connID, out, msg)
	}
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) enqueue(connID string, out *Outbox, msg models.ServerMessage) {
	if out.Push(msg) {
		return
	}
	h.log.Warn("outbound queue full, dropping frame", "conn_id", connID, "type", msg.Type)
	if h.recorder != nil {
		h.recorder.FrameDropped()
	}
}

func onlineUsers(users []string) models.ServerMessage {
	return models.ServerMessage{Type: models.ServerMessageTypeOnlineUsers, Users: users}
}
