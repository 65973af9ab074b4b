package ws

import (
	"sync"

	"studiodesk/internal/models"
)

const outboundBuffer = 100

// Outbox is the outbound queue of one connection. Snapshot frames (online
// users, chats, windows, and the messages of one chat) supersede a queued
// frame of the same kind, so the limit only binds frames that are not
// snapshots.
type Outbox struct {
	mu     sync.Mutex
	frames []models.ServerMessage
	ready  chan struct{}
	closed bool
}

func newOutbox() *Outbox {
	return &Outbox{ready: make(chan struct{}, 1)}
}

// Ready is signalled whenever frames are queued or the outbox is closed.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Push queues msg. It reports false when the frame was dropped.
func (o *Outbox) Push(msg models.ServerMessage) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return true
	}
	if key, ok := snapshotKey(msg); ok {
		for i, queued := range o.frames {
			if k, ok := snapshotKey(queued); ok && k == key {
				// Superseded; the new frame goes last so the latest state arrives last.
				o.frames = append(o.frames[:i], o.frames[i+1:]...)
				break
			}
		}
	}
	if len(o.frames) >= outboundBuffer {
		return false
	}
	o.frames = append(o.frames, msg)
	o.signal()
	return true
}

// Take returns the queued frames in order. It reports false once the outbox
// is closed.
func (o *Outbox) Take() ([]models.ServerMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, false
	}
	frames := o.frames
	o.frames = nil
	return frames, true
}

func (o *Outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	o.frames = nil
	o.signal()
}

func (o *Outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

type frameKey struct {
	kind   models.ServerMessageType
	chatID string
}

func snapshotKey(msg models.ServerMessage) (frameKey, bool) {
	switch msg.Type {
	case models.ServerMessageTypeOnlineUsers, models.ServerMessageTypeChats, models.ServerMessageTypeWindows:
		return frameKey{kind: msg.Type}, true
	case models.ServerMessageTypeMessages:
		return frameKey{kind: msg.Type, chatID: msg.ChatID}, true
	}
	return frameKey{}, false
}
