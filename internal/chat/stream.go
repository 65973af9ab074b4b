package chat

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"studiodesk/internal/models"
	"studiodesk/internal/storage"
)

// MessageStream keeps the live, sender-resolved history of one thread.
// Every snapshot replaces the whole history.
type MessageStream struct {
	thread   models.Thread
	store    DocumentStore
	log      *slog.Logger
	onChange func(threadID string, messages []models.Message)

	mu       sync.Mutex
	messages []models.Message
	closed   bool
	unsub    storage.Unsubscribe
}

// NewMessageStream subscribes to the messages of thread. onChange is called
// with the full ordered history after every snapshot and never after Close returns.
func NewMessageStream(store DocumentStore, thread models.Thread, onChange func(string, []models.Message), logger *slog.Logger) *MessageStream {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MessageStream{
		thread:   thread,
		store:    store,
		log:      logger.With("component", "message-stream", "chat_id", thread.ID),
		onChange: onChange,
	}

	q := storage.Query{
		Collection: models.MessagesCollection(thread.Collection, thread.ID),
		OrderBy:    "sendAt",
	}
	unsub := store.Subscribe(q, s.onSnapshot, s.onError)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		unsub()
		return s
	}
	s.unsub = unsub
	return s
}

func (s *MessageStream) onSnapshot(docs []storage.Document) {
	messages := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		// No caching: each message resolves its own sender.
		sender := resolveProfile(context.Background(), s.store, s.log, doc.String("sendBy"))
		messages = append(messages, toMessage(s.thread.ID, doc, sender))
	}
	slices.SortStableFunc(messages, func(a, b models.Message) int {
		return a.SendAt.Compare(b.SendAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.messages = messages
	if s.onChange != nil {
		s.onChange(s.thread.ID, slices.Clone(messages))
	}
}

func (s *MessageStream) onError(err error) {
	// Keep showing the last known history.
	s.log.Error("message subscription failed", "error", err)
}

// Messages returns the current history in ascending send order.
func (s *MessageStream) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Close cancels the subscription. It is safe to call more than once.
func (s *MessageStream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
