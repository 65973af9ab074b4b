package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"studiodesk/internal/models"
)

// MessageSender writes to threads on behalf of a session.
type MessageSender interface {
	SendMessage(ctx context.Context, kind models.RequestKind, id, senderID, content string) (models.Message, error)
	MarkRead(ctx context.Context, kind models.RequestKind, id, readerID string) (int, error)
}

// Emitter delivers rendered state to the session's client. It must not block.
type Emitter func(models.ServerMessage)

type SessionConfig struct {
	Identity string
	Kinds    []models.RequestKind
	Store    DocumentStore
	Sender   MessageSender
	Emit     Emitter
	Logger   *slog.Logger
}

// Session is the chat state of one authenticated connection: discovered
// threads, opened windows and one message stream per open window.
type Session struct {
	identity string
	store    DocumentStore
	sender   MessageSender
	emit     Emitter
	log      *slog.Logger

	// streamLog carries the identity only; streams add their own component.
	streamLog *slog.Logger

	aggregator *Aggregator
	windows    *WindowManager

	mu      sync.Mutex
	streams map[string]*MessageStream
	closed  bool
}

func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		identity:  cfg.Identity,
		store:     cfg.Store,
		sender:    cfg.Sender,
		emit:      cfg.Emit,
		log:       logger.With("component", "chat-session", "user_id", cfg.Identity),
		streamLog: logger.With("user_id", cfg.Identity),
		streams:   make(map[string]*MessageStream),
	}
	s.aggregator = NewAggregator(cfg.Store, cfg.Identity, cfg.Kinds, s.onThreads, logger)
	s.windows = NewWindowManager(s.aggregator, s.notice)
	s.aggregator.Start()
	return s
}

func (s *Session) Identity() string {
	return s.identity
}

func (s *Session) onThreads(threads []models.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.emit(models.ServerMessage{Type: models.ServerMessageTypeChats, Chats: threads})
	s.emitWindowsLocked()
}

func (s *Session) onMessages(threadID string, messages []models.Message) {
	s.emit(models.ServerMessage{
		Type:           models.ServerMessageTypeMessages,
		ChatID:         threadID,
		Messages:       messages,
		ScrollToBottom: true,
	})
}

func (s *Session) notice(text string) {
	s.emit(models.ServerMessage{Type: models.ServerMessageTypeNotice, Notice: text, Level: "error"})
}

func (s *Session) emitWindowsLocked() {
	s.emit(models.ServerMessage{Type: models.ServerMessageTypeWindows, Windows: s.windows.Windows()})
}

// Open opens (or reactivates) the window of a discovered thread.
func (s *Session) Open(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrChatNotFound
	}

	created, err := s.windows.Open(id)
	if err != nil {
		return err
	}
	s.emitWindowsLocked()
	if created {
		s.startStreamLocked(id)
	}
	return nil
}

func (s *Session) startStreamLocked(id string) {
	thread, ok := s.windows.Thread(id)
	if !ok {
		return
	}
	if old, ok := s.streams[id]; ok {
		old.Close()
	}
	s.streams[id] = NewMessageStream(s.store, thread, s.onMessages, s.streamLog)
}

// Close closes the window and stops its message stream.
func (s *Session) Close(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.windows.Close(id) {
		return
	}
	if stream, ok := s.streams[id]; ok {
		stream.Close()
		delete(s.streams, id)
	}
	s.emitWindowsLocked()
}

func (s *Session) Minimize(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.windows.Minimize(id) {
		s.emitWindowsLocked()
	}
}

func (s *Session) Maximize(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.windows.Maximize(id) {
		s.emitWindowsLocked()
	}
}

func (s *Session) Reorder(order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.windows.Reorder(order); err != nil {
		return err
	}
	s.emitWindowsLocked()
	return nil
}

// SendMessage appends a message to a thread the session knows. The new
// message reaches the client through the thread's live queries.
func (s *Session) SendMessage(ctx context.Context, id, content string) error {
	kind, err := s.kindOf(id)
	if err != nil {
		return err
	}
	if _, err := s.sender.SendMessage(ctx, kind, id, s.identity, content); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", id, err)
	}
	return nil
}

// MarkRead marks the messages of other participants in a thread as read.
func (s *Session) MarkRead(ctx context.Context, id string) error {
	kind, err := s.kindOf(id)
	if err != nil {
		return err
	}
	if _, err := s.sender.MarkRead(ctx, kind, id, s.identity); err != nil {
		return fmt.Errorf("failed to mark %s read: %w", id, err)
	}
	return nil
}

func (s *Session) kindOf(id string) (models.RequestKind, error) {
	thread, ok := s.aggregator.Lookup(id)
	if !ok {
		thread, ok = s.windows.Thread(id)
	}
	if !ok {
		return "", ErrChatNotFound
	}
	kind, ok := models.KindFromCollection(thread.Collection)
	if !ok {
		return "", fmt.Errorf("unknown collection %q: %w", thread.Collection, ErrChatNotFound)
	}
	return kind, nil
}

func (s *Session) Threads() []models.Thread {
	return s.aggregator.Threads()
}

func (s *Session) Windows() []models.ChatWindow {
	return s.windows.Windows()
}

// Messages returns the current history of an open window.
func (s *Session) Messages(id string) ([]models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.streams[id]
	if !ok {
		return nil, false
	}
	return stream.Messages(), true
}

// Teardown stops every stream and discovery subscription. It returns the
// number of subscriptions released.
func (s *Session) Teardown() int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.closed = true
	streams := s.streams
	s.streams = make(map[string]*MessageStream)
	s.mu.Unlock()

	for _, stream := range streams {
		stream.Close()
	}
	return len(streams) + s.aggregator.Close()
}
