package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"studiodesk/internal/auth"
	"studiodesk/internal/chat"
	"studiodesk/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type messageHub interface {
	Register(connID string) *Outbox
	Unregister(connID string)
	Deliver(connID string, msg models.ServerMessage)
}

type presenceRegistry interface {
	Connect(connID, token string) (auth.Claims, bool)
	Login(connID, token string) (auth.Claims, bool)
	Logout(connID string)
	Disconnect(connID string)
	Seek(connID string)
}

// ChatSession is the chat state driven by one connection.
type ChatSession interface {
	Identity() string
	Open(id string) error
	Close(id string)
	Minimize(id string)
	Maximize(id string)
	Reorder(order []string) error
	SendMessage(ctx context.Context, id, content string) error
	MarkRead(ctx context.Context, id string) error
	Teardown() int
}

// SessionFactory starts a chat session for an authenticated identity.
type SessionFactory func(identity string, emit chat.Emitter) ChatSession

// Recorder receives connection statistics. It may be nil.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	SessionStarted()
	SessionEnded()
	FrameDropped()
}

type Connection struct {
	id         string
	token      string
	ws         wsConnection
	hub        messageHub
	registry   presenceRegistry
	sessions   SessionFactory
	recorder   Recorder
	log        *slog.Logger
	session    ChatSession
	fromClient chan models.ClientMessage
	fromServer *Outbox
	errorCh    chan error
}

func NewConnection(
	id string,
	token string,
	ws wsConnection,
	hub messageHub,
	registry presenceRegistry,
	sessions SessionFactory,
	recorder Recorder,
	logger *slog.Logger,
) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		id:         id,
		token:      token,
		ws:         ws,
		hub:        hub,
		registry:   registry,
		sessions:   sessions,
		recorder:   recorder,
		log:        logger.With("component", "connection", "conn_id", id),
		fromClient: make(chan models.ClientMessage),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.fromServer = c.hub.Register(c.id)
	if c.recorder != nil {
		c.recorder.ConnectionOpened()
	}
	defer func() {
		c.stopSession()
		c.registry.Disconnect(c.id)
		c.hub.Unregister(c.id)
		if c.recorder != nil {
			c.recorder.ConnectionClosed()
		}
	}()

	if claims, ok := c.registry.Connect(c.id, c.token); ok {
		c.startSession(claims.UserID)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.fromClient:
			c.processClientMessage(ctx, msg)
		case <-c.fromServer.Ready():
			frames, open := c.fromServer.Take()
			if !open {
				return nil
			}
			for _, msg := range frames {
				if err := c.ws.WriteJSON(msg); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientMessage(ctx context.Context, msg models.ClientMessage) {
	switch msg.Type {
	case models.ClientMessageTypeLogin:
		claims, ok := c.registry.Login(c.id, msg.Token)
		if !ok {
			return
		}
		if c.session == nil || c.session.Identity() != claims.UserID {
			c.stopSession()
			c.startSession(claims.UserID)
		}
		return
	case models.ClientMessageTypeLogout:
		c.registry.Logout(c.id)
		c.stopSession()
		return
	case models.ClientMessageTypeSeekOnlineUsers:
		c.registry.Seek(c.id)
		return
	}

	if c.session == nil {
		c.log.Debug("chat message on anonymous connection ignored", "type", msg.Type)
		return
	}

	var err error
	switch msg.Type {
	case models.ClientMessageTypeOpenChat:
		// Unknown threads are reported to the client by the session itself.
		if err := c.session.Open(msg.ChatID); err != nil && !errors.Is(err, chat.ErrChatNotFound) {
			c.log.Error("failed to open chat", "chat_id", msg.ChatID, "error", err)
		}
	case models.ClientMessageTypeCloseChat:
		c.session.Close(msg.ChatID)
	case models.ClientMessageTypeMinimizeChat:
		c.session.Minimize(msg.ChatID)
	case models.ClientMessageTypeMaximizeChat:
		c.session.Maximize(msg.ChatID)
	case models.ClientMessageTypeReorderChats:
		err = c.session.Reorder(msg.Order)
	case models.ClientMessageTypeSendMessage:
		err = c.session.SendMessage(ctx, msg.ChatID, msg.Content)
	case models.ClientMessageTypeReadChat:
		err = c.session.MarkRead(ctx, msg.ChatID)
	default:
		c.log.Debug("unknown message type", "type", msg.Type)
	}
	if err != nil {
		c.log.Warn("chat operation failed", "type", msg.Type, "chat_id", msg.ChatID, "error", err)
		c.hub.Deliver(c.id, models.ServerMessage{
			Type:   models.ServerMessageTypeNotice,
			Notice: err.Error(),
			Level:  "error",
		})
	}
}

func (c *Connection) startSession(identity string) {
	if c.sessions == nil {
		return
	}
	c.session = c.sessions(identity, func(msg models.ServerMessage) {
		c.hub.Deliver(c.id, msg)
	})
	if c.recorder != nil {
		c.recorder.SessionStarted()
	}
	c.log.Debug("chat session started", "user_id", identity)
}

func (c *Connection) stopSession() {
	if c.session == nil {
		return
	}
	released := c.session.Teardown()
	c.log.Debug("chat session stopped", "user_id", c.session.Identity(), "released", released)
	c.session = nil
	if c.recorder != nil {
		c.recorder.SessionEnded()
	}
}
