package models

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// APIResponse is the body of plain success or error replies.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Profile is the display identity of a user, resolved from users/<id>.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Photo string `json:"photo"`
	Role  Role   `json:"role,omitempty"`
}

type RequestKind string

const (
	RequestKindDesign     RequestKind = "design"
	RequestKindProduction RequestKind = "production"
)

// Collection returns the document collection holding records of this kind.
func (k RequestKind) Collection() string {
	return string(k) + "s"
}

func (k RequestKind) Valid() bool {
	return k == RequestKindDesign || k == RequestKindProduction
}

// DisplayField is the record field holding the human readable title.
func (k RequestKind) DisplayField() string {
	if k == RequestKindProduction {
		return "title"
	}
	return "name"
}

func KindFromCollection(collection string) (RequestKind, bool) {
	kind := RequestKind(strings.TrimSuffix(collection, "s"))
	return kind, kind.Valid() && kind.Collection() == collection
}

// MessagesCollection is the collection holding the chat messages of one record.
func MessagesCollection(collection, id string) string {
	return collection + "/" + id + "/chats"
}

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusComplete RequestStatus = "complete"
	RequestStatusFinished RequestStatus = "finished"
)

// Request is a design or production business record. Chat threads are anchored to it.
type Request struct {
	ID          string        `json:"id"`
	Kind        RequestKind   `json:"type"`
	Name        string        `json:"name"`
	Status      RequestStatus `json:"status"`
	CreatedBy   string        `json:"createdBy"`
	ExecutedBy  string        `json:"executedBy,omitempty"`
	Description string        `json:"description,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt,omitempty"`
}

// HasParticipant reports whether uid created or executes the request.
func (r Request) HasParticipant(uid string) bool {
	return uid != "" && (uid == r.CreatedBy || uid == r.ExecutedBy)
}

// Message represents a chat message.
type Message struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"chatId"`
	SenderID string    `json:"senderId"`
	SendBy   *Profile  `json:"sendBy,omitempty"` // nil when the sender could not be resolved
	Content  string    `json:"content"`
	HTML     string    `json:"html,omitempty"`
	SendAt   time.Time `json:"sendAt"`
	Read     bool      `json:"read"`
}

// Thread is a conversation anchored 1:1 to a request record.
type Thread struct {
	ID           string   `json:"id"`
	Collection   string   `json:"collection"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
}

// LastActivity is the sort key of the thread list. Threads without messages return zero time.
func (t Thread) LastActivity() time.Time {
	if t.LastMessage == nil {
		return time.Time{}
	}
	return t.LastMessage.SendAt
}

// Unread reports whether the thread should carry an unread badge.
func (t Thread) Unread() bool {
	return t.LastMessage != nil && !t.LastMessage.Read
}

// ChatWindow is a rendered opened-window entry.
type ChatWindow struct {
	Chat   Thread `json:"chat"`
	Expand bool   `json:"expand"`
}

// ClientMessage represents a message sent from the client to the server.
type ClientMessage struct {
	Type    ClientMessageType `json:"type"`
	Token   string            `json:"token,omitempty"`
	ChatID  string            `json:"chatId,omitempty"`
	Content string            `json:"content,omitempty"`
	Order   []string          `json:"order,omitempty"`
}

// ServerMessage represents a message to the client.
// List fields are omitted when empty; clients treat a missing list as empty.
type ServerMessage struct {
	Type           ServerMessageType `json:"type"`
	Users          []string          `json:"users,omitempty"`
	Chats          []Thread          `json:"chats,omitempty"`
	Windows        []ChatWindow      `json:"windows,omitempty"`
	ChatID         string            `json:"chatId,omitempty"`
	Messages       []Message         `json:"messages,omitempty"`
	ScrollToBottom bool              `json:"scrollToBottom,omitempty"`
	Notice         string            `json:"notice,omitempty"`
	Level          string            `json:"level,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeLogin           ClientMessageType = "login"
	ClientMessageTypeLogout          ClientMessageType = "logout"
	ClientMessageTypeSeekOnlineUsers ClientMessageType = "seek-online-users"
	ClientMessageTypeOpenChat        ClientMessageType = "open-chat"
	ClientMessageTypeCloseChat       ClientMessageType = "close-chat"
	ClientMessageTypeMinimizeChat    ClientMessageType = "minimize-chat"
	ClientMessageTypeMaximizeChat    ClientMessageType = "maximize-chat"
	ClientMessageTypeReorderChats    ClientMessageType = "reorder-chats"
	ClientMessageTypeSendMessage     ClientMessageType = "send-message"
	ClientMessageTypeReadChat        ClientMessageType = "read-chat"
)

type ServerMessageType string

const (
	ServerMessageTypeOnlineUsers ServerMessageType = "online-users"
	ServerMessageTypeChats       ServerMessageType = "chats"
	ServerMessageTypeWindows     ServerMessageType = "windows"
	ServerMessageTypeMessages    ServerMessageType = "messages"
	ServerMessageTypeNotice      ServerMessageType = "notice"
)
