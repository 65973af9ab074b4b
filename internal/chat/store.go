// Package chat implements the per-identity chat layer: thread discovery,
// opened windows and live message history.
package chat

import (
	"context"
	"errors"
	"log/slog"

	"studiodesk/internal/content"
	"studiodesk/internal/models"
	"studiodesk/internal/storage"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrInvalidOrder = errors.New("order is not a permutation of open chats")
)

// NoticeChatNotFound is shown when a window is opened for an unknown thread.
const NoticeChatNotFound = "Chat not found!"

// DocumentStore is the part of the document store the chat layer reads from.
type DocumentStore interface {
	Get(ctx context.Context, path string) (storage.Document, error)
	Subscribe(q storage.Query, onSnapshot func([]storage.Document), onError func(error)) storage.Unsubscribe
}

// resolveProfile looks up the display profile of a user. A failed or empty
// lookup yields nil and the message is shown without sender details.
func resolveProfile(ctx context.Context, store DocumentStore, log *slog.Logger, uid string) *models.Profile {
	if uid == "" {
		return nil
	}
	doc, err := store.Get(ctx, "users/"+uid)
	if err != nil {
		log.Warn("failed to resolve sender", "sender_id", uid, "error", err)
		return nil
	}
	return &models.Profile{
		ID:    uid,
		Name:  doc.String("name"),
		Photo: doc.String("photo"),
		Role:  models.Role(doc.String("role")),
	}
}

func toMessage(threadID string, doc storage.Document, sender *models.Profile) models.Message {
	body := doc.String("content")
	return models.Message{
		ID:       doc.ID,
		ThreadID: threadID,
		SenderID: doc.String("sendBy"),
		SendBy:   sender,
		Content:  body,
		HTML:     content.RenderMarkdown(body),
		SendAt:   doc.Time("sendAt"),
		Read:     doc.Bool("read"),
	}
}
