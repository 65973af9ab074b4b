// Package requests manages design and production records, the business
// objects chat threads are anchored to.
package requests

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"studiodesk/internal/content"
	"studiodesk/internal/filestore"
	"studiodesk/internal/models"
	"studiodesk/internal/storage"
)

var (
	ErrPending        = errors.New("request is still pending")
	ErrNotParticipant = errors.New("not a participant of this request")
	ErrInvalidStatus  = errors.New("invalid status transition")
	ErrInvalidKind    = errors.New("invalid request kind")
	ErrNotImage       = errors.New("completion must be an image")
	ErrRevisionLimit  = errors.New("revision limit reached")
)

// MaxCompletions caps the submissions of one request: the first one plus three revisions.
const MaxCompletions = 4

type CompletionStatus string

const (
	CompletionPending  CompletionStatus = "pending"
	CompletionAccepted CompletionStatus = "accepted"
	CompletionRejected CompletionStatus = "rejected"
)

// DocumentStore is the document store contract the service writes through.
type DocumentStore interface {
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	Update(ctx context.Context, path string, patch map[string]any) error
	Get(ctx context.Context, path string) (storage.Document, error)
	Query(ctx context.Context, q storage.Query) ([]storage.Document, error)
}

// BlobIndex records metadata of stored objects.
type BlobIndex interface {
	UpsertBlobMetadata(meta storage.BlobMetadata) error
}

// transitions lists the allowed next status of each status.
var transitions = map[models.RequestStatus]models.RequestStatus{
	models.RequestStatusPending:  models.RequestStatusAccepted,
	models.RequestStatusAccepted: models.RequestStatusComplete,
	models.RequestStatusComplete: models.RequestStatusFinished,
}

type Service struct {
	store DocumentStore
	files filestore.FileStore
	blobs BlobIndex
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store DocumentStore, files filestore.FileStore, blobs BlobIndex, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store: store,
		files: files,
		blobs: blobs,
		log:   logger.With("component", "requests"),
		now:   time.Now,
	}
}

// Draft holds the client-supplied fields of a new request.
type Draft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Service) CreateDesign(ctx context.Context, createdBy string, d Draft) (models.Request, error) {
	return s.create(ctx, models.RequestKindDesign, createdBy, d)
}

func (s *Service) CreateProduction(ctx context.Context, createdBy string, d Draft) (models.Request, error) {
	return s.create(ctx, models.RequestKindProduction, createdBy, d)
}

// Create dispatches on kind.
func (s *Service) Create(ctx context.Context, kind models.RequestKind, createdBy string, d Draft) (models.Request, error) {
	switch kind {
	case models.RequestKindDesign:
		return s.CreateDesign(ctx, createdBy, d)
	case models.RequestKindProduction:
		return s.CreateProduction(ctx, createdBy, d)
	}
	return models.Request{}, fmt.Errorf("%q: %w", kind, ErrInvalidKind)
}

func (s *Service) create(ctx context.Context, kind models.RequestKind, createdBy string, d Draft) (models.Request, error) {
	name, err := content.NormalizeName(d.Name)
	if err != nil {
		return models.Request{}, fmt.Errorf("invalid %s: %w", kind.DisplayField(), err)
	}

	id, err := s.store.Add(ctx, kind.Collection(), map[string]any{
		kind.DisplayField(): name,
		"description":       content.Sanitize(d.Description),
		"status":            string(models.RequestStatusPending),
		"createdBy":         createdBy,
		"createdAt":         storage.ServerTimestamp,
	})
	if err != nil {
		return models.Request{}, fmt.Errorf("failed to create %s: %w", kind, err)
	}
	s.log.Info("request created", "kind", kind, "id", id, "user_id", createdBy)
	return s.Get(ctx, kind, id)
}

func (s *Service) Get(ctx context.Context, kind models.RequestKind, id string) (models.Request, error) {
	if !kind.Valid() {
		return models.Request{}, fmt.Errorf("%q: %w", kind, ErrInvalidKind)
	}
	doc, err := s.store.Get(ctx, kind.Collection()+"/"+id)
	if err != nil {
		return models.Request{}, err
	}
	return toRequest(kind, doc), nil
}

// List returns every record of kind for admins and the identity's own records for clients, newest first.
func (s *Service) List(ctx context.Context, kind models.RequestKind, identity string, role models.Role) ([]models.Request, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%q: %w", kind, ErrInvalidKind)
	}
	q := storage.Query{Collection: kind.Collection(), OrderBy: "createdAt", Descending: true}
	if role != models.RoleAdmin {
		q.Filters = []storage.Filter{storage.Where("createdBy", storage.OpEqual, identity)}
	}
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind.Collection(), err)
	}
	out := make([]models.Request, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toRequest(kind, doc))
	}
	return out, nil
}

// Accept assigns a pending request to executor.
func (s *Service) Accept(ctx context.Context, kind models.RequestKind, id, executor string) error {
	req, err := s.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	if req.Status != models.RequestStatusPending {
		return fmt.Errorf("%s -> %s: %w", req.Status, models.RequestStatusAccepted, ErrInvalidStatus)
	}
	err = s.store.Update(ctx, kind.Collection()+"/"+id, map[string]any{
		"status":     string(models.RequestStatusAccepted),
		"executedBy": executor,
		"updatedAt":  storage.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to accept %s: %w", id, err)
	}
	s.log.Info("request accepted", "kind", kind, "id", id, "executor", executor)
	return nil
}

// SetStatus moves a request one step along pending, accepted, complete, finished.
func (s *Service) SetStatus(ctx context.Context, kind models.RequestKind, id string, status models.RequestStatus) error {
	req, err := s.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	if next, ok := transitions[req.Status]; !ok || next != status {
		return fmt.Errorf("%s -> %s: %w", req.Status, status, ErrInvalidStatus)
	}
	err = s.store.Update(ctx, kind.Collection()+"/"+id, map[string]any{
		"status":    string(status),
		"updatedAt": storage.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to update status of %s: %w", id, err)
	}
	return nil
}

// SendMessage appends a message to the thread of a non-pending request.
func (s *Service) SendMessage(ctx context.Context, kind models.RequestKind, id, senderID, body string) (models.Message, error) {
	req, err := s.Get(ctx, kind, id)
	if err != nil {
		return models.Message{}, err
	}
	if req.Status == models.RequestStatusPending {
		return models.Message{}, ErrPending
	}
	if !req.HasParticipant(senderID) {
		return models.Message{}, ErrNotParticipant
	}
	// Stored as typed; HTML is rendered and sanitized on read.
	body, err = content.NormalizeMessage(body)
	if err != nil {
		return models.Message{}, err
	}

	collection := models.MessagesCollection(kind.Collection(), id)
	msgID, err := s.store.Add(ctx, collection, map[string]any{
		"sendBy":  senderID,
		"sendAt":  storage.ServerTimestamp,
		"read":    false,
		"content": body,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to store message: %w", err)
	}
	doc, err := s.store.Get(ctx, collection+"/"+msgID)
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{
		ID:       msgID,
		ThreadID: id,
		SenderID: senderID,
		Content:  body,
		HTML:     content.RenderMarkdown(body),
		SendAt:   doc.Time("sendAt"),
	}, nil
}

// MarkRead flags the unread messages sent by other participants as read and returns how many changed.
func (s *Service) MarkRead(ctx context.Context, kind models.RequestKind, id, readerID string) (int, error) {
	req, err := s.Get(ctx, kind, id)
	if err != nil {
		return 0, err
	}
	if !req.HasParticipant(readerID) {
		return 0, ErrNotParticipant
	}

	collection := models.MessagesCollection(kind.Collection(), id)
	docs, err := s.store.Query(ctx, storage.Query{
		Collection: collection,
		Filters: []storage.Filter{
			storage.Where("read", storage.OpEqual, false),
			storage.Where("sendBy", storage.OpNotEqual, readerID),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query unread messages: %w", err)
	}
	for _, doc := range docs {
		if err := s.store.Update(ctx, doc.Path, map[string]any{"read": true}); err != nil {
			return 0, fmt.Errorf("failed to mark %s read: %w", doc.ID, err)
		}
	}
	return len(docs), nil
}

// Completion is a submitted result of a request.
type Completion struct {
	ID            string           `json:"id"`
	Image         string           `json:"image"`
	URL           string           `json:"url"`
	Message       string           `json:"message,omitempty"`
	Status        CompletionStatus `json:"status"`
	RejectMessage string           `json:"rejectMessage,omitempty"`
	SubmittedBy   string           `json:"submittedBy"`
	CompletedAt   time.Time        `json:"completedAt"`
}

// SubmitCompletion stores an image result, records it and posts the optional
// message into the request's thread. Nothing is written unless every check passes.
func (s *Service) SubmitCompletion(ctx context.Context, kind models.RequestKind, id, submitter string, file io.Reader, message string) (Completion, error) {
	req, err := s.Get(ctx, kind, id)
	if err != nil {
		return Completion{}, err
	}
	if req.Status == models.RequestStatusPending {
		return Completion{}, ErrPending
	}
	if !req.HasParticipant(submitter) {
		return Completion{}, ErrNotParticipant
	}
	message = strings.TrimSpace(message)
	if message != "" {
		if message, err = content.NormalizeMessage(message); err != nil {
			return Completion{}, err
		}
	}

	previous, err := s.completions(ctx, kind, id)
	if err != nil {
		return Completion{}, err
	}
	if len(previous) >= MaxCompletions {
		return Completion{}, ErrRevisionLimit
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if !filestore.IsImage(data) {
		return Completion{}, ErrNotImage
	}
	mime, ext, err := filestore.Detect(data)
	if err != nil {
		return Completion{}, err
	}

	now := s.now()
	key := fmt.Sprintf("%s/%d-%s.%s", kind.Collection(), now.UnixMilli(), id, ext)
	if err := s.files.Put(bytes.NewReader(data), key); err != nil {
		return Completion{}, fmt.Errorf("failed to store completion: %w", err)
	}
	if s.blobs != nil {
		meta := storage.BlobMetadata{ObjectKey: key, MimeType: mime, Size: int64(len(data)), CreatedAt: now.Unix(), UserID: submitter}
		if err := s.blobs.UpsertBlobMetadata(meta); err != nil {
			s.log.Error("failed to record blob metadata", "key", key, "error", err)
		}
	}

	compID, err := s.store.Add(ctx, completionsCollection(kind, id), map[string]any{
		"image":       key,
		"message":     message,
		"status":      string(CompletionPending),
		"submittedBy": submitter,
		"completedAt": storage.ServerTimestamp,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("failed to record completion: %w", err)
	}

	if message != "" {
		if _, err := s.SendMessage(ctx, kind, id, submitter, message); err != nil {
			return Completion{}, err
		}
	}

	s.log.Info("completion submitted", "kind", kind, "id", id, "key", key)
	return Completion{
		ID:          compID,
		Image:       key,
		URL:         filestore.URL(key),
		Message:     message,
		Status:      CompletionPending,
		SubmittedBy: submitter,
		CompletedAt: now.UTC(),
	}, nil
}

// Completions lists the submissions of a request, oldest first.
func (s *Service) Completions(ctx context.Context, kind models.RequestKind, id, viewer string, role models.Role) ([]Completion, error) {
	req, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if role != models.RoleAdmin && !req.HasParticipant(viewer) {
		return nil, ErrNotParticipant
	}
	return s.completions(ctx, kind, id)
}

// ConfirmCompletion accepts a pending submission and finishes the request.
// Only the request's creator reviews completions.
func (s *Service) ConfirmCompletion(ctx context.Context, kind models.RequestKind, id, completionID, reviewer string) error {
	req, comp, err := s.reviewable(ctx, kind, id, completionID, reviewer)
	if err != nil {
		return err
	}
	if req.Status == models.RequestStatusFinished {
		return fmt.Errorf("%s -> %s: %w", req.Status, models.RequestStatusFinished, ErrInvalidStatus)
	}

	err = s.store.Update(ctx, completionsCollection(kind, id)+"/"+comp.ID, map[string]any{
		"status":     string(CompletionAccepted),
		"reviewedAt": storage.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to accept completion %s: %w", comp.ID, err)
	}
	err = s.store.Update(ctx, kind.Collection()+"/"+id, map[string]any{
		"status":    string(models.RequestStatusFinished),
		"updatedAt": storage.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to finish %s: %w", id, err)
	}
	s.log.Info("completion accepted", "kind", kind, "id", id, "completion_id", comp.ID)
	return nil
}

// RequestRevision rejects a pending submission with the reviewer's feedback.
func (s *Service) RequestRevision(ctx context.Context, kind models.RequestKind, id, completionID, reviewer, feedback string) error {
	feedback, err := content.NormalizeMessage(feedback)
	if err != nil {
		return err
	}
	if _, _, err := s.reviewable(ctx, kind, id, completionID, reviewer); err != nil {
		return err
	}
	all, err := s.completions(ctx, kind, id)
	if err != nil {
		return err
	}
	if len(all) >= MaxCompletions {
		return ErrRevisionLimit
	}

	err = s.store.Update(ctx, completionsCollection(kind, id)+"/"+completionID, map[string]any{
		"status":        string(CompletionRejected),
		"rejectMessage": feedback,
		"reviewedAt":    storage.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to reject completion %s: %w", completionID, err)
	}
	s.log.Info("revision requested", "kind", kind, "id", id, "completion_id", completionID)
	return nil
}

func (s *Service) reviewable(ctx context.Context, kind models.RequestKind, id, completionID, reviewer string) (models.Request, Completion, error) {
	req, err := s.Get(ctx, kind, id)
	if err != nil {
		return models.Request{}, Completion{}, err
	}
	if reviewer != req.CreatedBy {
		return models.Request{}, Completion{}, ErrNotParticipant
	}
	doc, err := s.store.Get(ctx, completionsCollection(kind, id)+"/"+completionID)
	if err != nil {
		return models.Request{}, Completion{}, err
	}
	comp := toCompletion(doc)
	if comp.Status != CompletionPending {
		return models.Request{}, Completion{}, fmt.Errorf("completion is %s: %w", comp.Status, ErrInvalidStatus)
	}
	return req, comp, nil
}

func (s *Service) completions(ctx context.Context, kind models.RequestKind, id string) ([]Completion, error) {
	docs, err := s.store.Query(ctx, storage.Query{Collection: completionsCollection(kind, id), OrderBy: "completedAt"})
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	out := make([]Completion, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toCompletion(doc))
	}
	return out, nil
}

func completionsCollection(kind models.RequestKind, id string) string {
	return kind.Collection() + "/" + id + "/completions"
}

func toCompletion(doc storage.Document) Completion {
	status := CompletionStatus(doc.String("status"))
	if status == "" {
		status = CompletionPending
	}
	return Completion{
		ID:            doc.ID,
		Image:         doc.String("image"),
		URL:           filestore.URL(doc.String("image")),
		Message:       doc.String("message"),
		Status:        status,
		RejectMessage: doc.String("rejectMessage"),
		SubmittedBy:   doc.String("submittedBy"),
		CompletedAt:   doc.Time("completedAt"),
	}
}

func toRequest(kind models.RequestKind, doc storage.Document) models.Request {
	return models.Request{
		ID:          doc.ID,
		Kind:        kind,
		Name:        doc.String(kind.DisplayField()),
		Status:      models.RequestStatus(doc.String("status")),
		CreatedBy:   doc.String("createdBy"),
		ExecutedBy:  doc.String("executedBy"),
		Description: doc.String("description"),
		CreatedAt:   doc.Time("createdAt"),
		UpdatedAt:   doc.Time("updatedAt"),
	}
}
