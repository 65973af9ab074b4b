package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"studiodesk/internal/auth"
	"studiodesk/internal/content"
	"studiodesk/internal/filestore"
	"studiodesk/internal/models"
	"studiodesk/internal/requests"
	"studiodesk/internal/storage"

	"github.com/google/uuid"
)

type documentReader interface {
	Get(ctx context.Context, path string) (storage.Document, error)
}

type blobIndex interface {
	UpsertBlobMetadata(meta storage.BlobMetadata) error
	GetBlobMetadata(key string) (storage.BlobMetadata, error)
}

type API struct {
	auth      *auth.AuthService
	requests  *requests.Service
	docs      documentReader
	files     filestore.FileStore
	blobs     blobIndex
	maxUpload int64
	now       func() time.Time
}

func New(authService *auth.AuthService, svc *requests.Service, docs documentReader, files filestore.FileStore, blobs blobIndex, maxUpload int64) *API {
	return &API{
		auth:      authService,
		requests:  svc,
		docs:      docs,
		files:     files,
		blobs:     blobs,
		maxUpload: maxUpload,
		now:       time.Now,
	}
}

type SessionRequest struct {
	Token string `json:"token"`
}

type SessionResponse struct {
	Success   bool           `json:"success"`
	User      models.Profile `json:"user"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// SessionHandler exchanges a session token for the session cookie.
func (a *API) SessionHandler(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Invalid request body"})
		return
	}

	claims, err := a.auth.Verify(req.Token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, models.APIResponse{Message: "Invalid session token"})
		return
	}

	expiresAt := claims.ExpiresAt.Time
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    req.Token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(expiresAt.Sub(a.now()).Seconds()),
	})

	writeJSON(w, http.StatusOK, SessionResponse{
		Success:   true,
		User:      a.profile(r.Context(), claims),
		ExpiresAt: expiresAt,
	})
}

func (a *API) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if token := tokenFrom(r); token != "" {
		_ = a.auth.Revoke(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)
	writeJSON(w, http.StatusOK, a.profile(r.Context(), claims))
}

// profile prefers the stored user document and falls back to the token claims.
func (a *API) profile(ctx context.Context, claims auth.Claims) models.Profile {
	p := models.Profile{ID: claims.UserID, Name: claims.Name, Role: claims.Role}
	doc, err := a.docs.Get(ctx, "users/"+claims.UserID)
	if err != nil {
		return p
	}
	if name := doc.String("name"); name != "" {
		p.Name = name
	}
	p.Photo = doc.String("photo")
	return p
}

func (a *API) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)
	kind := models.RequestKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = models.RequestKindDesign
	}

	list, err := a.requests.List(r.Context(), kind, claims.UserID, claims.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	var draft requests.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Invalid request body"})
		return
	}

	req, err := a.requests.Create(r.Context(), models.RequestKind(r.PathValue("kind")), claims.UserID, draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) AcceptHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)
	kind := models.RequestKind(r.PathValue("kind"))

	if err := a.requests.Accept(r.Context(), kind, r.PathValue("id"), claims.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) StatusHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)
	kind := models.RequestKind(r.PathValue("kind"))
	id := r.PathValue("id")

	var body struct {
		Status models.RequestStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Invalid request body"})
		return
	}

	req, err := a.requests.Get(r.Context(), kind, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if claims.Role != models.RoleAdmin && !req.HasParticipant(claims.UserID) {
		writeError(w, requests.ErrNotParticipant)
		return
	}

	if err := a.requests.SetStatus(r.Context(), kind, id, body.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Invalid request body"})
		return
	}

	msg, err := a.requests.SendMessage(r.Context(), models.RequestKind(r.PathValue("kind")), r.PathValue("id"), claims.UserID, body.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	n, err := a.requests.MarkRead(r.Context(), models.RequestKind(r.PathValue("kind")), r.PathValue("id"), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (a *API) CompletionHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Invalid or missing file"})
		return
	}
	defer func() { _ = file.Close() }()

	completion, err := a.requests.SubmitCompletion(r.Context(), models.RequestKind(r.PathValue("kind")), r.PathValue("id"), claims.UserID, file, r.FormValue("message"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, completion)
}

func (a *API) ListCompletionsHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	list, err := a.requests.Completions(r.Context(), models.RequestKind(r.PathValue("kind")), r.PathValue("id"), claims.UserID, claims.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) ConfirmCompletionHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	err := a.requests.ConfirmCompletion(r.Context(), models.RequestKind(r.PathValue("kind")), r.PathValue("id"), r.PathValue("cid"), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

// RevisionHandler rejects a completion with feedback for the executor.
func (a *API) RevisionHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Invalid request body"})
		return
	}

	err := a.requests.RequestRevision(r.Context(), models.RequestKind(r.PathValue("kind")), r.PathValue("id"), r.PathValue("cid"), claims.UserID, body.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

type UploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// UploadHandler stores an image attachment and returns its object key.
func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Invalid or missing file"})
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Failed to read file"})
		return
	}
	if !filestore.IsImage(data) {
		writeError(w, requests.ErrNotImage)
		return
	}
	mime, ext, err := filestore.Detect(data)
	if err != nil {
		writeError(w, requests.ErrNotImage)
		return
	}

	now := a.now()
	key := fmt.Sprintf("uploads/%d-%s.%s", now.UnixMilli(), uuid.NewString(), ext)
	if err := a.files.Put(bytes.NewReader(data), key); err != nil {
		log.Printf("failed to store upload: %v", err)
		writeError(w, err)
		return
	}
	meta := storage.BlobMetadata{ObjectKey: key, MimeType: mime, Size: int64(len(data)), CreatedAt: now.Unix(), UserID: claims.UserID}
	if err := a.blobs.UpsertBlobMetadata(meta); err != nil {
		log.Printf("failed to record upload metadata: %v", err)
	}

	writeJSON(w, http.StatusCreated, UploadResponse{Key: key, URL: filestore.URL(key)})
}

// StorageHandler serves stored objects under /storage/{key...}.
func (a *API) StorageHandler(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := filestore.ValidateKey(key); err != nil {
		writeError(w, err)
		return
	}

	rc, err := a.files.Get(key)
	if err != nil {
		writeJSON(w, http.StatusNotFound, models.APIResponse{Message: "Not found"})
		return
	}
	defer func() { _ = rc.Close() }()

	if meta, err := a.blobs.GetBlobMetadata(key); err == nil {
		w.Header().Set("Content-Type", meta.MimeType)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("failed to serve %s: %v", key, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, requests.ErrInvalidKind),
		errors.Is(err, content.ErrEmpty),
		errors.Is(err, content.ErrTooLong),
		errors.Is(err, filestore.ErrInvalidKey):
		status = http.StatusBadRequest
	case errors.Is(err, requests.ErrNotParticipant):
		status = http.StatusForbidden
	case errors.Is(err, requests.ErrPending),
		errors.Is(err, requests.ErrInvalidStatus),
		errors.Is(err, requests.ErrRevisionLimit):
		status = http.StatusConflict
	case errors.Is(err, requests.ErrNotImage),
		errors.Is(err, filestore.ErrUnknownType):
		status = http.StatusUnsupportedMediaType
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	writeJSON(w, status, models.APIResponse{Message: msg})
}
