package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"studiodesk/internal/auth"
	"studiodesk/internal/models"
	"studiodesk/internal/storage"

	"github.com/google/uuid"
)

type userStore interface {
	Set(ctx context.Context, path string, data map[string]any) error
	Get(ctx context.Context, path string) (storage.Document, error)
}

type onlineLister interface {
	Online() []string
	IsOnline(identity string) bool
}

// AdminHandler serves the operator API. It is bound to a private address and
// carries no authentication of its own.
type AdminHandler struct {
	authService *auth.AuthService
	users       userStore
	presence    onlineLister
	baseURL     string
}

func NewAdminHandler(authService *auth.AuthService, users userStore, presence onlineLister, baseURL string) *AdminHandler {
	return &AdminHandler{authService: authService, users: users, presence: presence, baseURL: baseURL}
}

type AddUserRequest struct {
	Name  string      `json:"name"`
	Photo string      `json:"photo,omitempty"`
	Role  models.Role `json:"role,omitempty"`
}

type AddUserResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	LoginLink string    `json:"loginLink,omitempty"`
}

type IssueTokenRequest struct {
	UserID string `json:"userId"`
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Invalid request body"})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Name is required"})
		return
	}
	switch req.Role {
	case "":
		req.Role = models.RoleClient
	case models.RoleAdmin, models.RoleClient:
	default:
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: fmt.Sprintf("Unknown role %q", req.Role)})
		return
	}

	profile := models.Profile{ID: uuid.NewString(), Name: req.Name, Photo: req.Photo, Role: req.Role}
	err := h.users.Set(r.Context(), "users/"+profile.ID, map[string]any{
		"name":      profile.Name,
		"photo":     profile.Photo,
		"role":      string(profile.Role),
		"createdAt": storage.ServerTimestamp,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.APIResponse{Message: fmt.Sprintf("Failed to create user: %v", err)})
		return
	}

	h.issue(w, profile)
}

// IssueTokenHandler mints a fresh session token for an existing user.
func (h *AdminHandler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "User ID is required"})
		return
	}

	doc, err := h.users.Get(r.Context(), "users/"+req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.issue(w, models.Profile{
		ID:    doc.ID,
		Name:  doc.String("name"),
		Photo: doc.String("photo"),
		Role:  models.Role(doc.String("role")),
	})
}

func (h *AdminHandler) OnlineHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"users": h.presence.Online()})
}

func (h *AdminHandler) UserOnlineHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": h.presence.IsOnline(r.PathValue("id"))})
}

func (h *AdminHandler) issue(w http.ResponseWriter, profile models.Profile) {
	token, expiresAt, err := h.authService.IssueToken(profile)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.APIResponse{Message: fmt.Sprintf("Failed to issue token: %v", err)})
		return
	}

	base := strings.TrimRight(h.baseURL, "/")
	writeJSON(w, http.StatusOK, AddUserResponse{
		Success:   true,
		UserID:    profile.ID,
		Token:     token,
		ExpiresAt: expiresAt,
		LoginLink: fmt.Sprintf("%s/login?token=%s", base, url.QueryEscape(token)),
	})
}
