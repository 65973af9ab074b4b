package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"studiodesk/internal/auth"
	"studiodesk/internal/models"
)

type contextKey string

const claimsKey contextKey = "claims"

func claimsFrom(r *http.Request) (auth.Claims, bool) {
	c, ok := r.Context().Value(claimsKey).(auth.Claims)
	return c, ok
}

// tokenFrom reads the session token from the Authorization header or the session cookie.
func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(auth.SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuth rejects requests without a valid session token.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.auth.Verify(tokenFrom(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, models.APIResponse{Message: "Unauthorized"})
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// RequireAdmin must wrap a handler already behind RequireAuth.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok || claims.Role != models.RoleAdmin {
			writeJSON(w, http.StatusForbidden, models.APIResponse{Message: "Forbidden"})
			return
		}
		next(w, r)
	}
}

// RequireSameOrigin rejects cross-site requests that carry an Origin header.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				writeJSON(w, http.StatusForbidden, models.APIResponse{Message: "Cross-origin request rejected"})
				return
			}
		}
		next(w, r)
	}
}
