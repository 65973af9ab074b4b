package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"studiodesk/internal/models"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	DefaultTokenExpiry = 7 * 24 * time.Hour
	// SessionCookie is the cookie carrying the session token.
	SessionCookie = "session"

	signingKeyInfo = "studiodesk session token v1"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrRevokedToken = errors.New("session token revoked")
)

// Claims is the payload of a session token.
type Claims struct {
	UserID string      `json:"uid"`
	Role   models.Role `json:"role"`
	Name   string      `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

// AuthService issues and verifies signed, time-boxed session tokens.
type AuthService struct {
	Config
	signingKey []byte
	// token id -> user id, kept until the token would have expired anyway
	revoked geche.Geche[string, string]
	now     func() time.Time
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

func NewAuthService(ctx context.Context, config Config) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, config.secretBytes, nil, []byte(signingKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}

	return &AuthService{
		Config:     config,
		signingKey: key,
		revoked:    geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}, nil
}

// IssueToken signs a session token for the given profile.
func (as *AuthService) IssueToken(profile models.Profile) (string, time.Time, error) {
	if profile.ID == "" {
		return "", time.Time{}, errors.New("user id is required")
	}
	role := profile.Role
	if role == "" {
		role = models.RoleClient
	}

	now := as.now()
	expiresAt := now.Add(as.TokenExpiry)
	claims := Claims{
		UserID: profile.ID,
		Role:   role,
		Name:   profile.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   profile.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(as.signingKey)
	if err != nil {
		slog.Error("failed to sign session token", "user_id", profile.ID, "error", err)
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify checks signature, algorithm, expiry and revocation.
func (as *AuthService) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, fmt.Errorf("empty token: %w", ErrInvalidToken)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return as.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(as.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return Claims{}, fmt.Errorf("missing uid claim: %w", ErrInvalidToken)
	}
	if _, err := as.revoked.Get(claims.ID); err == nil {
		return Claims{}, ErrRevokedToken
	}
	return claims, nil
}

// Revoke invalidates a still-valid token. Invalid tokens are ignored.
func (as *AuthService) Revoke(token string) error {
	claims, err := as.Verify(token)
	if err != nil {
		return nil
	}
	as.revoked.Set(claims.ID, claims.UserID)
	return nil
}
