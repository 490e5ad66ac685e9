// Package session implements server-side login sessions referenced by an
// opaque cookie. Sessions live in Redis when configured, otherwise in memory.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

const (
	RoleSuperAdmin   = "superadmin"
	RoleAdmin        = "admin"
	RolePractitioner = "practitioner"
	RoleStaff        = "staff"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Session is the server-side state behind a session cookie. A session without
// a UserID is a pre-login session that only carries the OAuth state.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	TenantSlug string    `json:"tenant_slug,omitempty"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	Roles      []string  `json:"roles,omitempty"`
	OAuthState string    `json:"oauth_state,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// New returns an anonymous session with a fresh random ID.
func New(ttl time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        NewID(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// NewID returns a 256-bit URL-safe random identifier.
func NewID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("session: read random: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Authenticated reports whether the session belongs to a signed-in user.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

// HasRole reports whether the session holds role.
func (s *Session) HasRole(role string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Store persists sessions.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, s *Session) error
	// DeleteUser removes every session of a user.
	DeleteUser(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
	// Kind names the backend for health reporting.
	Kind() string
}

type contextKey string

const sessionKey contextKey = "session"

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the session bound to ctx, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey).(*Session)
	return s
}
