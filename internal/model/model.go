package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent can upload papers and read their own notebook.
	UserRoleStudent UserRole = "student"
	// UserRoleAdmin can read every record.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// UserIDFromContext returns the authenticated user's ID, or nil for anonymous requests.
func UserIDFromContext(ctx context.Context) *int64 {
	u := UserFromContext(ctx)
	if u == nil {
		return nil
	}
	id := u.ID
	return &id
}

// ServerConfig holds runtime settings for the HTTP API.
type ServerConfig struct {
	UploadDir      string
	MaxUploadBytes int64
	AnalyzeTimeout time.Duration
	RequireAuth    bool
	SecureCookies  bool
	CleanupUploads bool
	RateLimit      float64
	RateBurst      int
}
