// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (session store + rate limiter).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrCacheMiss is returned by GetSession when the key is not in Redis.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// User represents a row in the users table.
// pwhash is never selected; password checks run inside Postgres via crypt().
type User struct {
	ID        int64
	Username  string
	Email     string
	UUID      uuid.UUID
	Theme     int16
	Admin     bool
	CreatedAt time.Time
}

// Cached returns the denormalized record kept in the user identity cache.
func (u *User) Cached() CachedUser {
	return CachedUser{
		UserID:   u.ID,
		Username: u.Username,
		UUID:     u.UUID,
		Theme:    u.Theme,
		Admin:    u.Admin,
	}
}

// CachedUser is the small per-user record served to request handlers.
// Read-through copy of the users row; Postgres stays the source of truth.
type CachedUser struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	UUID     uuid.UUID `json:"uuid"`
	Theme    int16     `json:"theme"`
	Admin    bool      `json:"admin"`
}

// AuthToken represents a row in the auth_tokens table.
// HashedToken is the hex sha256 digest of the cookie secret, never the secret itself.
type AuthToken struct {
	UserID      int64
	HashedToken string
	ExpiresAt   time.Time
	Lookup      string
}

// CachedSession is the JSON shape stored in Redis for server-side sessions.
// UserID zero means anonymous. Theme is only meaningful for anonymous sessions.
type CachedSession struct {
	UserID int64  `json:"user_id,omitempty"`
	Theme  *int16 `json:"theme,omitempty"`
}

// IsEmpty reports whether the session carries no data worth persisting.
func (c CachedSession) IsEmpty() bool {
	return c.UserID == 0 && c.Theme == nil
}

// RateLimit defines the policy for a rate-limited action.
// All three fields required, zero values disable the respective behaviour.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // rolling window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is hit
}
