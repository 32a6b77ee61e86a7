// Package session implements server-side sessions keyed by an opaque cookie id.
//
// Session data lives in a Store (Redis in production). The Manager middleware loads
// the session for each request, exposes it through the request context, and writes
// changes back right before the response headers go out.
package session

import (
	"context"
	"sync"

	"github.com/MGallo-Code/mangatracker/internal/store"
)

// Session is the per-request view of one server-side session.
// Mutators mark it dirty; the Manager persists dirty sessions on commit.
type Session struct {
	mu         sync.Mutex
	id         string // empty until the session is first persisted
	data       store.CachedSession
	dirty      bool
	sendCookie bool // id changed; client must receive it
	stored     bool // id was loaded from the store; commits must not recreate it
	destroyed  bool
}

// New returns a session for an id already known to the client.
// Use an empty id for a session that has not been persisted yet.
func New(id string, data store.CachedSession) *Session {
	return &Session{id: id, data: data, stored: id != ""}
}

// ID returns the current session id, empty if never persisted.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// UserID returns the authenticated user id, 0 if anonymous.
func (s *Session) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.UserID
}

// SetUserID attaches an authenticated user to the session.
func (s *Session) SetUserID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.UserID = id
	s.dirty = true
}

// ClearUserID makes the session anonymous.
func (s *Session) ClearUserID() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.UserID == 0 {
		return
	}
	s.data.UserID = 0
	s.dirty = true
}

// Theme returns the anonymous theme preference, if one was set.
func (s *Session) Theme() (int16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Theme == nil {
		return 0, false
	}
	return *s.data.Theme, true
}

// SetTheme stores a theme preference for an anonymous visitor.
func (s *Session) SetTheme(theme int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Theme = &theme
	s.dirty = true
}

// Data returns a copy of the session contents.
func (s *Session) Data() store.CachedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey struct{}

// NewContext returns ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session placed by Manager.Middleware.
// Returns nil and false if the middleware hasn't run.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}
