// manager.go -- session loading, regeneration and persistence.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MGallo-Code/mangatracker/internal/store"
)

// CookieName is the cookie carrying the session id.
const CookieName = "sid"

// Store defines session persistence needed by Manager.
// Satisfied by *store.RedisStore.
type Store interface {
	GetSession(ctx context.Context, id string) (*store.CachedSession, error)
	SetSession(ctx context.Context, id string, data store.CachedSession, ttl time.Duration) error
	// UpdateSession must return store.ErrCacheMiss instead of writing when id no longer exists.
	UpdateSession(ctx context.Context, id string, data store.CachedSession, ttl time.Duration) error
	DeleteSession(ctx context.Context, id string, userID int64) error
	DeleteAllUserSessions(ctx context.Context, userID int64) error
}

// Manager loads and saves sessions around each request.
type Manager struct {
	Store  Store
	TTL    time.Duration
	Secure bool // Secure attribute on the session cookie; true in production
}

// NewManager returns a Manager persisting to st with the given session lifetime.
func NewManager(st Store, ttl time.Duration, secure bool) *Manager {
	return &Manager{Store: st, TTL: ttl, Secure: secure}
}

// newID returns a 256-bit random URL-safe session id.
func newID() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// Middleware loads the request's session into the context and commits changes
// before the first byte of the response is written.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.load(r)
		ctx := context.WithoutCancel(r.Context())
		cw := &commitWriter{ResponseWriter: w}
		cw.commit = func() { m.commit(ctx, w, sess) }

		next.ServeHTTP(cw, r.WithContext(NewContext(r.Context(), sess)))

		// Handlers that never write still need their changes saved.
		cw.once.Do(cw.commit)
	})
}

// load returns the stored session named by the cookie, or a fresh one.
func (m *Manager) load(r *http.Request) *Session {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return New("", store.CachedSession{})
	}
	data, err := m.Store.GetSession(r.Context(), c.Value)
	if err != nil {
		if !errors.Is(err, store.ErrCacheMiss) {
			slog.Error("session lookup failed, starting fresh session", "error", err)
		}
		return New("", store.CachedSession{})
	}
	return New(c.Value, *data)
}

// Regenerate gives s a new id and empty contents, deleting the old stored session.
// Call on every authentication state change.
func (m *Manager) Regenerate(ctx context.Context, s *Session) error {
	id, err := newID()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != "" {
		if err := m.Store.DeleteSession(ctx, s.id, s.data.UserID); err != nil {
			return fmt.Errorf("regenerating session: %w", err)
		}
	}
	s.id = id
	s.data = store.CachedSession{}
	s.dirty = true
	s.sendCookie = true
	s.stored = false
	return nil
}

// Destroy deletes s from the store and expires the client cookie on commit.
func (m *Manager) Destroy(ctx context.Context, s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != "" {
		if err := m.Store.DeleteSession(ctx, s.id, s.data.UserID); err != nil {
			return fmt.Errorf("destroying session: %w", err)
		}
	}
	s.id = ""
	s.data = store.CachedSession{}
	s.destroyed = true
	return nil
}

// ClearUserSessions deletes every stored session belonging to userID.
func (m *Manager) ClearUserSessions(ctx context.Context, userID int64) error {
	return m.Store.DeleteAllUserSessions(ctx, userID)
}

// commit persists s if dirty and sets or expires the session cookie.
// Runs once per request, right before headers are sent.
func (m *Manager) commit(ctx context.Context, w http.ResponseWriter, s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		m.expireCookie(w)
		return
	}
	if !s.dirty {
		return
	}
	if s.id == "" {
		// Nothing worth a cookie yet.
		if s.data.IsEmpty() {
			return
		}
		id, err := newID()
		if err != nil {
			slog.Error("failed to create session", "error", err)
			return
		}
		s.id = id
		s.sendCookie = true
	}

	if s.stored {
		// Loaded sessions may have been revoked while this request ran.
		err := m.Store.UpdateSession(ctx, s.id, s.data, m.TTL)
		if errors.Is(err, store.ErrCacheMiss) {
			slog.Info("session revoked during request, not saved")
			m.expireCookie(w)
			return
		}
		if err != nil {
			slog.Error("failed to save session", "error", err)
			return
		}
	} else {
		if err := m.Store.SetSession(ctx, s.id, s.data, m.TTL); err != nil {
			slog.Error("failed to save session", "error", err)
			return
		}
		s.stored = true
	}
	if s.sendCookie {
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    s.id,
			Path:     "/",
			HttpOnly: true,
			Secure:   m.Secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(m.TTL.Seconds()),
		})
		s.sendCookie = false
	}
	s.dirty = false
}

func (m *Manager) expireCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// commitWriter runs commit before the wrapped writer sends headers.
type commitWriter struct {
	http.ResponseWriter
	once   sync.Once
	commit func()
}

func (w *commitWriter) WriteHeader(code int) {
	w.once.Do(w.commit)
	w.ResponseWriter.WriteHeader(code)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.once.Do(w.commit)
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *commitWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
