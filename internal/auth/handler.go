// handler.go -- AuthHandler dependencies and HTTP handlers for /api account endpoints.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MGallo-Code/mangatracker/internal/cache"
	"github.com/MGallo-Code/mangatracker/internal/session"
	"github.com/MGallo-Code/mangatracker/internal/store"
	"github.com/gofrs/uuid/v5"
	"golang.org/x/sync/singleflight"
)

// Store defines database operations needed by auth handlers.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type Store interface {
	// CreateUser inserts a user with a bcrypt pwhash and returns the new user_id.
	CreateUser(ctx context.Context, username, email, pwhash string, userUUID uuid.UUID) (int64, error)

	// GetUserByCredentials fetches the user matching email whose hash accepts password.
	// Returns pgx.ErrNoRows for unknown email and wrong password alike.
	GetUserByCredentials(ctx context.Context, email, password string) (*store.User, error)

	// GetUserByID fetches a user by id. Returns pgx.ErrNoRows if not found.
	GetUserByID(ctx context.Context, id int64) (*store.User, error)

	// UpdateUserTheme sets the user's theme preference.
	UpdateUserTheme(ctx context.Context, id int64, theme int16) error

	// CreateAuthToken inserts a remember-me token row.
	CreateAuthToken(ctx context.Context, userID int64, hashedToken, lookup string, expiresAt time.Time) error

	// GetUserByToken returns the owner of a live token matching lookup, hash and user UUID.
	// Returns pgx.ErrNoRows if nothing matches.
	GetUserByToken(ctx context.Context, lookup, hashedToken, userUUID string) (*store.User, error)

	// GetLookupOwner returns the user owning (userUUID, lookup) under any hash.
	// Returns pgx.ErrNoRows if the lookup does not exist.
	GetLookupOwner(ctx context.Context, userUUID, lookup string) (int64, error)

	// RotateAuthToken replaces the hash of the (userID, lookup) row and returns its expiry.
	// Returns pgx.ErrNoRows if the row is gone.
	RotateAuthToken(ctx context.Context, userID int64, lookup, hashedToken string) (time.Time, error)

	// DeleteAuthToken removes the token matching userID, lookup and hash.
	DeleteAuthToken(ctx context.Context, userID int64, lookup, hashedToken string) error

	// DeleteUserAuthTokens removes every token of the user.
	DeleteUserAuthTokens(ctx context.Context, userID int64) error

	// CheckHealth pings the database.
	CheckHealth(ctx context.Context) error
}

// SessionManager defines the session operations needed by auth handlers.
// Satisfied by *session.Manager.
type SessionManager interface {
	// Regenerate gives the session a new id and empty contents.
	Regenerate(ctx context.Context, s *session.Session) error

	// Destroy deletes the session and expires its cookie.
	Destroy(ctx context.Context, s *session.Session) error

	// ClearUserSessions deletes every stored session of the user.
	ClearUserSessions(ctx context.Context, userID int64) error
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter -- defined here per Go convention.
type RateLimiter interface {
	// Allow checks whether the action is within policy, records the attempt.
	// Returns store.ErrRateLimitExceeded if locked out; other errors are infrastructure failures.
	Allow(ctx context.Context, key string, policy store.RateLimit) error
}

// HealthChecker is anything CheckHealth can ping. Satisfied by *store.RedisStore.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// AuthHandler holds dependencies for the auth middleware and account handlers.
// Users is the process-wide identity cache; it must be non-nil.
type AuthHandler struct {
	PS    Store
	RS    HealthChecker
	SM    SessionManager
	RL    RateLimiter
	Users *cache.Users

	// SecureCookies sets the Secure attribute on the auth cookie (production).
	SecureCookies bool

	// BruteForcePolicy gates each remember-me verification, keyed by client IP.
	BruteForcePolicy store.RateLimit

	// LoginPolicy gates password logins, keyed by email.
	LoginPolicy store.RateLimit

	// PasswordPolicy adds complexity rules on top of ValidatePassword at registration.
	PasswordPolicy PasswordPolicy

	// inflight collapses concurrent verifications of the same auth cookie.
	inflight singleflight.Group
}

// Register handles POST /api/register -- username + email + password signup.
// Returns 201 for new and already-registered emails alike, 400 for validation errors.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var registerInput struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&registerInput); err != nil {
		logWarn(r, "failed to decode register input", "error", err)
		BadRequest(w, r, "error decoding request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(registerInput.Email))
	if msg := ValidateUsername(registerInput.Username); msg != "" {
		BadRequest(w, r, msg)
		return
	}
	if msg := ValidateEmail(email); msg != "" {
		BadRequest(w, r, msg)
		return
	}
	if msg := ValidatePassword(registerInput.Password); msg != "" {
		BadRequest(w, r, msg)
		return
	}
	if failures := h.PasswordPolicy.Validate(registerInput.Password); len(failures) > 0 {
		BadRequest(w, r, failures[0])
		return
	}

	pwhash, err := HashPassword(registerInput.Password)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	userUUID, err := uuid.NewV4()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	userID, err := h.PS.CreateUser(r.Context(), registerInput.Username, email, pwhash, userUUID)
	if err != nil {
		if !store.IsUniqueViolation(err) {
			InternalServerError(w, r, err)
			return
		}
		// Duplicate -- same 201 as a real registration (no enumeration).
		logInfo(r, "registration attempted with existing username or email")
	} else {
		logInfo(r, "user registered", "user_id", userID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(`{"message":"registered"}`))
}

// Login handles POST /api/login -- email + password authentication.
// Returns 200 with the user, 401 for bad credentials, 429 when rate limited.
// With rememberme the response also sets the long-lived auth cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginInput struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		RememberMe bool   `json:"rememberme"`
	}

	if err := json.NewDecoder(r.Body).Decode(&loginInput); err != nil {
		logWarn(r, "failed to decode login input", "error", err)
		BadRequest(w, r, "error decoding request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(loginInput.Email))
	if email == "" || loginInput.Password == "" {
		Unauthorized(w, r, "invalid credentials")
		return
	}

	sess, ok := session.FromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errMissingSession)
		return
	}

	if err := h.RL.Allow(r.Context(), "login:email:"+email, h.LoginPolicy); err != nil {
		if errors.Is(err, store.ErrRateLimitExceeded) {
			logInfo(r, "login rate limited")
			TooManyRequests(w)
			return
		}
		InternalServerError(w, r, err)
		return
	}

	res, err := h.Authenticate(r.Context(), sess, email, loginInput.Password, loginInput.RememberMe)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if res == nil {
		Unauthorized(w, r, "invalid credentials")
		return
	}

	if res.Token != "" {
		SetAuthCookie(w, res.Token, res.ExpiresAt, h.SecureCookies)
	}
	logInfo(r, "user logged in", "user_id", res.User.UserID, "remember_me", loginInput.RememberMe)
	writeJSON(w, http.StatusOK, res.User)
}

// CurrentUser handles GET /api/user -- returns the resolved user. Mount behind RequiresUser.
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		Unauthorized(w, r, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Logout handles POST /api/logout -- revokes the presented remember-me token,
// clears the auth cookie and destroys the session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errMissingSession)
		return
	}
	userID := sess.UserID()
	if userID == 0 {
		Unauthorized(w, r, "unauthorized")
		return
	}

	if raw := authCookieValue(r); raw != "" {
		if err := h.ClearUserAuthToken(r.Context(), userID, raw); err != nil {
			InternalServerError(w, r, err)
			return
		}
	}
	if err := h.SM.Destroy(r.Context(), sess); err != nil {
		InternalServerError(w, r, err)
		return
	}

	ClearAuthCookie(w, h.SecureCookies)
	logInfo(r, "user logged out", "user_id", userID)
	OK(w, "logged out")
}

// LogoutAll handles POST /api/logout-all -- revokes every token and session of the user.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errMissingSession)
		return
	}
	userID := sess.UserID()
	if userID == 0 {
		Unauthorized(w, r, "unauthorized")
		return
	}

	if err := h.ClearUserAuthTokens(r.Context(), userID); err != nil {
		InternalServerError(w, r, err)
		return
	}
	if err := h.SM.ClearUserSessions(r.Context(), userID); err != nil {
		InternalServerError(w, r, err)
		return
	}
	if err := h.SM.Destroy(r.Context(), sess); err != nil {
		InternalServerError(w, r, err)
		return
	}

	ClearAuthCookie(w, h.SecureCookies)
	logInfo(r, "user logged out of all devices", "user_id", userID)
	OK(w, "logged out of all devices")
}
