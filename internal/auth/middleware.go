// middleware.go

// Session trust and remember-me verification middleware.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MGallo-Code/mangatracker/internal/session"
	"github.com/MGallo-Code/mangatracker/internal/store"
	"github.com/jackc/pgx/v5"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const userKey contextKey = "user"

var errMissingSession = errors.New("session middleware did not run")

// UserFromContext retrieves the user resolved by RequiresUser.
// Returns nil for anonymous requests or if RequiresUser hasn't run.
func UserFromContext(ctx context.Context) *store.CachedUser {
	u, _ := ctx.Value(userKey).(*store.CachedUser)
	return u
}

// verifyOutcome is the shared result of one auth cookie verification.
type verifyOutcome int

const (
	outcomeAuthenticated verifyOutcome = iota
	outcomeMalformed                   // cookie failed to parse
	outcomeRejected                    // no live token matched
	outcomeRateLimited                 // brute-force gate tripped; 429 already sent to the leader
	outcomeGateFailed                  // rate limiter unavailable
	outcomeVerifyFailed                // token lookup failed
	outcomeRegenFailed                 // session regeneration failed after a match
	outcomeRotateFailed                // token rotation failed after a match
)

// verifyResult is shared by every request waiting on the same cookie.
type verifyResult struct {
	outcome   verifyOutcome
	userID    int64
	cookie    string // rotated cookie value
	expiresAt time.Time
	err       error
}

// CheckAuth establishes who the request belongs to.
//
// A session already carrying a user id is trusted as-is. Otherwise a remember-me
// cookie, if present, is verified against Postgres behind the brute-force gate;
// on success the session is regenerated, attaches the user and the token is rotated.
// A lookup that exists under a different secret is treated as token theft and every
// token and session of its owner is revoked.
//
// Concurrent requests presenting the same cookie share a single verification; each
// of them then receives the rotated cookie on its own regenerated session.
func (h *AuthHandler) CheckAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if !ok {
			InternalServerError(w, r, errMissingSession)
			return
		}
		if sess.UserID() != 0 {
			next.ServeHTTP(w, r)
			return
		}

		raw := authCookieValue(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		leader := false
		v, _, shared := h.inflight.Do(raw, func() (any, error) {
			leader = true
			return h.verifyAuthCookie(w, r, sess, raw), nil
		})
		res := v.(verifyResult)
		if shared && !leader {
			logDebug(r, "joined in-flight auth cookie verification")
		}

		switch res.outcome {
		case outcomeMalformed, outcomeRejected:
			sess.ClearUserID()
			ClearAuthCookie(w, h.SecureCookies)
			next.ServeHTTP(w, r)

		case outcomeRateLimited:
			if !leader {
				TooManyRequests(w)
			}

		case outcomeAuthenticated:
			if !leader {
				// Each waiter owns its session; only the cookie is shared.
				if err := h.SM.Regenerate(context.WithoutCancel(r.Context()), sess); err != nil {
					sess.ClearUserID()
					InternalServerError(w, r, err)
					return
				}
			}
			sess.SetUserID(res.userID)
			SetAuthCookie(w, res.cookie, res.expiresAt, h.SecureCookies)
			next.ServeHTTP(w, r)

		default:
			sess.ClearUserID()
			if res.outcome == outcomeVerifyFailed {
				ClearAuthCookie(w, h.SecureCookies)
			}
			if store.IsMalformedInput(res.err) {
				BadRequest(w, r, "malformed auth token")
				return
			}
			InternalServerError(w, r, res.err)
		}
	})
}

// verifyAuthCookie runs once per distinct in-flight cookie. Work is detached from the
// leader's request context so waiters are unaffected if the leader's client goes away.
func (h *AuthHandler) verifyAuthCookie(w http.ResponseWriter, r *http.Request, sess *session.Session, raw string) verifyResult {
	ctx := context.WithoutCancel(r.Context())

	switch outcome, err := h.bruteForceGate(ctx, w, r); outcome {
	case outcomeRateLimited:
		return verifyResult{outcome: outcomeRateLimited}
	case outcomeGateFailed:
		return verifyResult{outcome: outcomeGateFailed, err: err}
	}

	lookup, secret, userUUID, ok := ParseAuthCookie(raw)
	if !ok {
		logInfo(r, "auth cookie rejected", "reason", "malformed")
		return verifyResult{outcome: outcomeMalformed}
	}

	user, err := h.PS.GetUserByToken(ctx, lookup, hashSecret(secret), userUUID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return verifyResult{outcome: outcomeVerifyFailed, err: err}
		}
		if err := h.probeTokenTheft(ctx, r, userUUID, lookup); err != nil {
			return verifyResult{outcome: outcomeVerifyFailed, err: err}
		}
		logInfo(r, "auth cookie rejected", "reason", "no_match")
		return verifyResult{outcome: outcomeRejected}
	}

	cached := user.Cached()
	h.Users.Set(user.ID, cached)

	if err := h.SM.Regenerate(ctx, sess); err != nil {
		return verifyResult{outcome: outcomeRegenFailed, err: err}
	}

	cookie, expiresAt, err := h.rotateAuthToken(ctx, user.ID, lookup, userUUID)
	if err != nil {
		return verifyResult{outcome: outcomeRotateFailed, err: err}
	}

	logInfo(r, "user authenticated by auth cookie", "user_id", user.ID)
	return verifyResult{
		outcome:   outcomeAuthenticated,
		userID:    user.ID,
		cookie:    cookie,
		expiresAt: expiresAt,
	}
}

// probeTokenTheft revokes every token and session of the owner of (userUUID, lookup)
// when the lookup exists but the presented secret did not match it.
// A failed lookup query is returned; revocation failures are only logged.
func (h *AuthHandler) probeTokenTheft(ctx context.Context, r *http.Request, userUUID, lookup string) error {
	ownerID, err := h.PS.GetLookupOwner(ctx, userUUID, lookup)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("checking auth token lookup: %w", err)
	}

	logWarn(r, "security event: auth token secret mismatch, revoking all sessions", "user_id", ownerID)
	if err := h.ClearUserAuthTokens(ctx, ownerID); err != nil {
		logError(r, "failed to revoke auth tokens after secret mismatch", "user_id", ownerID, "error", err)
	}
	if err := h.SM.ClearUserSessions(ctx, ownerID); err != nil {
		logError(r, "failed to revoke sessions after secret mismatch", "user_id", ownerID, "error", err)
	}
	return nil
}

// RequiresUser resolves the session's user id into a user record and stores it in the
// request context, or nil for anonymous visitors. Mount after CheckAuth.
func (h *AuthHandler) RequiresUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if !ok {
			InternalServerError(w, r, errMissingSession)
			return
		}

		user, err := h.GetUser(r.Context(), sess.UserID())
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		if user == nil && sess.UserID() != 0 {
			// Account deleted while the session lived on.
			sess.ClearUserID()
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}
