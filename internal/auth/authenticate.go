// authenticate.go -- password login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MGallo-Code/mangatracker/internal/session"
	"github.com/MGallo-Code/mangatracker/internal/store"
	"github.com/jackc/pgx/v5"
)

// maxPasswordLen is bcrypt's input limit in bytes; longer passwords can never match.
const maxPasswordLen = 72

// LoginResult is returned by Authenticate on a credential match.
// Token is empty unless remember-me was requested.
type LoginResult struct {
	User      store.CachedUser
	Token     string
	ExpiresAt time.Time
}

// Authenticate checks email + password and, on a match, regenerates sess, attaches the
// user to it and caches the user. With rememberMe a new auth token is issued as well.
// Returns nil, nil for bad credentials; the caller cannot tell unknown email from wrong password.
func (h *AuthHandler) Authenticate(ctx context.Context, sess *session.Session, email, password string, rememberMe bool) (*LoginResult, error) {
	if len(password) > maxPasswordLen {
		return nil, nil
	}

	row, err := h.PS.GetUserByCredentials(ctx, email, password)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching user by credentials: %w", err)
	}

	if err := h.SM.Regenerate(ctx, sess); err != nil {
		return nil, err
	}

	res := &LoginResult{User: row.Cached()}
	if rememberMe {
		res.Token, res.ExpiresAt, err = h.GenerateAuthToken(ctx, row.ID, row.UUID)
		if err != nil {
			return nil, err
		}
	}

	sess.SetUserID(row.ID)
	h.Users.Set(row.ID, res.User)
	return res, nil
}
