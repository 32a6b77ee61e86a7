// tokens.go -- Remember-me token issuance, rotation, revocation, and user lookups
// for login, logout and settings flows.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MGallo-Code/mangatracker/internal/cache"
	"github.com/MGallo-Code/mangatracker/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// GenerateAuthToken issues a new remember-me token for the user, persists its hash
// and returns the cookie value with its expiry.
func (h *AuthHandler) GenerateAuthToken(ctx context.Context, userID int64, userUUID uuid.UUID) (string, time.Time, error) {
	var buf [secretLen + lookupLen]byte
	if _, err := randRead(buf[:]); err != nil {
		return "", time.Time{}, fmt.Errorf("generating auth token: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(buf[:secretLen])
	lookup := base64.StdEncoding.EncodeToString(buf[secretLen:])
	expiresAt := time.Now().Add(AuthTokenTTL)

	if err := h.PS.CreateAuthToken(ctx, userID, hashSecret(secret), lookup, expiresAt); err != nil {
		return "", time.Time{}, fmt.Errorf("persisting auth token: %w", err)
	}
	return formatAuthCookie(lookup, secret, userUUID.String()), expiresAt, nil
}

// rotateAuthToken swaps the secret of the (userID, lookup) token for a fresh one.
// Returns the new cookie value, which keeps the lookup, and the token's expiry.
func (h *AuthHandler) rotateAuthToken(ctx context.Context, userID int64, lookup, userUUID string) (string, time.Time, error) {
	var buf [rotateSecretLen]byte
	if _, err := randRead(buf[:]); err != nil {
		return "", time.Time{}, fmt.Errorf("generating rotated secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(buf[:])

	expiresAt, err := h.PS.RotateAuthToken(ctx, userID, lookup, hashSecret(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("rotating auth token: %w", err)
	}
	return formatAuthCookie(lookup, secret, userUUID), expiresAt, nil
}

// ClearUserAuthTokens revokes every remember-me token of the user.
func (h *AuthHandler) ClearUserAuthTokens(ctx context.Context, userID int64) error {
	if err := h.PS.DeleteUserAuthTokens(ctx, userID); err != nil {
		return fmt.Errorf("deleting user auth tokens: %w", err)
	}
	return nil
}

// ClearUserAuthToken revokes the single token presented in cookieValue.
// A value without lookup and secret segments has nothing to revoke.
func (h *AuthHandler) ClearUserAuthToken(ctx context.Context, userID int64, cookieValue string) error {
	parts := strings.SplitN(cookieValue, ";", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil
	}
	if err := h.PS.DeleteAuthToken(ctx, userID, parts[0], hashSecret(parts[1])); err != nil {
		return fmt.Errorf("deleting auth token: %w", err)
	}
	return nil
}

// ModifyCacheUser merges p into the cached record of userID, if cached.
func (h *AuthHandler) ModifyCacheUser(userID int64, p cache.UserPatch) bool {
	return h.Users.Patch(userID, p)
}

// ClearUserCache drops every cached user.
func (h *AuthHandler) ClearUserCache() {
	h.Users.Clear()
}

// GetUser resolves userID through the identity cache, falling back to Postgres.
// Returns nil without error for id 0 or a user that no longer exists.
func (h *AuthHandler) GetUser(ctx context.Context, userID int64) (*store.CachedUser, error) {
	if userID == 0 {
		return nil, nil
	}
	if u, ok := h.Users.Get(userID); ok {
		return &u, nil
	}

	row, err := h.PS.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	u := row.Cached()
	h.Users.Set(userID, u)
	return &u, nil
}
