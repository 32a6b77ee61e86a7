// codec.go

// Remember-me cookie value format and auth cookie management.
//
// Cookie value: lookup;secret;base64(userUUID)
// lookup  -- non-secret, indexed, stable across rotations
// secret  -- random, only its sha256 is stored
// uuid    -- never trusted alone; must belong to the (lookup, secret) owner
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AuthCookieName is the cookie carrying the remember-me token.
const AuthCookieName = "auth"

const (
	secretLen       = 33 // bytes of randomness in a freshly issued secret
	lookupLen       = 8  // bytes of randomness in a lookup
	rotateSecretLen = 32 // bytes of randomness in a rotated secret
	minUUIDLen      = 32 // shortest decoded uuid worth a database query

	// AuthTokenTTL is the lifetime of a remember-me token. Rotation keeps the original expiry.
	AuthTokenTTL = 30 * 24 * time.Hour
)

// randRead is swapped in tests to simulate an unavailable randomness source.
var randRead = rand.Read

// formatAuthCookie joins the three cookie segments.
func formatAuthCookie(lookup, secret, userUUID string) string {
	return lookup + ";" + secret + ";" + base64.StdEncoding.EncodeToString([]byte(userUUID))
}

// ParseAuthCookie splits a remember-me cookie value into its lookup, secret and user UUID.
// Segments past the third are ignored. ok is false when fewer than three segments are present, any segment is empty, the
// uuid segment is not base64, or the decoded uuid is shorter than 32 characters.
// Pure string work; never touches the database.
func ParseAuthCookie(value string) (lookup, secret, userUUID string, ok bool) {
	parts := strings.Split(value, ";")
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(raw) < minUUIDLen {
		return "", "", "", false
	}
	return parts[0], parts[1], string(raw), true
}

// hashSecret returns the hex sha256 digest stored for a cookie secret.
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// authCookieValue returns the decoded auth cookie of r, empty if absent.
// Values are URL-escaped on the wire because ';' is not a legal cookie byte.
func authCookieValue(r *http.Request) string {
	c, err := r.Cookie(AuthCookieName)
	if err != nil {
		return ""
	}
	v, err := url.QueryUnescape(c.Value)
	if err != nil {
		// Left as-is; ParseAuthCookie rejects it.
		return c.Value
	}
	return v
}

// SetAuthCookie writes the auth cookie with HttpOnly, SameSite=Lax and the token's expiry.
// secure should be true in production.
func SetAuthCookie(w http.ResponseWriter, value string, expiresAt time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    url.QueryEscape(value),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

// ClearAuthCookie overwrites the auth cookie with MaxAge=-1 to trigger browser deletion.
func ClearAuthCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
