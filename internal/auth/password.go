// password.go

// bcrypt password hashing and account input validation.
// Hashes use the $2a$ format, which pgcrypto's crypt() verifies in-database at login.
package auth

import (
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns the bcrypt hash of plaintext password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches a stored bcrypt hash.
// Login compares in Postgres; this serves callers holding a hash already.
func VerifyPassword(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("comparing password hash: %w", err)
}

// ValidateEmail checks format and length constraints; returns error message or empty string.
// RFC 5321: min ~5 chars (a@b.c), max 254.
func ValidateEmail(email string) string {
	if email == "" {
		return "No email provided"
	}
	emailLen := len(email)
	if emailLen < 5 {
		return "Email too short!"
	}
	if emailLen > 254 {
		return "Email too long!"
	}
	if _, err := netmail.ParseAddress(email); err != nil {
		return "Invalid email format"
	}
	return ""
}

// PasswordPolicy defines password complexity rules applied at registration and password change.
//
//	MinLength is the minimum rune count (user-perceived chars); 0 skips minimum enforcement.
//	MaxLength is the maximum rune count (user-perceived chars); 0 skips maximum enforcement.
//	RequireUppercase, RequireDigit, and RequireSpecial each gate a character-class check;
//	false means skip that check entirely. Special characters are defined by the specialChars
//	constant. No RequireLowercase field -- lowercase is assumed for all passwords. The zero
//	value is fully permissive: no length limits, no character class checks enforced.
type PasswordPolicy struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireDigit     bool
	RequireSpecial   bool
}

// specialChars defines which characters satisfy the RequireSpecial rule.
// All printable non-alphanumeric ASCII punctuation and symbols.
const specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Validate checks password against every enabled rule and returns a slice of human-readable
// failure messages; an empty slice means the password is valid.
func (p PasswordPolicy) Validate(password string) []string {
	var failures []string

	if password == "" {
		failures = append(failures, "No password provided")
	}

	if p.MinLength > 0 && utf8.RuneCountInString(password) < p.MinLength {
		failures = append(failures, fmt.Sprintf("Password must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && utf8.RuneCountInString(password) > p.MaxLength {
		failures = append(failures, fmt.Sprintf("Password must be at most %d characters", p.MaxLength))
	}

	var seenUpper, seenDigit, seenSpecial bool
	for _, r := range password {
		if unicode.IsControl(r) {
			return []string{"Password contains invalid characters"}
		}
		switch {
		case unicode.IsUpper(r):
			seenUpper = true
		case unicode.IsDigit(r):
			seenDigit = true
		case strings.ContainsRune(specialChars, r):
			seenSpecial = true
		}
	}

	if p.RequireUppercase && !seenUpper {
		failures = append(failures, "Password must contain at least one uppercase letter")
	}
	if p.RequireDigit && !seenDigit {
		failures = append(failures, "Password must contain at least one digit")
	}
	if p.RequireSpecial && !seenSpecial {
		failures = append(failures, "Password must contain at least one special character")
	}

	return failures
}

// ValidatePassword checks length constraints; returns error message or empty string.
// Min 8 user-perceived chars; max 72 bytes, bcrypt's input limit.
func ValidatePassword(password string) string {
	if password == "" {
		return "No password provided!"
	}
	if utf8.RuneCountInString(password) < 8 {
		return "Password too short!"
	}
	if len(password) > maxPasswordLen {
		return "Password too long!"
	}
	return ""
}

// ValidateUsername checks length and charset; returns error message or empty string.
// 3 to 32 chars of letters, digits, '_', '-' or '.'.
func ValidateUsername(username string) string {
	if username == "" {
		return "No username provided"
	}
	n := utf8.RuneCountInString(username)
	if n < 3 {
		return "Username too short!"
	}
	if n > 32 {
		return "Username too long!"
	}
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("_-.", r) {
			return "Username contains invalid characters"
		}
	}
	return ""
}
