// password_test.go

// unit tests for HashPassword, VerifyPassword, and the input validators.
package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// --- HashPassword ---

func TestHashPassword(t *testing.T) {
	t.Run("output is a bcrypt hash at default cost", func(t *testing.T) {
		hash, err := HashPassword("correcthorsebatterystaple")
		if err != nil {
			t.Fatalf("HashPassword returned error: %v", err)
		}
		if !strings.HasPrefix(hash, "$2a$") {
			t.Errorf("expected $2a$ prefix for pgcrypto compatibility, got %q", hash)
		}
		cost, err := bcrypt.Cost([]byte(hash))
		if err != nil {
			t.Fatalf("bcrypt.Cost: %v", err)
		}
		if cost != bcrypt.DefaultCost {
			t.Errorf("cost: expected %d, got %d", bcrypt.DefaultCost, cost)
		}
	})

	// Make sure same password returns diff hashes w/ salts
	t.Run("unique salts per call", func(t *testing.T) {
		h1, err := HashPassword("same-password")
		if err != nil {
			t.Fatalf("first hash: %v", err)
		}
		h2, err := HashPassword("same-password")
		if err != nil {
			t.Fatalf("second hash: %v", err)
		}
		if h1 == h2 {
			t.Error("two hashes of the same password should differ (unique salts)")
		}
	})
}

// --- VerifyPassword ---

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("real-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	t.Run("correct password verifies", func(t *testing.T) {
		match, err := VerifyPassword("real-password", hash)
		if err != nil {
			t.Fatalf("VerifyPassword: %v", err)
		}
		if !match {
			t.Error("correct password should verify")
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		match, err := VerifyPassword("wrong-password", hash)
		if err != nil {
			t.Fatalf("VerifyPassword: %v", err)
		}
		if match {
			t.Error("wrong password should not verify")
		}
	})

	t.Run("invalid hash errors", func(t *testing.T) {
		if _, err := VerifyPassword("password", "not-a-hash"); err == nil {
			t.Error("expected error for invalid hash")
		}
	})
}

// --- ValidatePassword ---

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"empty string", "", "No password provided!"},
		{"one under minimum", "seven77", "Password too short!"},
		{"exactly minimum", "eightchr", ""},
		{"exactly maximum", strings.Repeat("a", 72), ""},
		{"one over maximum", strings.Repeat("a", 73), "Password too long!"},
		{"multibyte over byte limit", strings.Repeat("é", 37), "Password too long!"},
		{"valid password", "correcthorsebatterystaple*", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidatePassword(tc.input)
			if got != tc.wantMsg {
				t.Errorf("ValidatePassword(%q): expected %q, got %q", tc.input, tc.wantMsg, got)
			}
		})
	}
}

// --- PasswordPolicy ---

func TestPasswordPolicyValidate(t *testing.T) {
	t.Run("zero value is permissive", func(t *testing.T) {
		if got := (PasswordPolicy{}).Validate("x"); len(got) != 0 {
			t.Errorf("expected no failures, got %v", got)
		}
	})

	t.Run("each enabled rule reports", func(t *testing.T) {
		p := PasswordPolicy{MinLength: 10, RequireUppercase: true, RequireDigit: true, RequireSpecial: true}
		got := p.Validate("short")
		if len(got) != 4 {
			t.Errorf("expected 4 failures, got %d: %v", len(got), got)
		}
	})

	t.Run("control characters rejected outright", func(t *testing.T) {
		got := (PasswordPolicy{}).Validate("pass\x00word")
		if len(got) != 1 || got[0] != "Password contains invalid characters" {
			t.Errorf("expected invalid characters failure, got %v", got)
		}
	})
}

// --- ValidateUsername / ValidateEmail ---

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		input   string
		wantMsg string
	}{
		{"", "No username provided"},
		{"ab", "Username too short!"},
		{"abc", ""},
		{strings.Repeat("a", 33), "Username too long!"},
		{"manga_fan-99.x", ""},
		{"no spaces", "Username contains invalid characters"},
	}
	for _, tc := range tests {
		if got := ValidateUsername(tc.input); got != tc.wantMsg {
			t.Errorf("ValidateUsername(%q): expected %q, got %q", tc.input, tc.wantMsg, got)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		input   string
		wantMsg string
	}{
		{"", "No email provided"},
		{"a@b", "Email too short!"},
		{"reader@example.com", ""},
		{"not an email", "Invalid email format"},
		{strings.Repeat("a", 250) + "@x.io", "Email too long!"},
	}
	for _, tc := range tests {
		if got := ValidateEmail(tc.input); got != tc.wantMsg {
			t.Errorf("ValidateEmail(%q): expected %q, got %q", tc.input, tc.wantMsg, got)
		}
	}
}
