// config.go

// Environment variable loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all env configuration vars for the manga tracker API.
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	LogLevel    slog.Level

	// Production is set by APP_ENV=production and turns on Secure cookies.
	Production bool

	// SessionTTL is the lifetime of a server-side session. Default 24h.
	SessionTTL time.Duration

	// User identity cache sizing. Defaults: 50 entries, 24h max age.
	UserCacheSize   int
	UserCacheMaxAge time.Duration

	// Rate limit policy for remember-me verification per client IP.
	// Defaults: max=20, window=15m, lockout=15m.
	RateBruteForceMax     int
	RateBruteForceWindow  time.Duration
	RateBruteForceLockout time.Duration

	// Rate limit policy for login attempts per email.
	// Defaults: max=10, window=10m, lockout=15m.
	RateLoginEmailMax     int
	RateLoginEmailWindow  time.Duration
	RateLoginEmailLockout time.Duration

	// Registration password complexity rules. All default off.
	PasswordRequireUpper   bool
	PasswordRequireDigit   bool
	PasswordRequireSpecial bool
}

// LoadDotEnv seeds the environment from a .env file in the working directory.
// A missing file is not an error; variables already set win over the file.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}
	return nil
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables (DATABASE_URL, REDIS_URL) are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	// Default to 3000
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "3000"
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.Production = strings.EqualFold(os.Getenv("APP_ENV"), "production")

	cfg.SessionTTL = envDuration("SESSION_TTL", 24*time.Hour)
	cfg.UserCacheSize = envInt("USER_CACHE_SIZE", 50)
	cfg.UserCacheMaxAge = envDuration("USER_CACHE_MAX_AGE", 24*time.Hour)

	// Rate limits. A missing or invalid field falls back to its default so a
	// misconfigured env doesn't silently disable rate limiting.
	cfg.RateBruteForceMax = envInt("RATE_BRUTEFORCE_MAX", 20)
	cfg.RateBruteForceWindow = envDuration("RATE_BRUTEFORCE_WINDOW", 15*time.Minute)
	cfg.RateBruteForceLockout = envDuration("RATE_BRUTEFORCE_LOCKOUT", 15*time.Minute)

	cfg.RateLoginEmailMax = envInt("RATE_LOGIN_EMAIL_MAX", 10)
	cfg.RateLoginEmailWindow = envDuration("RATE_LOGIN_EMAIL_WINDOW", 10*time.Minute)
	cfg.RateLoginEmailLockout = envDuration("RATE_LOGIN_EMAIL_LOCKOUT", 15*time.Minute)

	cfg.PasswordRequireUpper = envBool("PASSWORD_REQUIRE_UPPER")
	cfg.PasswordRequireDigit = envBool("PASSWORD_REQUIRE_DIGIT")
	cfg.PasswordRequireSpecial = envBool("PASSWORD_REQUIRE_SPECIAL")

	return cfg, nil
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envBool reads an env var as bool, false if missing or unparseable.
func envBool(key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", false)
		return false
	}
	return b
}
