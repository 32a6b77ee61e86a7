package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/mangatracker/internal/auth"
	"github.com/MGallo-Code/mangatracker/internal/cache"
	"github.com/MGallo-Code/mangatracker/internal/config"
	"github.com/MGallo-Code/mangatracker/internal/session"
	"github.com/MGallo-Code/mangatracker/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// .env is a development convenience; real env vars win.
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (ps, rdb) always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// newAuthHandler builds the handler and its process-wide identity cache from cfg.
func newAuthHandler(cfg *config.Config, ps auth.Store, rs auth.HealthChecker, sm auth.SessionManager, rl auth.RateLimiter) *auth.AuthHandler {
	return &auth.AuthHandler{
		PS: ps,
		RS: rs,
		SM: sm,
		RL: rl,
		Users: cache.NewUsers(cache.Config{
			Capacity: cfg.UserCacheSize,
			MaxAge:   cfg.UserCacheMaxAge,
		}),
		SecureCookies: cfg.Production,
		BruteForcePolicy: store.RateLimit{
			MaxAttempts: cfg.RateBruteForceMax,
			Window:      cfg.RateBruteForceWindow,
			LockoutTTL:  cfg.RateBruteForceLockout,
		},
		LoginPolicy: store.RateLimit{
			MaxAttempts: cfg.RateLoginEmailMax,
			Window:      cfg.RateLoginEmailWindow,
			LockoutTTL:  cfg.RateLoginEmailLockout,
		},
		PasswordPolicy: auth.PasswordPolicy{
			RequireUppercase: cfg.PasswordRequireUpper,
			RequireDigit:     cfg.PasswordRequireDigit,
			RequireSpecial:   cfg.PasswordRequireSpecial,
		},
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (ps.Close, rdb.Close) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create shared Redis client; sessions and rate limits share one connection pool.
	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()

	rs := store.NewRedisStore(rdb)
	rl := store.NewRedisRateLimiter(rdb)
	sm := session.NewManager(rs, cfg.SessionTTL, cfg.Production)
	h := newAuthHandler(cfg, ps, rs, sm, rl)

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h, sm)}

	// Expired auth token cleanup goroutine, runs every 24h.
	// Cancelled via cleanupCtx when run() returns.
	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := ps.DeleteExpiredAuthTokens(cleanupCtx)
				if err != nil {
					slog.Warn("auth token cleanup failed", "error", err)
				} else {
					slog.Info("auth token cleanup complete", "deleted", n)
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("mangatracker listening", "addr", ln.Addr().String())
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting new conns, then waits for in-flight requests up to the timeout.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and smoke tests.
func buildRouter(h *auth.AuthHandler, sm *session.Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.CheckHealth)

	r.Route("/api", func(r chi.Router) {
		// Session must load before CheckAuth reads it.
		r.Use(sm.Middleware)
		r.Use(h.CheckAuth)

		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Post("/logout-all", h.LogoutAll)
		r.Post("/settings/theme", h.SetTheme)

		r.Group(func(r chi.Router) {
			r.Use(h.RequiresUser)
			r.Get("/user", h.CurrentUser)
		})
	})

	return r
}
