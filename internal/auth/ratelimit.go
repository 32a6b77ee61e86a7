// ratelimit.go -- Brute-force gate for remember-me verification.
package auth

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/MGallo-Code/mangatracker/internal/store"
)

// clientIP returns the host part of r.RemoteAddr. chi's RealIP middleware has
// already replaced it with the forwarded address when behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bruteForceGate records one verification attempt for the client IP.
// On rejection it writes 429 to w and returns outcomeRateLimited; limiter failures
// return outcomeGateFailed with the error. A zero outcome means proceed.
func (h *AuthHandler) bruteForceGate(ctx context.Context, w http.ResponseWriter, r *http.Request) (verifyOutcome, error) {
	err := h.RL.Allow(ctx, "bruteforce:ip:"+clientIP(r), h.BruteForcePolicy)
	if err == nil {
		return outcomeAuthenticated, nil
	}
	if errors.Is(err, store.ErrRateLimitExceeded) {
		logWarn(r, "auth cookie verification rate limited")
		TooManyRequests(w)
		return outcomeRateLimited, nil
	}
	return outcomeGateFailed, err
}
