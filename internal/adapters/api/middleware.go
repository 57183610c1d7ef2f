package api

import (
	"crypto/hmac"
	"net"
	"net/http"

	"github.com/squarepro/licensing/internal/core/domain"
	"github.com/squarepro/licensing/internal/core/ports"
)

// AdminAuth gates operator routes on a shared X-Admin-Token header. The
// comparison is constant time.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "Forbidden: admin access not configured", http.StatusForbidden)
				return
			}
			got := r.Header.Get("X-Admin-Token")
			if got == "" || !hmac.Equal([]byte(got), []byte(token)) {
				http.Error(w, "Unauthorized: invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit rejects requests when the caller's IP exceeds the limiter's
// budget.
func RateLimit(limiter ports.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow(r.Context(), clientIP(r)) {
				writeJSON(w, http.StatusTooManyRequests, reasonResponse{OK: false, Reason: domain.ReasonRateLimited})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
