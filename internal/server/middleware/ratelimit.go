package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/dugong-app/dugong/internal/ratelimit"
)

// LoginThrottle returns an HTTP middleware that limits login attempts per IP
// address to the specified number per minute. Uses a sliding window
// algorithm. A non-positive limit disables it.
func LoginThrottle(attemptsPerMinute int) func(http.Handler) http.Handler {
	if attemptsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		attemptsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeAuthError(w, http.StatusTooManyRequests, "Too many login attempts. Try again in a minute.")
		}),
	)
}

// RateLimit returns an HTTP middleware that applies the tiered request
// limits, keyed by client address, to every request. The caller's tier comes
// from the Principal set by Identify. Counter failures fail open.
func RateLimit(limiter *ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			level := GetPrincipal(r.Context()).Level()

			d, err := limiter.CheckAndIncrement(r.Context(), ClientIP(r), level)
			if err != nil {
				logger.Warn("rate limiter unavailable", "error", err, "request_id", GetRequestID(r.Context()))
				next.ServeHTTP(w, r)
				return
			}

			if d.Limited {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
				remaining := d.Limit - d.Count
				if remaining < 0 || !d.Allowed {
					remaining = 0
				}
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
				if !d.ResetAt.IsZero() {
					w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
				}
			}

			if !d.Allowed {
				if !d.ResetAt.IsZero() {
					secs := math.Ceil(time.Until(d.ResetAt).Seconds())
					if secs < 1 {
						secs = 1
					}
					w.Header().Set("Retry-After", strconv.FormatFloat(secs, 'f', 0, 64))
				}
				writeAuthError(w, http.StatusTooManyRequests, d.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of r.RemoteAddr, which chi's RealIP
// middleware may already have rewritten from forwarding headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
