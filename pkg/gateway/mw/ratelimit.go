package mw

import (
	"net/http"
	"strconv"

	"github.com/clara-health/prearrival/pkg/core"
	"github.com/clara-health/prearrival/pkg/gateway/auth"
	"github.com/clara-health/prearrival/pkg/gateway/ratelimit"
)

// RateLimit applies the token bucket limiter per caller. Health and metrics
// endpoints and CORS preflights are never limited.
func RateLimit(l *ratelimit.Limiter, onDenied func(), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := limiterKey(r)
		d := l.Allow(key)
		if !d.Allowed {
			if onDenied != nil {
				onDenied()
			}
			secs := int(d.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSONError(w, http.StatusTooManyRequests, core.NewRateLimitError("too many requests, slow down", secs))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func limiterKey(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return ratelimit.PrincipalKeyFromAPIKey(p.APIKey)
	}
	return ratelimit.FingerprintFromParts(r.Header.Get("X-Client-Id"), r.RemoteAddr)
}
