// Package auth holds request principal plumbing for the gateway.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Principal identifies an authenticated caller.
type Principal struct {
	APIKey string
}

type ctxKey struct{}

// WithPrincipal attaches a principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom returns the principal stored in the context, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// ParseBearer extracts a bearer token from the Authorization header.
// Returns "" when the header is absent or not a bearer scheme.
func ParseBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
