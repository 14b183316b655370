// Package authmw provides HTTP middleware for bearer token and OIDC
// authentication. Authenticated reviewer identities travel in the request
// context.
package authmw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

type reviewerKey struct{}

// WithReviewer attaches an authenticated reviewer identity to ctx.
func WithReviewer(ctx context.Context, reviewer string) context.Context {
	if reviewer == "" {
		return ctx
	}
	return context.WithValue(ctx, reviewerKey{}, reviewer)
}

// ReviewerFromContext returns the authenticated reviewer, if any.
func ReviewerFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(reviewerKey{}).(string)
	return v, ok && v != ""
}

// BearerToken returns middleware that validates the Authorization header
// contains a Bearer token matching the expected value. Comparison uses
// constant-time equality. The static token carries no identity.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearer(r)
			if !ok {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, bearerPrefix) {
		return "", false
	}
	return auth[len(bearerPrefix):], true
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
