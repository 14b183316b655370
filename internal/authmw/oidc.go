package authmw

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/linnemanlabs/go-core/log"
)

// Identity is the verified subject of an ID token.
type Identity struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
}

// Reviewer picks the most readable stable name for audit columns.
func (i Identity) Reviewer() string {
	switch {
	case i.PreferredUsername != "":
		return i.PreferredUsername
	case i.Email != "":
		return i.Email
	default:
		return i.Subject
	}
}

// TokenVerifier verifies a raw bearer token and returns its identity.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, raw string) (Identity, error)
}

// OIDCVerifier verifies ID tokens against an OpenID Connect provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and builds a verifier for clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	if issuer == "" || clientID == "" {
		return nil, errors.New("oidc: issuer and client id are required")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc: discover %s: %w", issuer, err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// VerifyToken implements TokenVerifier.
func (v *OIDCVerifier) VerifyToken(ctx context.Context, raw string) (Identity, error) {
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, err
	}
	var id Identity
	if err := tok.Claims(&id); err != nil {
		return Identity{}, fmt.Errorf("oidc: decode claims: %w", err)
	}
	id.Subject = tok.Subject
	return id, nil
}

// OIDC returns middleware that requires a valid ID token and stores the
// reviewer identity in the request context.
func OIDC(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok || raw == "" {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			ctx := r.Context()
			id, err := v.VerifyToken(ctx, raw)
			if err != nil {
				log.FromContext(ctx).Warn(ctx, "oidc token rejected", "error", err)
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithReviewer(ctx, id.Reviewer())))
		})
	}
}
