// Package auth authenticates dashboard users with Google ID tokens.
// Tokens are verified against Google's JWKS and the email must be on the
// configured allow-list.
package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing ID token claims.
	ClaimsKey contextKey = "claims"
)

// Claims is the subset of a Google ID token the gateway reads.
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	HostedDomain  string `json:"hd,omitempty"`
}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetClaims retrieves claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetEmailFromContext returns the lower-cased email of the authenticated
// user, or "" when the request is anonymous.
func GetEmailFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return strings.ToLower(claims.Email)
}
