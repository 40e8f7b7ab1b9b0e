// Package middleware implements the request surface's two caller identity
// schemes and the operator-token guard (spec §6 "Two identity schemes...").
// Grounded on teacher infrastructure/middleware/serviceauth.go, generalized
// from a single-service RS256 token to a JWKS-backed bearer scheme plus a
// separate agent API-key scheme.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

// Kind distinguishes which identity scheme authenticated a request.
type Kind string

const (
	KindAgent     Kind = "agent"
	KindPrincipal Kind = "principal"
	KindOperator  Kind = "operator"
)

// Identity is the authenticated caller attached to a request's context by
// CallerAuth or OperatorAuth.
type Identity struct {
	Kind Kind

	// AgentID is set for KindAgent: the agent_id owning the presented API key.
	AgentID string

	// Subject is set for KindPrincipal: the JWT "sub" claim.
	Subject string
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the authenticated caller, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// IdentityFromGin is a gin-context convenience wrapper around
// IdentityFromContext.
func IdentityFromGin(c *gin.Context) (Identity, bool) {
	return IdentityFromContext(c.Request.Context())
}

func setIdentity(c *gin.Context, id Identity) {
	c.Request = c.Request.WithContext(withIdentity(c.Request.Context(), id))
}
