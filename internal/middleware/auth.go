package middleware

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/r3e-network/acn/internal/cache"
	"github.com/r3e-network/acn/internal/domain/agent"
	acnerrors "github.com/r3e-network/acn/internal/errors"
)

// agentAPIKeyPrefix identifies the agent API-key scheme on an otherwise
// ordinary "Authorization: Bearer ..." header (spec §6: "Bearer acn_...").
const agentAPIKeyPrefix = "acn_"

// AgentLookup resolves an agent API key, the one piece of registry.Registry
// the auth middleware needs. Kept as a narrow local interface rather than a
// direct *registry.Registry dependency, matching the teacher's small
// collaborator-interface idiom (registry.CredentialIssuer).
type AgentLookup interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*agent.Agent, error)
}

// apiKeyCacheTTL and apiKeyCacheSize match spec §5's agent-by-API-key cache:
// TTL 60s, capacity 10 000, evict on overflow.
const (
	apiKeyCacheTTL  = 60 * time.Second
	apiKeyCacheSize = 10_000
)

// CallerAuth builds the combined bearer-JWT / agent-API-key middleware for
// the caller-facing request surface (spec §6). It never rejects a missing
// credential itself — wrap routes that require a caller identity with
// RequireIdentity, or inspect IdentityFromGin directly for optional-auth
// endpoints (e.g. public agent search).
func CallerAuth(lookup AgentLookup, verifier *JWKSVerifier) gin.HandlerFunc {
	keyCache := cache.New[*agent.Agent](cache.Config{DefaultTTL: apiKeyCacheTTL, MaxSize: apiKeyCacheSize})

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			RespondError(c, acnerrors.Unauthenticated("malformed Authorization header"))
			return
		}

		if strings.HasPrefix(token, agentAPIKeyPrefix) {
			a, err := resolveAPIKey(c.Request.Context(), lookup, keyCache, token)
			if err != nil {
				RespondError(c, err)
				return
			}
			setIdentity(c, Identity{Kind: KindAgent, AgentID: a.AgentID})
			c.Next()
			return
		}

		if verifier == nil {
			RespondError(c, acnerrors.Unauthenticated("bearer token authentication is not configured"))
			return
		}
		claims, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			RespondError(c, err)
			return
		}
		subject, _ := claims["sub"].(string)
		setIdentity(c, Identity{Kind: KindPrincipal, Subject: subject})
		c.Next()
	}
}

func resolveAPIKey(ctx context.Context, lookup AgentLookup, keyCache *cache.Cache[*agent.Agent], apiKey string) (*agent.Agent, error) {
	if a, ok := keyCache.Get(apiKey); ok {
		return a, nil
	}
	a, err := lookup.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	// The repository resolves apiKey via its unique index, but spec §6 calls
	// for a constant-time comparison of the agent API-key scheme same as the
	// operator token scheme: re-verify the candidate's own key against what
	// was presented before trusting the lookup result.
	if a == nil || subtle.ConstantTimeCompare([]byte(a.APIKey), []byte(apiKey)) != 1 {
		return nil, acnerrors.Unauthenticated("invalid API key")
	}
	keyCache.Set(apiKey, a)
	return a, nil
}

// RequireIdentity rejects requests with no authenticated caller. Place
// after CallerAuth for routes that must be authenticated either as an agent
// or as a principal.
func RequireIdentity(c *gin.Context) {
	if _, ok := IdentityFromGin(c); !ok {
		RespondError(c, acnerrors.Unauthenticated("authentication required"))
		return
	}
	c.Next()
}

// RequireSelfAgent enforces spec §6's "agents may only act on themselves":
// the caller must be authenticated via the agent API-key scheme, and its
// agent_id must match the path parameter named paramName.
func RequireSelfAgent(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFromGin(c)
		if !ok || id.Kind != KindAgent {
			RespondError(c, acnerrors.PermissionDenied("agent API key required"))
			return
		}
		if id.AgentID != c.Param(paramName) {
			RespondError(c, acnerrors.PermissionDenied("agents may only act on themselves"))
			return
		}
		c.Next()
	}
}

// CheckFromAgent enforces the same self-action rule against a request
// body's `from_agent` field, for handlers where the acting agent is named
// in the body rather than the path (e.g. point-to-point send).
func CheckFromAgent(c *gin.Context, fromAgent string) error {
	id, ok := IdentityFromGin(c)
	if !ok || id.Kind != KindAgent {
		return acnerrors.PermissionDenied("agent API key required")
	}
	if id.AgentID != fromAgent {
		return acnerrors.PermissionDenied("agents may only act on themselves")
	}
	return nil
}

// OperatorAuth guards infrastructure endpoints (DLQ retry, Prometheus
// export, payment retry) with a constant-time-compared shared token (spec
// §6 "X-Internal-Token"), mirroring the teacher's constant-time token
// comparisons in infrastructure/serviceauth.
func OperatorAuth(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("X-Internal-Token"))
		if len(got) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			RespondError(c, acnerrors.Unauthenticated("operator token required"))
			return
		}
		setIdentity(c, Identity{Kind: KindOperator})
		c.Next()
	}
}
