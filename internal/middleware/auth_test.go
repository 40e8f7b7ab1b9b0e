package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAgentLookup struct {
	byKey map[string]*agent.Agent
}

func (f *fakeAgentLookup) GetByAPIKey(_ context.Context, apiKey string) (*agent.Agent, error) {
	return f.byKey[apiKey], nil
}

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	return r
}

func TestCallerAuthResolvesAgentAPIKey(t *testing.T) {
	lookup := &fakeAgentLookup{byKey: map[string]*agent.Agent{
		"acn_validkey": {AgentID: "agent-1", APIKey: "acn_validkey"},
	}}

	r := newTestRouter(CallerAuth(lookup, nil))
	r.GET("/whoami", func(c *gin.Context) {
		id, ok := IdentityFromGin(c)
		require.True(t, ok)
		require.Equal(t, KindAgent, id.Kind)
		require.Equal(t, "agent-1", id.AgentID)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer acn_validkey")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCallerAuthRejectsUnknownAPIKey(t *testing.T) {
	lookup := &fakeAgentLookup{byKey: map[string]*agent.Agent{}}

	r := newTestRouter(CallerAuth(lookup, nil))
	r.GET("/whoami", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer acn_unknown")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid API key")
}

func TestCallerAuthPassesThroughWithNoCredential(t *testing.T) {
	lookup := &fakeAgentLookup{byKey: map[string]*agent.Agent{}}

	r := newTestRouter(CallerAuth(lookup, nil))
	r.GET("/public", func(c *gin.Context) {
		_, ok := IdentityFromGin(c)
		require.False(t, ok)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/public", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSelfAgentRejectsMismatch(t *testing.T) {
	lookup := &fakeAgentLookup{byKey: map[string]*agent.Agent{
		"acn_validkey": {AgentID: "agent-1", APIKey: "acn_validkey"},
	}}

	r := newTestRouter(CallerAuth(lookup, nil))
	r.POST("/agents/:agent_id/heartbeat", RequireSelfAgent("agent_id"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/agents/someone-else/heartbeat", nil)
	req.Header.Set("Authorization", "Bearer acn_validkey")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireSelfAgentAllowsMatch(t *testing.T) {
	lookup := &fakeAgentLookup{byKey: map[string]*agent.Agent{
		"acn_validkey": {AgentID: "agent-1", APIKey: "acn_validkey"},
	}}

	r := newTestRouter(CallerAuth(lookup, nil))
	r.POST("/agents/:agent_id/heartbeat", RequireSelfAgent("agent_id"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/agents/agent-1/heartbeat", nil)
	req.Header.Set("Authorization", "Bearer acn_validkey")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOperatorAuthConstantTimeCompare(t *testing.T) {
	r := newTestRouter()
	r.POST("/dlq/retry", OperatorAuth("super-secret-token"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/dlq/retry", nil)
		req.Header.Set("X-Internal-Token", "super-secret-token")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/dlq/retry", nil)
		req.Header.Set("X-Internal-Token", "not-the-token")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/dlq/retry", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRateLimitRejectsOverBurst(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: 60, Burst: 1})

	r := newTestRouter(RateLimit(limiter))
	r.POST("/send", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/send", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec1 := httptest.NewRecorder()
	r.ServeHTTP(rec1, req)
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusTooManyRequests, rec2.Code)
}
