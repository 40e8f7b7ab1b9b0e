package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/r3e-network/acn/internal/a2a"
	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/middleware"
	"github.com/r3e-network/acn/internal/registry"
)

type registerAgentRequest struct {
	Owner       string         `json:"owner" binding:"required"`
	Name        string         `json:"name" binding:"required"`
	Endpoint    string         `json:"endpoint" binding:"required"`
	Skills      []string       `json:"skills"`
	SubnetIDs   []string       `json:"subnet_ids"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	Card        *a2a.AgentCard `json:"card"`
}

// registerAgent implements spec §4.2 Register (platform-managed).
func (s *Server) registerAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	a, err := s.Registry.Register(c.Request.Context(), registry.RegisterParams{
		Owner:       req.Owner,
		Name:        req.Name,
		Endpoint:    req.Endpoint,
		Skills:      req.Skills,
		SubnetIDs:   req.SubnetIDs,
		Description: req.Description,
		Metadata:    req.Metadata,
		Card:        req.Card,
	})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	s.Metrics.AgentsRegisteredTotal.WithLabelValues("register").Inc()
	c.JSON(http.StatusCreated, toAgentView(a))
}

type joinAgentRequest struct {
	Name       string `json:"name" binding:"required"`
	Endpoint   string `json:"endpoint"`
	ReferrerID string `json:"referrer_id"`
}

// joinAgent implements spec §4.2 Join (autonomous): the plaintext API key
// is returned once, here, and never again.
func (s *Server) joinAgent(c *gin.Context) {
	var req joinAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	a, apiKey, err := s.Registry.Join(c.Request.Context(), req.Name, req.Endpoint, req.ReferrerID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	s.Metrics.AgentsRegisteredTotal.WithLabelValues("join").Inc()
	c.JSON(http.StatusCreated, gin.H{
		"agent":             toAgentView(a),
		"api_key":           apiKey,
		"verification_code": a.VerificationCode,
	})
}

// searchAgents implements spec §4.2 Search.
func (s *Server) searchAgents(c *gin.Context) {
	p := registry.SearchParams{
		Skills:     c.QueryArray("skills"),
		SubnetID:   c.Query("subnet_id"),
		Owner:      c.Query("owner"),
		NameSubstr: c.Query("name"),
	}
	if status := c.Query("status"); status != "" {
		p.Status = agent.Status(status)
	}
	as, err := s.Registry.Search(c.Request.Context(), p)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAgentViews(as))
}

// getAgent returns a single agent by id.
func (s *Server) getAgent(c *gin.Context) {
	a, err := s.Registry.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAgentView(a))
}

// heartbeatAgent implements spec §4.2 Heartbeat. Self-action only: an agent
// may only heartbeat itself.
func (s *Server) heartbeatAgent(c *gin.Context) {
	if err := s.Registry.Heartbeat(c.Request.Context(), c.Param("agent_id")); err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type ownerScopedRequest struct {
	Owner string `json:"owner" binding:"required"`
}

// unregisterAgent implements spec §4.2 Unregister: owner must match.
func (s *Server) unregisterAgent(c *gin.Context) {
	var req ownerScopedRequest
	_ = c.ShouldBindJSON(&req)
	if err := s.Registry.Unregister(c.Request.Context(), c.Param("agent_id"), req.Owner); err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type claimAgentRequest struct {
	NewOwner string `json:"new_owner" binding:"required"`
	Code     string `json:"code"`
}

// claimAgent implements spec §4.2 Claim.
func (s *Server) claimAgent(c *gin.Context) {
	var req claimAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	a, err := s.Registry.Claim(c.Request.Context(), c.Param("agent_id"), req.NewOwner, req.Code)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAgentView(a))
}

type transferAgentRequest struct {
	CallerOwner string `json:"caller_owner" binding:"required"`
	NewOwner    string `json:"new_owner" binding:"required"`
}

// transferAgent implements spec §4.2 Transfer.
func (s *Server) transferAgent(c *gin.Context) {
	var req transferAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	a, err := s.Registry.Transfer(c.Request.Context(), c.Param("agent_id"), req.CallerOwner, req.NewOwner)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAgentView(a))
}

// releaseAgent implements spec §4.2 Release.
func (s *Server) releaseAgent(c *gin.Context) {
	var req ownerScopedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	if err := s.Registry.Release(c.Request.Context(), c.Param("agent_id"), req.Owner); err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type bindOnChainIdentityRequest struct {
	Owner          string `json:"owner" binding:"required"`
	ChainNamespace string `json:"chain_namespace" binding:"required"`
	TokenID        string `json:"token_id" binding:"required"`
	TxHash         string `json:"tx_hash"`
}

// bindOnChainIdentity implements spec §3 invariant iv: binds an
// ERC-8004-style on-chain identity to an agent, rejecting a token id
// already bound to a different agent.
func (s *Server) bindOnChainIdentity(c *gin.Context) {
	var req bindOnChainIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	a, err := s.Registry.BindOnChainIdentity(c.Request.Context(), c.Param("agent_id"), req.Owner, req.ChainNamespace, req.TokenID, req.TxHash)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAgentView(a))
}

// findTasksForAgent implements the task-engine "search-for-agent" operation
// (spec §4.5), keyed off an agent's registered skills.
func (s *Server) findTasksForAgent(c *gin.Context) {
	a, err := s.Registry.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	limit := queryInt(c, "limit", 20)
	ts, err := s.Tasks.FindForAgent(c.Request.Context(), setToSlice(a.Skills), limit)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskViews(ts))
}
