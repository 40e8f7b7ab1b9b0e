package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/r3e-network/acn/internal/domain/agent"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/gateway"
	"github.com/r3e-network/acn/internal/middleware"
)

type createSubnetRequest struct {
	SubnetID   string `json:"subnet_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Owner      string `json:"owner" binding:"required"`
	IsPrivate  bool   `json:"is_private"`
	SchemeName string `json:"scheme_name"`
	SchemeType string `json:"scheme_type"`
}

// createSubnet implements spec §4.3 "Subnet management: create-subnet
// returns the generated secret token (once)".
func (s *Server) createSubnet(c *gin.Context) {
	var req createSubnetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	result, err := s.Gateway.CreateSubnet(c.Request.Context(), gateway.CreateSubnetParams{
		SubnetID:   req.SubnetID,
		Name:       req.Name,
		Owner:      req.Owner,
		IsPrivate:  req.IsPrivate,
		SchemeName: req.SchemeName,
		SchemeType: agent.SchemeType(req.SchemeType),
	})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"subnet": toSubnetView(result.Subnet),
		"secret": result.Secret,
	})
}

// listSubnets returns the subnets owned by the owner query parameter.
func (s *Server) listSubnets(c *gin.Context) {
	subs, err := s.Gateway.ListSubnets(c.Request.Context(), c.Query("owner"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubnetViews(subs))
}

// getSubnet returns a single subnet by id.
func (s *Server) getSubnet(c *gin.Context) {
	sub, err := s.Gateway.GetSubnet(c.Request.Context(), c.Param("subnet_id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubnetView(sub))
}

// deleteSubnet implements spec §4.3 "Delete-subnet refuses if connections
// exist unless forced".
func (s *Server) deleteSubnet(c *gin.Context) {
	force := queryBool(c, "force", false)
	if err := s.Gateway.DeleteSubnet(c.Request.Context(), c.Param("subnet_id"), force); err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type subnetMembershipRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// joinSubnet adds the caller's agent to a subnet's membership set.
// Self-action only: an agent may only join itself.
func (s *Server) joinSubnet(c *gin.Context) {
	var req subnetMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	if err := middleware.CheckFromAgent(c, req.AgentID); err != nil {
		middleware.RespondError(c, err)
		return
	}
	sub, err := s.Gateway.JoinSubnet(c.Request.Context(), c.Param("subnet_id"), req.AgentID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubnetView(sub))
}

// leaveSubnet removes the caller's agent from a subnet's membership set.
func (s *Server) leaveSubnet(c *gin.Context) {
	var req subnetMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	if err := middleware.CheckFromAgent(c, req.AgentID); err != nil {
		middleware.RespondError(c, err)
		return
	}
	sub, err := s.Gateway.LeaveSubnet(c.Request.Context(), c.Param("subnet_id"), req.AgentID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubnetView(sub))
}
