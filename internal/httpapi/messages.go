package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/r3e-network/acn/internal/a2a"
	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/middleware"
	"github.com/r3e-network/acn/internal/router"
)

// messagePayload is the wire shape of an outbound message body: a text part
// and/or a structured data part (spec §4.4, the A2A discriminated part
// union).
type messagePayload struct {
	Text string         `json:"text"`
	Data map[string]any `json:"data"`
}

func (p messagePayload) toMessage() a2a.Message {
	var parts []a2a.Part
	if p.Text != "" {
		parts = append(parts, a2a.NewTextPart(p.Text))
	}
	if p.Data != nil {
		parts = append(parts, a2a.NewDataPart(p.Data))
	}
	return a2a.NewMessage(a2a.RoleAgent, parts...)
}

type sendMessageRequest struct {
	FromAgent string         `json:"from_agent" binding:"required"`
	ToAgent   string         `json:"to_agent"`
	Skills    []string       `json:"skills"`
	Message   messagePayload `json:"message" binding:"required"`
}

// sendMessage implements spec §4.4 point-to-point routing, falling back to
// skill-based discovery routing when to_agent is omitted.
func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	if err := middleware.CheckFromAgent(c, req.FromAgent); err != nil {
		middleware.RespondError(c, err)
		return
	}

	var (
		result *a2a.DeliverResult
		err    error
	)
	if req.ToAgent != "" {
		result, err = s.Router.Route(c.Request.Context(), req.FromAgent, req.ToAgent, req.Message.toMessage())
	} else if len(req.Skills) > 0 {
		result, err = s.Router.RouteBySkill(c.Request.Context(), req.FromAgent, req.Skills, req.Message.toMessage())
	} else {
		middleware.RespondError(c, errors.ValidationError("to_agent", "either to_agent or skills is required"))
		return
	}
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type broadcastRequest struct {
	FromAgent string                   `json:"from_agent" binding:"required"`
	ToAgents  []string                 `json:"to_agents"`
	Message   messagePayload           `json:"message" binding:"required"`
	Strategy  router.BroadcastStrategy `json:"strategy"`
}

// broadcastMessage implements spec §4.4 Broadcast.
func (s *Server) broadcastMessage(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	if err := middleware.CheckFromAgent(c, req.FromAgent); err != nil {
		middleware.RespondError(c, err)
		return
	}
	result, err := s.Router.Broadcast(c.Request.Context(), req.FromAgent, req.ToAgents, req.Message.toMessage(), req.Strategy)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	s.Metrics.BroadcastFanOut.Observe(float64(len(req.ToAgents)))
	c.JSON(http.StatusOK, result)
}

type broadcastBySkillRequest struct {
	FromAgent string                   `json:"from_agent" binding:"required"`
	Skills    []string                 `json:"skills" binding:"required"`
	Message   messagePayload           `json:"message" binding:"required"`
	Strategy  router.BroadcastStrategy `json:"strategy"`
}

// broadcastBySkill implements spec §4.4 "send_by_skill".
func (s *Server) broadcastBySkill(c *gin.Context) {
	var req broadcastBySkillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	if err := middleware.CheckFromAgent(c, req.FromAgent); err != nil {
		middleware.RespondError(c, err)
		return
	}
	result, err := s.Router.BroadcastBySkill(c.Request.Context(), req.FromAgent, req.Skills, req.Message.toMessage(), req.Strategy)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getBroadcastResult retrieves a persisted broadcast outcome by id.
func (s *Server) getBroadcastResult(c *gin.Context) {
	result, err := s.Router.GetBroadcastResult(c.Request.Context(), c.Param("broadcast_id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// messageHistory returns the per-agent message log, newest first.
func (s *Server) messageHistory(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	entries, err := s.Router.History(c.Request.Context(), c.Param("agent_id"), limit)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toMessageLogEntryViews(entries))
}

// retryDLQ implements spec §4.4 "Dead-letter retry". Operator-only.
func (s *Server) retryDLQ(c *gin.Context) {
	maxRetries := queryInt(c, "max_retries", 3)
	retried, dropped, err := s.Router.RetryDLQ(c.Request.Context(), maxRetries)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"retried": retried, "dropped": dropped})
}
