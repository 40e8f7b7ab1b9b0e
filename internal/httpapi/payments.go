package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/r3e-network/acn/internal/errors"
	"github.com/r3e-network/acn/internal/middleware"
	"github.com/r3e-network/acn/internal/payment"
)

// getPaymentCapability returns an agent's declared payment capability
// (spec §4.5 "A2A + AP2 fusion" discovery surface).
func (s *Server) getPaymentCapability(c *gin.Context) {
	a, err := s.Registry.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	cap, ok := a.Metadata["payment_capability"]
	if !ok {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, cap)
}

type setPaymentCapabilityRequest struct {
	Methods         []payment.Method  `json:"methods" binding:"required"`
	Networks        []payment.Network `json:"networks" binding:"required"`
	PreferredMethod payment.Method    `json:"preferred_method"`
}

// setPaymentCapability declares the caller agent's accepted payment
// methods/networks. Self-action only.
func (s *Server) setPaymentCapability(c *gin.Context) {
	var req setPaymentCapabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	cap := payment.NewCapability(req.Methods, req.Networks)
	if req.PreferredMethod != "" {
		cap.PreferredMethod = req.PreferredMethod
	}
	a, err := s.Registry.SetMetadataField(c.Request.Context(), c.Param("agent_id"), "payment_capability", cap)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAgentView(a))
}

// discoverPaymentAgents implements spec §4.5 payment discovery: "find all
// agents accepting USDC on Base network".
func (s *Server) discoverPaymentAgents(c *gin.Context) {
	method := payment.Method(c.Query("method"))
	network := payment.Network(c.Query("network"))
	if method == "" || network == "" {
		middleware.RespondError(c, errors.ValidationError("method/network", "both are required"))
		return
	}
	agents, err := s.Discovery.FindAgentsAcceptingPayment(c.Request.Context(), method, network)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAgentViews(agents))
}

type createPaymentTaskRequest struct {
	TaskID        string          `json:"task_id" binding:"required"`
	BuyerAgentID  string          `json:"buyer_agent_id" binding:"required"`
	SellerAgentID string          `json:"seller_agent_id" binding:"required"`
	Description   string          `json:"description"`
	Amount        string          `json:"amount" binding:"required"`
	Currency      string          `json:"currency" binding:"required"`
	Method        payment.Method  `json:"method" binding:"required"`
	Network       payment.Network `json:"network" binding:"required"`
}

// createPaymentTask fuses an A2A task with an AP2 payment request (spec
// §4.5 "A2A + AP2 fusion").
func (s *Server) createPaymentTask(c *gin.Context) {
	var req createPaymentTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondError(c, errors.ValidationError("body", err.Error()))
		return
	}
	if err := middleware.CheckFromAgent(c, req.BuyerAgentID); err != nil {
		middleware.RespondError(c, err)
		return
	}
	pt, err := s.Payments.CreatePaymentTask(c.Request.Context(), payment.CreateParams{
		TaskID:        req.TaskID,
		BuyerAgentID:  req.BuyerAgentID,
		SellerAgentID: req.SellerAgentID,
		Description:   req.Description,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Method:        req.Method,
		Network:       req.Network,
	})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPaymentTaskView(pt))
}

// getPaymentTask returns a single payment task by id.
func (s *Server) getPaymentTask(c *gin.Context) {
	pt, err := s.Payments.Get(c.Request.Context(), c.Param("payment_task_id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentTaskView(pt))
}

// retryPaymentTask re-fires the webhook event for a payment task's current
// status. Operator-only.
func (s *Server) retryPaymentTask(c *gin.Context) {
	pt, err := s.Payments.Retry(c.Request.Context(), c.Param("payment_task_id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentTaskView(pt))
}
