package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r3e-network/acn/internal/gateway"
	"github.com/r3e-network/acn/internal/logger"
	"github.com/r3e-network/acn/internal/metrics"
	"github.com/r3e-network/acn/internal/middleware"
	"github.com/r3e-network/acn/internal/payment"
	"github.com/r3e-network/acn/internal/ratelimit"
	"github.com/r3e-network/acn/internal/registry"
	"github.com/r3e-network/acn/internal/router"
	"github.com/r3e-network/acn/internal/storage"
	"github.com/r3e-network/acn/internal/taskengine"
	"github.com/r3e-network/acn/internal/webhook"
)

// Server bundles every collaborator the request surface calls into and
// builds the gin engine that serves it (spec §6 "Request surface").
type Server struct {
	Registry  *registry.Registry
	Gateway   *gateway.Gateway
	Router    *router.Router
	Tasks     *taskengine.Engine
	Payments  *payment.TaskManager
	Discovery *payment.DiscoveryService
	Webhooks  *webhook.Service
	Audit     storage.AuditRepository

	Metrics  *metrics.Metrics
	JWKS     *middleware.JWKSVerifier
	Limiters *ratelimit.Registry
	Log      *logger.Logger

	OperatorToken      string
	CORSAllowedOrigins []string
}

// Routes builds the gin engine with every route and middleware wired, the
// caller-facing counterpart to gateway.Gateway.HealthMux's operator-facing
// chi mux (internal/gateway/health.go).
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.Recovery(s.Log),
		middleware.RequestLogger(s.Log),
		middleware.SecurityHeaders(),
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.CORSAllowedOrigins}),
		middleware.HTTPMetrics(s.Metrics),
	)

	// Registered before CallerAuth is added, so the tunnel's subnet
	// credentials are checked only by the gateway's own handshake.
	r.GET("/gateway/tunnel/:subnet_id/:agent_id", s.gatewayTunnel)

	r.Use(middleware.CallerAuth(s.Registry, s.JWKS))

	agents := r.Group("/agents")
	{
		agents.POST("", s.registerAgent)
		agents.POST("/join", s.joinAgent)
		agents.GET("", s.searchAgents)
		agents.GET("/:agent_id", s.getAgent)
		agents.POST("/:agent_id/heartbeat", middleware.RequireSelfAgent("agent_id"), s.heartbeatAgent)
		agents.DELETE("/:agent_id", s.unregisterAgent)
		agents.POST("/:agent_id/claim", s.claimAgent)
		agents.POST("/:agent_id/transfer", s.transferAgent)
		agents.POST("/:agent_id/release", s.releaseAgent)
		agents.POST("/:agent_id/onchain-identity", s.bindOnChainIdentity)
		agents.GET("/:agent_id/tasks", s.findTasksForAgent)
	}

	subnets := r.Group("/subnets")
	{
		subnets.POST("", s.createSubnet)
		subnets.GET("", s.listSubnets)
		subnets.GET("/:subnet_id", s.getSubnet)
		subnets.DELETE("/:subnet_id", s.deleteSubnet)
		subnets.POST("/:subnet_id/join", s.joinSubnet)
		subnets.POST("/:subnet_id/leave", s.leaveSubnet)
	}

	messages := r.Group("/messages")
	{
		messages.POST("/send", middleware.RateLimit(s.Limiters.Send), s.sendMessage)
		messages.POST("/broadcast", middleware.RateLimit(s.Limiters.Broadcast), s.broadcastMessage)
		messages.POST("/broadcast-by-skill", middleware.RateLimit(s.Limiters.Broadcast), s.broadcastBySkill)
		messages.GET("/broadcast/:broadcast_id", s.getBroadcastResult)
		messages.GET("/history/:agent_id", s.messageHistory)
	}
	r.POST("/dlq/retry", middleware.OperatorAuth(s.OperatorToken), s.retryDLQ)

	tasks := r.Group("/tasks")
	{
		tasks.POST("", s.createTask)
		tasks.GET("", s.listTasks)
		tasks.GET("/:task_id", s.getTask)
		tasks.POST("/:task_id/accept", s.acceptTask)
		tasks.POST("/:task_id/join", s.joinTask)
		tasks.POST("/:task_id/submit", s.submitTask)
		tasks.POST("/:task_id/complete", s.completeTask)
		tasks.POST("/:task_id/reject", s.rejectTask)
		tasks.POST("/:task_id/cancel", s.cancelTask)
		tasks.GET("/:task_id/participations", s.listParticipationsByTask)
	}
	participations := r.Group("/participations")
	{
		participations.GET("", s.listParticipationsByParticipant)
		participations.POST("/:participation_id/cancel", s.cancelParticipation)
	}

	payments := r.Group("/payments")
	{
		payments.GET("/agents/:agent_id/capability", s.getPaymentCapability)
		payments.PUT("/agents/:agent_id/capability", middleware.RequireSelfAgent("agent_id"), s.setPaymentCapability)
		payments.GET("/discover", s.discoverPaymentAgents)
		payments.POST("/tasks", s.createPaymentTask)
		payments.GET("/tasks/:payment_task_id", s.getPaymentTask)
		payments.POST("/tasks/:payment_task_id/retry", middleware.OperatorAuth(s.OperatorToken), s.retryPaymentTask)
	}

	r.GET("/metrics", middleware.OperatorAuth(s.OperatorToken), gin.WrapH(promhttp.Handler()))
	r.GET("/dashboard", s.dashboard)
	r.GET("/audit", s.queryAudit)

	return r
}

// callerIdentity resolves the authenticated caller, used by handlers whose
// self-action check is against a body field (CheckFromAgent) rather than a
// path parameter (RequireSelfAgent).
func callerIdentity(c *gin.Context) (middleware.Identity, bool) {
	return middleware.IdentityFromGin(c)
}
