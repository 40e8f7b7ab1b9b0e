package httpapi

import "github.com/gin-gonic/gin"

// gatewayTunnel upgrades GET /gateway/tunnel/:subnet_id/:agent_id to the
// persistent bidirectional channel described in spec §4.3: the connection
// lifecycle, subnet auth, and frame loop all live in internal/gateway.
// Mounted outside the bearer/API-key CallerAuth chain since private-subnet
// credentials are validated inside the upgrade handshake itself (spec §4.3
// point 2), not via the request-surface identity schemes.
func (s *Server) gatewayTunnel(c *gin.Context) {
	s.Gateway.ServeTunnel(c.Writer, c.Request, c.Param("subnet_id"), c.Param("agent_id"))
}
