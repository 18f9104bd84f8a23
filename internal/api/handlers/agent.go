package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stepflow/pkg/response"
)

func (h *Handler) ListAgents(c *gin.Context) {
	response.Success(c, h.hub.Agents())
}

// AgentWebSocket registers a remote page engine under the name query
// parameter for as long as the connection lasts.
func (h *Handler) AgentWebSocket(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		response.BadRequest(c, "name is required")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if err := h.hub.Serve(c.Request.Context(), name, conn); err != nil {
		h.logger.Info("agent connection ended", zap.String("agent", name), zap.Error(err))
	}
}
