package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stepflow/pkg/auth"
	"stepflow/pkg/response"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !h.signer.Enabled() {
		response.BadRequest(c, "authentication is disabled")
		return
	}

	if req.Username != h.jwt.AdminUser || h.jwt.AdminPassword == "" || !auth.CheckPassword(req.Password, h.jwt.AdminPassword) {
		h.logger.Warn("login rejected", zap.String("username", req.Username), zap.String("ip", c.ClientIP()))
		response.Unauthorized(c, "invalid username or password")
		return
	}

	token, err := h.signer.GenerateToken(req.Username)
	if err != nil {
		response.InternalServerError(c, "failed to issue token")
		return
	}
	response.SuccessWithMessage(c, "login succeeded", LoginResponse{Token: token, Username: req.Username})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, response.Response{
		Code:    http.StatusOK,
		Message: "success",
		Data: gin.H{
			"status":      "healthy",
			"timestamp":   time.Now().Format(time.RFC3339),
			"runningRuns": h.runs.Executor().RunningCount(),
			"agents":      h.hub.Agents(),
		},
	})
}
