package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stepflow/internal/api/handlers"
	"stepflow/internal/api/middleware"
	"stepflow/pkg/auth"
)

func SetupRoutes(h *handlers.Handler, signer *auth.Signer, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(requestLogger(logger))
	router.Use(middleware.CORSMiddleware())
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/login", h.Login)
		v1.GET("/health", h.HealthCheck)

		requireAuth := middleware.AuthMiddleware(signer)

		// Websockets authenticate with ?token= since browsers cannot set
		// headers on an upgrade.
		v1.GET("/ws/recording", requireAuth, h.RecordingWebSocket)
		v1.GET("/ws/agent", requireAuth, h.AgentWebSocket)

		protected := v1.Group("")
		protected.Use(requireAuth)
		{
			workflows := protected.Group("/workflows")
			{
				workflows.GET("", h.ListWorkflows)
				workflows.POST("", h.CreateWorkflow)
				workflows.POST("/import", h.ImportWorkflow)
				workflows.GET("/:id", h.GetWorkflow)
				workflows.PUT("/:id", h.UpdateWorkflow)
				workflows.DELETE("/:id", h.DeleteWorkflow)
				workflows.GET("/:id/export", h.ExportWorkflow)
				workflows.POST("/:id/run", h.RunWorkflow)
				workflows.GET("/:id/runs", h.ListRuns)
			}

			runs := protected.Group("/runs")
			{
				runs.GET("/:id", h.GetRun)
				runs.POST("/:id/cancel", h.CancelRun)
			}

			recording := protected.Group("/recording")
			{
				recording.POST("/start", h.StartRecording)
				recording.POST("/stop", h.StopRecording)
				recording.GET("/status", h.GetRecordingStatus)
			}

			protected.GET("/agents", h.ListAgents)
		}
	}

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}
