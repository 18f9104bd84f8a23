package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stepflow/internal/config"
	"stepflow/internal/recorder"
	"stepflow/internal/services"
	"stepflow/internal/store"
	"stepflow/pkg/auth"
	"stepflow/pkg/response"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves the HTTP API on top of the orchestrator services.
type Handler struct {
	store     *store.Store
	hub       *services.Hub
	recording *services.RecordingService
	runs      *services.RunService
	scheduler *services.SchedulerService
	signer    *auth.Signer
	jwt       config.JWTConfig
	logger    *zap.Logger
}

type Deps struct {
	Store     *store.Store
	Hub       *services.Hub
	Recording *services.RecordingService
	Runs      *services.RunService
	Scheduler *services.SchedulerService
	Signer    *auth.Signer
	JWT       config.JWTConfig
	Logger    *zap.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		store:     d.Store,
		hub:       d.Hub,
		recording: d.Recording,
		runs:      d.Runs,
		scheduler: d.Scheduler,
		signer:    d.Signer,
		jwt:       d.JWT,
		logger:    d.Logger,
	}
}

// fail maps a service error to a response.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrAgentNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, recorder.ErrBusy):
		response.Conflict(c, err.Error())
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.InternalServerError(c, err.Error())
	}
}

func pagination(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}
