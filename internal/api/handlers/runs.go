package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"stepflow/internal/models"
	"stepflow/internal/services"
	"stepflow/internal/store"
	"stepflow/pkg/response"
)

type RunRequest struct {
	// Agent names a connected remote agent; empty runs in a local tab.
	Agent string `json:"agent"`
}

// RunWorkflow starts a replay in the background and returns the pending run.
func (h *Handler) RunWorkflow(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	run, err := h.runs.Start(c.Request.Context(), c.Param("id"), services.TriggerManual, req.Agent)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.fail(c, err)
			return
		}
		response.BadRequest(c, err.Error())
		return
	}
	response.Accepted(c, run)
}

func (h *Handler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.store.ListRuns(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, runs)
}

func parseRunID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid run id")
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) GetRun(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}
	run, err := h.store.GetRun(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, run)
}

func (h *Handler) CancelRun(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}
	run, err := h.store.GetRun(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if run.Status != models.RunRunning && run.Status != models.RunPending {
		response.BadRequest(c, "only pending or running runs can be cancelled")
		return
	}
	if !h.runs.Executor().Cancel(id) {
		response.Conflict(c, "run is not executing in this process")
		return
	}
	response.SuccessWithMessage(c, "run cancelled", nil)
}
