package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"stepflow/internal/models"
	"stepflow/internal/services"
	"stepflow/internal/store"
	"stepflow/pkg/response"
)

type WorkflowRequest struct {
	Name     string        `json:"name" binding:"required,min=1,max=200"`
	StartURL string        `json:"startUrl" binding:"omitempty,url"`
	Steps    []models.Step `json:"steps"`
	SlowMode bool          `json:"slowMode"`
	Schedule string        `json:"schedule" binding:"max=100"`
}

func validateSteps(steps []models.Step) error {
	for i, step := range steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func (r WorkflowRequest) validate() error {
	if err := validateSteps(r.Steps); err != nil {
		return err
	}
	return services.ValidSchedule(r.Schedule)
}

func (h *Handler) ListWorkflows(c *gin.Context) {
	page, pageSize := pagination(c)
	workflows, total, err := h.store.ListWorkflows(c.Request.Context(), store.ListOptions{
		Page:     page,
		PageSize: pageSize,
		Status:   models.WorkflowStatus(c.Query("status")),
		Name:     c.Query("name"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Page(c, workflows, total, page, pageSize)
}

func (h *Handler) CreateWorkflow(c *gin.Context) {
	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	wf := &models.Workflow{
		Name:     req.Name,
		StartURL: req.StartURL,
		Steps:    req.Steps,
		SlowMode: req.SlowMode,
		Schedule: req.Schedule,
		Status:   models.WorkflowActive,
	}
	if err := h.store.CreateWorkflow(c.Request.Context(), wf); err != nil {
		h.fail(c, err)
		return
	}
	h.schedule(*wf)
	response.SuccessWithMessage(c, "workflow created", wf)
}

func (h *Handler) GetWorkflow(c *gin.Context) {
	wf, err := h.store.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, wf)
}

func (h *Handler) UpdateWorkflow(c *gin.Context) {
	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	wf, err := h.store.GetWorkflow(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if wf.Status == models.WorkflowDraft {
		response.Conflict(c, "workflow is still being recorded")
		return
	}

	wf.Name = req.Name
	wf.StartURL = req.StartURL
	wf.SlowMode = req.SlowMode
	wf.Schedule = req.Schedule
	if req.Steps != nil {
		wf.Steps = req.Steps
		// Edited steps have not been replayed yet.
		wf.Status = models.WorkflowActive
	}
	if err := h.store.UpdateWorkflow(ctx, wf); err != nil {
		h.fail(c, err)
		return
	}
	h.schedule(*wf)
	response.SuccessWithMessage(c, "workflow updated", wf)
}

func (h *Handler) DeleteWorkflow(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.DeleteWorkflow(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.scheduler.Unschedule(id)
	response.SuccessWithMessage(c, "workflow deleted", nil)
}

func (h *Handler) ExportWorkflow(c *gin.Context) {
	wf, err := h.store.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="workflow-%s.json"`, wf.ID))
	c.JSON(200, wf.Export())
}

// ImportWorkflow stores an exported document as a new workflow.
func (h *Handler) ImportWorkflow(c *gin.Context) {
	var doc models.Export
	if err := c.ShouldBindJSON(&doc); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if doc.Name == "" {
		response.BadRequest(c, "name is required")
		return
	}
	if err := validateSteps(doc.Steps); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	wf := &models.Workflow{
		Name:     doc.Name,
		StartURL: doc.StartURL,
		Steps:    doc.Steps,
		SlowMode: doc.SlowMode,
		Status:   models.WorkflowActive,
	}
	if err := h.store.CreateWorkflow(c.Request.Context(), wf); err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "workflow imported", wf)
}

func (h *Handler) schedule(wf models.Workflow) {
	if err := h.scheduler.Schedule(wf); err != nil {
		// Already validated; only a race with a concurrent edit lands here.
		h.logger.Sugar().Warnf("schedule workflow %s: %v", wf.ID, err)
	}
}
