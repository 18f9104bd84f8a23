package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stepflow/pkg/response"
)

type StartRecordingRequest struct {
	Name  string `json:"name" binding:"max=200"`
	URL   string `json:"url" binding:"omitempty,url"`
	Agent string `json:"agent"`
}

func (h *Handler) StartRecording(c *gin.Context) {
	var req StartRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.URL == "" && req.Agent == "" {
		response.BadRequest(c, "url or agent is required")
		return
	}

	sess, err := h.recording.Start(c.Request.Context(), req.Name, req.URL, req.Agent)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "recording started", gin.H{
		"session_id":  sess.ID,
		"workflow_id": sess.WorkflowID,
	})
}

func (h *Handler) StopRecording(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	wf, err := h.recording.Stop(c.Request.Context(), req.SessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "recording stopped", wf)
}

func (h *Handler) GetRecordingStatus(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.BadRequest(c, "session_id is required")
		return
	}

	sess, err := h.recording.Get(sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"is_recording": sess.IsRecording(),
		"workflow_id":  sess.WorkflowID,
		"steps":        sess.Steps(),
	})
}

// RecordingWebSocket streams the steps of a session as they are captured.
func (h *Handler) RecordingWebSocket(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.BadRequest(c, "session_id is required")
		return
	}
	if _, err := h.recording.Get(sessionID); err != nil {
		h.fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := h.recording.Subscribe(sessionID, conn); err != nil {
		conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	defer h.recording.Unsubscribe(sessionID, conn)

	// Reads only detect the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debug("recording stream closed", zap.String("session", sessionID), zap.Error(err))
			return
		}
	}
}
