package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stepflow/internal/models"
	"stepflow/internal/store"
)

var ErrSessionNotFound = errors.New("recording session not found")

// StepWriter receives the live step stream of a session; *websocket.Conn
// satisfies it.
type StepWriter interface {
	WriteJSON(v any) error
}

// StreamEvent is one message of the live step stream.
type StreamEvent struct {
	Type  string       `json:"type"` // step, stopped
	Step  *models.Step `json:"step,omitempty"`
	Index int          `json:"index,omitempty"`
}

// RecordingSession is one recording in progress against one page engine.
type RecordingSession struct {
	ID         string    `json:"sessionId"`
	WorkflowID string    `json:"workflowId"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Agent      string    `json:"agent,omitempty"`
	StartedAt  time.Time `json:"startedAt"`

	endpoint *Endpoint

	mu          sync.Mutex
	recording   bool
	steps       []models.Step
	subscribers map[StepWriter]struct{}
}

func (s *RecordingSession) Steps() []models.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Step(nil), s.steps...)
}

func (s *RecordingSession) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

func (s *RecordingSession) broadcast(logger *zap.Logger, ev StreamEvent) {
	for w := range s.subscribers {
		if err := w.WriteJSON(ev); err != nil {
			logger.Debug("dropping stream subscriber", zap.Error(err))
			delete(s.subscribers, w)
		}
	}
}

// RecordingService runs recording sessions and persists what they capture.
type RecordingService struct {
	store  *store.Store
	hub    *Hub
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*RecordingSession
}

func NewRecordingService(st *store.Store, hub *Hub, logger *zap.Logger) *RecordingService {
	return &RecordingService{
		store:    st,
		hub:      hub,
		logger:   logger,
		sessions: make(map[string]*RecordingSession),
	}
}

// Start creates an empty draft workflow and starts capturing into it.
func (rs *RecordingService) Start(ctx context.Context, name, url, agentName string) (*RecordingSession, error) {
	if name == "" {
		name = "Recording " + time.Now().Format("2006-01-02 15:04:05")
	}
	wf := &models.Workflow{Name: name, StartURL: url, Status: models.WorkflowDraft}
	if err := rs.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	sess := &RecordingSession{
		ID:          uuid.New().String(),
		WorkflowID:  wf.ID,
		Name:        name,
		URL:         url,
		Agent:       agentName,
		StartedAt:   time.Now(),
		steps:       make([]models.Step, 0),
		subscribers: make(map[StepWriter]struct{}),
	}
	logger := rs.logger.With(zap.String("session", sess.ID), zap.String("workflow", wf.ID))

	ep, err := rs.hub.Acquire(ctx, agentName, url, func(step models.Step) { rs.onStep(sess, logger, step) })
	if err != nil {
		rs.store.DeleteWorkflow(ctx, wf.ID)
		return nil, err
	}
	sess.endpoint = ep

	if err := ep.Client().RecordingStarted(ctx); err != nil {
		rs.hub.Release(ep)
		rs.store.DeleteWorkflow(ctx, wf.ID)
		return nil, fmt.Errorf("start recording: %w", err)
	}
	sess.recording = true

	rs.mu.Lock()
	rs.sessions[sess.ID] = sess
	rs.mu.Unlock()

	logger.Info("🎬 recording session started", zap.String("url", url), zap.String("agent", agentName))
	return sess, nil
}

func (rs *RecordingService) onStep(sess *RecordingSession, logger *zap.Logger, step models.Step) {
	sess.mu.Lock()
	if !sess.recording {
		sess.mu.Unlock()
		return
	}
	sess.steps = append(sess.steps, step)
	index := len(sess.steps)
	sess.broadcast(logger, StreamEvent{Type: "step", Step: &step, Index: index})
	sess.mu.Unlock()

	if err := rs.store.AppendStep(context.Background(), sess.WorkflowID, step); err != nil {
		logger.Error("persist recorded step", zap.Int("index", index), zap.Error(err))
	}
	logger.Debug("step captured", zap.Int("index", index), zap.String("type", string(step.Type)))
}

// Stop ends capture, releases the page engine and marks the workflow active.
func (rs *RecordingService) Stop(ctx context.Context, sessionID string) (*models.Workflow, error) {
	rs.mu.Lock()
	sess, ok := rs.sessions[sessionID]
	delete(rs.sessions, sessionID)
	rs.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	if err := sess.endpoint.Client().RecordingStopped(ctx); err != nil {
		rs.logger.Warn("stop recording in page", zap.String("session", sessionID), zap.Error(err))
	}
	rs.hub.Release(sess.endpoint)

	sess.mu.Lock()
	sess.recording = false
	steps := append([]models.Step(nil), sess.steps...)
	sess.broadcast(rs.logger, StreamEvent{Type: "stopped"})
	sess.subscribers = make(map[StepWriter]struct{})
	sess.mu.Unlock()

	wf, err := rs.store.GetWorkflow(ctx, sess.WorkflowID)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	wf.Status = models.WorkflowActive
	if err := rs.store.UpdateWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	rs.logger.Info("⏹️ recording session stopped",
		zap.String("session", sessionID),
		zap.String("workflow", wf.ID),
		zap.Int("steps", len(steps)),
	)
	return wf, nil
}

func (rs *RecordingService) Get(sessionID string) (*RecordingSession, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	sess, ok := rs.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Subscribe streams the steps of a session to w, starting with the ones
// already captured.
func (rs *RecordingService) Subscribe(sessionID string, w StepWriter) error {
	sess, err := rs.Get(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for i := range sess.steps {
		if err := w.WriteJSON(StreamEvent{Type: "step", Step: &sess.steps[i], Index: i + 1}); err != nil {
			return err
		}
	}
	sess.subscribers[w] = struct{}{}
	return nil
}

func (rs *RecordingService) Unsubscribe(sessionID string, w StepWriter) {
	sess, err := rs.Get(sessionID)
	if err != nil {
		return
	}
	sess.mu.Lock()
	delete(sess.subscribers, w)
	sess.mu.Unlock()
}

// StopAll ends every session, for shutdown.
func (rs *RecordingService) StopAll(ctx context.Context) {
	rs.mu.RLock()
	ids := make([]string, 0, len(rs.sessions))
	for id := range rs.sessions {
		ids = append(ids, id)
	}
	rs.mu.RUnlock()
	for _, id := range ids {
		if _, err := rs.Stop(ctx, id); err != nil {
			rs.logger.Warn("stop session on shutdown", zap.String("session", id), zap.Error(err))
		}
	}
}
