package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stepflow/internal/executor"
	"stepflow/internal/models"
	"stepflow/internal/store"
)

const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

// RunService replays workflows and records the outcome.
type RunService struct {
	store  *store.Store
	hub    *Hub
	exec   *executor.Executor
	logger *zap.Logger
}

func NewRunService(st *store.Store, hub *Hub, exec *executor.Executor, logger *zap.Logger) *RunService {
	return &RunService{store: st, hub: hub, exec: exec, logger: logger}
}

func (s *RunService) Executor() *executor.Executor { return s.exec }

// Start creates a pending run and executes it in the background.
func (s *RunService) Start(ctx context.Context, workflowID, trigger, agentName string) (*models.Run, error) {
	wf, run, err := s.prepare(ctx, workflowID, trigger)
	if err != nil {
		return nil, err
	}
	go s.execute(context.Background(), wf, run, agentName)
	return run, nil
}

// RunSync executes a workflow and returns the finished run.
func (s *RunService) RunSync(ctx context.Context, workflowID, trigger, agentName string) (*models.Run, error) {
	wf, run, err := s.prepare(ctx, workflowID, trigger)
	if err != nil {
		return nil, err
	}
	s.execute(ctx, wf, run, agentName)
	return run, nil
}

func (s *RunService) prepare(ctx context.Context, workflowID, trigger string) (*models.Workflow, *models.Run, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	if wf.Status == models.WorkflowDraft {
		return nil, nil, fmt.Errorf("workflow %s is still being recorded", wf.ID)
	}
	for i, step := range wf.Steps {
		if err := step.Validate(); err != nil {
			return nil, nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	run := &models.Run{WorkflowID: wf.ID, Trigger: trigger, Status: models.RunPending, StartTime: time.Now()}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, nil, err
	}
	return wf, run, nil
}

func (s *RunService) execute(ctx context.Context, wf *models.Workflow, run *models.Run, agentName string) {
	logger := s.logger.With(zap.Uint("run", run.ID), zap.String("workflow", wf.ID))

	run.Status = models.RunRunning
	if err := s.store.SaveRun(ctx, run); err != nil {
		logger.Error("mark run running", zap.Error(err))
	}

	var result executor.Result
	ep, err := s.hub.Acquire(ctx, agentName, wf.StartURL, nil)
	if err != nil {
		result = executor.Result{
			ErrorMessage: fmt.Sprintf("acquire page engine: %v", err),
			Logs: []models.RunLog{{
				Timestamp: time.Now(),
				Level:     "error",
				Message:   fmt.Sprintf("❌ could not open a page: %v", err),
				StepIndex: -1,
			}},
		}
	} else {
		result = s.exec.Run(ctx, run.ID, wf, ep.Client())
		s.hub.Release(ep)
	}

	end := time.Now()
	run.EndTime = &end
	run.Duration = end.Sub(run.StartTime).Milliseconds()
	run.Logs = result.Logs
	run.FailedStep = result.FailedStep
	run.ErrorMessage = result.ErrorMessage

	status := models.WorkflowHealthy
	switch {
	case result.Success:
		run.Status = models.RunPassed
	case result.Cancelled || ctx.Err() != nil:
		run.Status = models.RunCancelled
		status = ""
	default:
		run.Status = models.RunFailed
		status = models.WorkflowBroken
	}

	saveCtx := context.WithoutCancel(ctx)
	if err := s.store.SaveRun(saveCtx, run); err != nil {
		logger.Error("save run result", zap.Error(err))
	}
	if err := s.store.IncrementUsage(saveCtx, wf.ID); err != nil {
		logger.Warn("increment usage", zap.Error(err))
	}
	if err := s.store.RecordOutcome(saveCtx, wf.ID, run.Status, run.ErrorMessage, end, status); err != nil {
		logger.Warn("record outcome", zap.Error(err))
	}

	logger.Info("run finished", zap.String("status", string(run.Status)), zap.Int64("ms", run.Duration))
}
