package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"stepflow/internal/models"
	"stepflow/internal/store"
)

// SchedulerService replays scheduled workflows as health checks.
type SchedulerService struct {
	cron   *cron.Cron
	store  *store.Store
	runs   *RunService
	logger *zap.Logger
	// timeout bounds one scheduled run.
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewScheduler(st *store.Store, runs *RunService, logger *zap.Logger) *SchedulerService {
	return &SchedulerService{
		cron:    cron.New(cron.WithSeconds()),
		store:   st,
		runs:    runs,
		logger:  logger,
		timeout: 10 * time.Minute,
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads every scheduled workflow and starts the cron loop.
func (s *SchedulerService) Start(ctx context.Context) error {
	workflows, err := s.store.ScheduledWorkflows(ctx)
	if err != nil {
		return err
	}
	for _, wf := range workflows {
		if err := s.Schedule(wf); err != nil {
			s.logger.Warn("failed to add schedule", zap.String("workflow", wf.ID), zap.Error(err))
		}
	}
	s.logger.Info("scheduler started", zap.Int("scheduled", len(s.Entries())))
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Schedule adds, replaces or (for an empty schedule) removes the health
// check of a workflow.
func (s *SchedulerService) Schedule(wf models.Workflow) error {
	s.Unschedule(wf.ID)
	if wf.Schedule == "" {
		return nil
	}

	id := wf.ID
	entryID, err := s.cron.AddFunc(wf.Schedule, func() { s.healthCheck(id) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", wf.Schedule, err)
	}

	s.mu.Lock()
	s.entries[id] = entryID
	s.mu.Unlock()

	s.logger.Info("schedule added", zap.String("workflow", id), zap.Int("entry", int(entryID)), zap.String("schedule", wf.Schedule))
	return nil
}

func (s *SchedulerService) Unschedule(workflowID string) {
	s.mu.Lock()
	entryID, ok := s.entries[workflowID]
	delete(s.entries, workflowID)
	s.mu.Unlock()
	if ok {
		s.cron.Remove(entryID)
		s.logger.Info("schedule removed", zap.String("workflow", workflowID))
	}
}

// Entries maps scheduled workflow ids to their next activation.
func (s *SchedulerService) Entries() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for id, entryID := range s.entries {
		out[id] = s.cron.Entry(entryID).Next
	}
	return out
}

func (s *SchedulerService) healthCheck(workflowID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.logger.Info("🩺 health check", zap.String("workflow", workflowID))
	run, err := s.runs.RunSync(ctx, workflowID, TriggerSchedule, "")
	if err != nil {
		s.logger.Warn("health check not started", zap.String("workflow", workflowID), zap.Error(err))
		return
	}
	s.logger.Info("health check finished",
		zap.String("workflow", workflowID),
		zap.Uint("run", run.ID),
		zap.String("status", string(run.Status)),
	)
}

var scheduleParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidSchedule checks a six-field cron expression (or descriptor such as
// "@hourly"). An empty expression means unscheduled and is valid.
func ValidSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}
