package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stepflow/internal/executor"
	"stepflow/internal/models"
	"stepflow/internal/store"
)

// StatusSyncService reconciles runs the database still shows as active with
// what the executor is actually running.
type StatusSyncService struct {
	store    *store.Store
	exec     *executor.Executor
	logger   *zap.Logger
	interval time.Duration
	// grace skips runs that started too recently to have been registered.
	grace time.Duration
	// maxRunTime cancels runs that have been going for too long.
	maxRunTime time.Duration
}

func NewStatusSync(st *store.Store, exec *executor.Executor, interval time.Duration, logger *zap.Logger) *StatusSyncService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &StatusSyncService{
		store:      st,
		exec:       exec,
		logger:     logger,
		interval:   interval,
		grace:      30 * time.Second,
		maxRunTime: 30 * time.Minute,
	}
}

// Run reconciles on every tick until ctx is done.
func (s *StatusSyncService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("status sync started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("status sync stopped")
			return
		case <-ticker.C:
			s.Sync(ctx)
		}
	}
}

// Sync runs one reconciliation pass and returns how many runs it fixed.
func (s *StatusSyncService) Sync(ctx context.Context) int {
	fixed := 0
	for _, status := range []models.RunStatus{models.RunRunning, models.RunPending} {
		runs, err := s.store.RunsByStatus(ctx, status)
		if err != nil {
			s.logger.Warn("query active runs", zap.Error(err))
			return fixed
		}
		for i := range runs {
			if s.reconcile(ctx, &runs[i]) {
				fixed++
			}
		}
	}
	if fixed > 0 {
		s.logger.Info("🔧 status sync fixed stale runs", zap.Int("fixed", fixed))
	}
	return fixed
}

func (s *StatusSyncService) reconcile(ctx context.Context, run *models.Run) bool {
	age := time.Since(run.StartTime)
	tracked := s.exec.IsRunning(run.ID)

	var reason string
	switch {
	case tracked && age > s.maxRunTime:
		s.exec.Cancel(run.ID)
		reason = "Run timed out after " + s.maxRunTime.String()
	case !tracked && age > s.grace:
		reason = "Run was interrupted before it finished"
	default:
		return false
	}

	now := time.Now()
	run.Status = models.RunFailed
	run.EndTime = &now
	run.Duration = now.Sub(run.StartTime).Milliseconds()
	run.ErrorMessage = reason
	if err := s.store.SaveRun(ctx, run); err != nil {
		s.logger.Warn("fix stale run", zap.Uint("run", run.ID), zap.Error(err))
		return false
	}
	s.logger.Info("🔧 run marked failed", zap.Uint("run", run.ID), zap.String("reason", reason))
	return true
}
