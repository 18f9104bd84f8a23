// Package store persists workflows and their runs with gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"stepflow/internal/models"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

type ListOptions struct {
	Page     int
	PageSize int
	Status   models.WorkflowStatus
	Name     string
}

func (o ListOptions) normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize < 1 || o.PageSize > 100 {
		o.PageSize = 10
	}
	return o
}

// CreateWorkflow inserts wf, assigning an id and the draft status when they
// are unset.
func (s *Store) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if wf.Status == "" {
		wf.Status = models.WorkflowDraft
	}
	if wf.Steps == nil {
		wf.Steps = []models.Step{}
	}
	if err := s.db.WithContext(ctx).Create(wf).Error; err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var wf models.Workflow
	if err := s.db.WithContext(ctx).First(&wf, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context, opts ListOptions) ([]models.Workflow, int64, error) {
	opts = opts.normalize()
	query := s.db.WithContext(ctx).Model(&models.Workflow{})
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.Name != "" {
		query = query.Where("name LIKE ?", "%"+opts.Name+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count workflows: %w", err)
	}

	workflows := make([]models.Workflow, 0, opts.PageSize)
	err := query.Order("created_at DESC").
		Offset((opts.Page - 1) * opts.PageSize).
		Limit(opts.PageSize).
		Find(&workflows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, total, nil
}

// ScheduledWorkflows returns every workflow carrying a cron schedule.
func (s *Store) ScheduledWorkflows(ctx context.Context) ([]models.Workflow, error) {
	var workflows []models.Workflow
	if err := s.db.WithContext(ctx).Where("schedule <> ''").Find(&workflows).Error; err != nil {
		return nil, fmt.Errorf("list scheduled workflows: %w", err)
	}
	return workflows, nil
}

// UpdateWorkflow writes every field of wf, steps included.
func (s *Store) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Workflow{}).Where("id = ?", wf.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	if err := s.db.WithContext(ctx).Save(wf).Error; err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	return nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Workflow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete workflow: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendStep adds step at the end of the workflow's steps.
func (s *Store) AppendStep(ctx context.Context, id string, step models.Step) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wf models.Workflow
		if err := tx.First(&wf, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		wf.Steps = append(wf.Steps, step)
		return tx.Save(&wf).Error
	})
}

func (s *Store) IncrementUsage(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.Workflow{}).Where("id = ?", id).
		UpdateColumns(map[string]any{
			"usage_count": gorm.Expr("usage_count + ?", 1),
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("increment usage: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordOutcome stores the result of the latest run on the workflow. An
// empty status leaves the workflow status unchanged.
func (s *Store) RecordOutcome(ctx context.Context, id string, run models.RunStatus, errMsg string, at time.Time, status models.WorkflowStatus) error {
	cols := map[string]any{
		"last_run_at":     at,
		"last_run_status": run,
		"last_error":      errMsg,
		"updated_at":      time.Now(),
	}
	if status != "" {
		cols["status"] = status
	}
	res := s.db.WithContext(ctx).Model(&models.Workflow{}).Where("id = ?", id).UpdateColumns(cols)
	if res.Error != nil {
		return fmt.Errorf("record outcome: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run *models.Run) error {
	if run.Status == "" {
		run.Status = models.RunPending
	}
	if run.StartTime.IsZero() {
		run.StartTime = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) SaveRun(ctx context.Context, run *models.Run) error {
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id uint) (*models.Run, error) {
	var run models.Run
	if err := s.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs of a workflow, newest first.
func (s *Store) ListRuns(ctx context.Context, workflowID string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	runs := make([]models.Run, 0, limit)
	err := s.db.WithContext(ctx).Where("workflow_id = ?", workflowID).
		Order("id DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *Store) RunsByStatus(ctx context.Context, status models.RunStatus) ([]models.Run, error) {
	var runs []models.Run
	if err := s.db.WithContext(ctx).Where("status = ?", status).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list %s runs: %w", status, err)
	}
	return runs, nil
}
