package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stepflow/internal/models"
	"stepflow/pkg/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func TestWorkflowLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	wf := &models.Workflow{Name: "login"}
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	if wf.ID == "" || wf.Status != models.WorkflowDraft {
		t.Fatalf("created workflow = %+v, want an id and draft status", wf)
	}

	steps := []models.Step{
		{Type: models.StepClick, Selector: "#login", Timestamp: 1},
		{Type: models.StepInput, Selector: `input[name="user"]`, Value: "alice", Timestamp: 2},
		{Type: models.StepClick, Selector: `button:text("Sign in")`, Timestamp: 3},
	}
	for _, step := range steps {
		if err := s.AppendStep(ctx, wf.ID, step); err != nil {
			t.Fatalf("AppendStep() error = %v", err)
		}
	}

	got, err := s.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflow() error = %v", err)
	}
	if len(got.Steps) != len(steps) {
		t.Fatalf("steps = %d, want %d", len(got.Steps), len(steps))
	}
	for i := range steps {
		if got.Steps[i] != steps[i] {
			t.Errorf("step %d = %+v, want %+v", i, got.Steps[i], steps[i])
		}
	}

	got.Status = models.WorkflowActive
	got.SlowMode = true
	if err := s.UpdateWorkflow(ctx, got); err != nil {
		t.Fatalf("UpdateWorkflow() error = %v", err)
	}
	if err := s.IncrementUsage(ctx, wf.ID); err != nil {
		t.Fatalf("IncrementUsage() error = %v", err)
	}
	if err := s.IncrementUsage(ctx, wf.ID); err != nil {
		t.Fatalf("IncrementUsage() error = %v", err)
	}

	got, err = s.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.WorkflowActive || !got.SlowMode || got.UsageCount != 2 || len(got.Steps) != 3 {
		t.Errorf("workflow after updates = %+v", got)
	}

	if err := s.DeleteWorkflow(ctx, wf.ID); err != nil {
		t.Fatalf("DeleteWorkflow() error = %v", err)
	}
	if _, err := s.GetWorkflow(ctx, wf.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetWorkflow() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteWorkflow(ctx, wf.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteWorkflow() error = %v, want ErrNotFound", err)
	}
}

func TestMissingWorkflow(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendStep(ctx, "nope", models.Step{Type: models.StepClick, Selector: "#a"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendStep() error = %v, want ErrNotFound", err)
	}
	if err := s.IncrementUsage(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("IncrementUsage() error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateWorkflow(ctx, &models.Workflow{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateWorkflow() error = %v, want ErrNotFound", err)
	}
}

func TestListWorkflows(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, w := range []models.Workflow{
		{Name: "checkout", Status: models.WorkflowActive},
		{Name: "checkout guest", Status: models.WorkflowBroken, Schedule: "0 */5 * * * *"},
		{Name: "search", Status: models.WorkflowActive},
	} {
		w := w
		if err := s.CreateWorkflow(ctx, &w); err != nil {
			t.Fatal(err)
		}
	}

	all, total, err := s.ListWorkflows(ctx, ListOptions{})
	if err != nil || total != 3 || len(all) != 3 {
		t.Fatalf("ListWorkflows() = %d items, total %d, err %v", len(all), total, err)
	}

	active, total, err := s.ListWorkflows(ctx, ListOptions{Status: models.WorkflowActive})
	if err != nil || total != 2 || len(active) != 2 {
		t.Errorf("active = %d, total %d, err %v; want 2", len(active), total, err)
	}

	named, total, err := s.ListWorkflows(ctx, ListOptions{Name: "checkout", PageSize: 1})
	if err != nil || total != 2 || len(named) != 1 {
		t.Errorf("named page = %d items, total %d, err %v; want 1 of 2", len(named), total, err)
	}

	scheduled, err := s.ScheduledWorkflows(ctx)
	if err != nil || len(scheduled) != 1 || scheduled[0].Name != "checkout guest" {
		t.Errorf("ScheduledWorkflows() = %+v, %v", scheduled, err)
	}
}

func TestRuns(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	wf := &models.Workflow{Name: "search", Status: models.WorkflowActive}
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		t.Fatal(err)
	}

	run := &models.Run{WorkflowID: wf.ID, Trigger: "manual"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.ID == 0 || run.Status != models.RunPending {
		t.Fatalf("created run = %+v", run)
	}

	run.Status = models.RunFailed
	run.FailedStep = 2
	run.Logs = []models.RunLog{{Level: "error", Message: "element not found: #q", StepIndex: 1, StepStatus: "failed"}}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != models.RunFailed || got.FailedStep != 2 || len(got.Logs) != 1 || got.Logs[0].Message != "element not found: #q" {
		t.Errorf("run = %+v", got)
	}

	failed, err := s.RunsByStatus(ctx, models.RunFailed)
	if err != nil || len(failed) != 1 {
		t.Errorf("RunsByStatus() = %d, %v", len(failed), err)
	}
	runs, err := s.ListRuns(ctx, wf.ID, 0)
	if err != nil || len(runs) != 1 {
		t.Errorf("ListRuns() = %d, %v", len(runs), err)
	}

	at := time.Now()
	if err := s.RecordOutcome(ctx, wf.ID, models.RunFailed, "step 2 failed", at, models.WorkflowBroken); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	after, err := s.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != models.WorkflowBroken || after.LastRunStatus != models.RunFailed || after.LastError != "step 2 failed" || after.LastRunAt == nil {
		t.Errorf("workflow after outcome = %+v", after)
	}

	if _, err := s.GetRun(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(9999) error = %v, want ErrNotFound", err)
	}
}
