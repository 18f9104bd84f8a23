// Package executor sequences the steps of a workflow against a page engine.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"stepflow/internal/models"
	"stepflow/internal/transport"
)

// Engine is the page engine a run drives. *transport.Client implements it.
type Engine interface {
	Ping(ctx context.Context) error
	Install(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	ExecuteStep(ctx context.Context, step models.Step) error
}

type Options struct {
	StepDelay     time.Duration
	SlowStepDelay time.Duration
	// StepTimeout bounds the wait for one engine step.
	StepTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		StepDelay:     300 * time.Millisecond,
		SlowStepDelay: 1500 * time.Millisecond,
		StepTimeout:   30 * time.Second,
	}
}

// StepError reports the step a run stopped at. Index is 1-based.
type StepError struct {
	Index int
	Step  models.Step
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Index, e.Step.Type, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Result is the outcome of one run.
type Result struct {
	Success      bool
	Cancelled    bool
	FailedStep   int
	ErrorMessage string
	Err          error
	Logs         []models.RunLog
	Duration     time.Duration
}

func (r *Result) addLog(level, message string, stepIndex int) {
	r.Logs = append(r.Logs, models.RunLog{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		StepIndex: stepIndex,
	})
}

func (r *Result) addStepLog(level, message string, stepIndex int, step models.Step, stepStatus string, duration int64, errorDetail string) {
	r.Logs = append(r.Logs, models.RunLog{
		Timestamp:   time.Now(),
		Level:       level,
		Message:     message,
		StepIndex:   stepIndex,
		StepType:    step.Type,
		StepStatus:  stepStatus,
		Selector:    step.Selector,
		Value:       step.Value,
		Duration:    duration,
		ErrorDetail: errorDetail,
	})
}

// Executor runs workflows and tracks the runs in flight so they can be
// cancelled.
type Executor struct {
	logger *zap.Logger
	opts   Options

	mutex   sync.RWMutex
	running map[uint]context.CancelFunc
}

func New(logger *zap.Logger, opts Options) *Executor {
	def := DefaultOptions()
	if opts.StepDelay <= 0 {
		opts.StepDelay = def.StepDelay
	}
	if opts.SlowStepDelay <= 0 {
		opts.SlowStepDelay = def.SlowStepDelay
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = def.StepTimeout
	}
	return &Executor{
		logger:  logger,
		opts:    opts,
		running: make(map[uint]context.CancelFunc),
	}
}

func (x *Executor) IsRunning(runID uint) bool {
	x.mutex.RLock()
	defer x.mutex.RUnlock()
	_, ok := x.running[runID]
	return ok
}

func (x *Executor) RunningCount() int {
	x.mutex.RLock()
	defer x.mutex.RUnlock()
	return len(x.running)
}

// Cancel stops a run between steps. It reports whether the run was in flight.
func (x *Executor) Cancel(runID uint) bool {
	x.mutex.Lock()
	defer x.mutex.Unlock()
	cancel, ok := x.running[runID]
	if ok {
		x.logger.Info("cancelling run", zap.Uint("run", runID))
		cancel()
		delete(x.running, runID)
	}
	return ok
}

// Run executes the workflow's steps in order, waiting for each before the
// next, and stops at the first failure.
func (x *Executor) Run(ctx context.Context, runID uint, wf *models.Workflow, eng Engine) (result Result) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	x.mutex.Lock()
	x.running[runID] = cancel
	x.mutex.Unlock()
	defer func() {
		x.mutex.Lock()
		delete(x.running, runID)
		x.mutex.Unlock()
	}()

	logger := x.logger.With(zap.Uint("run", runID), zap.String("workflow", wf.ID))
	result = Result{Logs: make([]models.RunLog, 0, len(wf.Steps)*2+2)}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	delay := x.opts.StepDelay
	if wf.SlowMode {
		delay = x.opts.SlowStepDelay
	}

	total := len(wf.Steps)
	logger.Info("🏁 run started", zap.String("name", wf.Name), zap.Int("steps", total), zap.Bool("slowMode", wf.SlowMode))
	result.addLog("info", fmt.Sprintf("Run started: %s (%d steps)", wf.Name, total), -1)

	for i, step := range wf.Steps {
		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return x.cancelled(logger, result, err)
			}
		}

		desc := describe(step, i, total)
		stepStart := time.Now()
		result.addStepLog("info", "Running "+desc, i, step, "running", 0, "")

		err := x.executeStep(ctx, logger, eng, step)
		elapsed := time.Since(stepStart).Milliseconds()

		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return x.cancelled(logger, result, err)
			}
			stepErr := &StepError{Index: i + 1, Step: step, Err: err}
			logger.Error("❌ step failed",
				zap.Int("step", i+1),
				zap.String("type", string(step.Type)),
				zap.String("selector", step.Selector),
				zap.Int64("ms", elapsed),
				zap.Error(err),
			)
			result.addStepLog("error", fmt.Sprintf("%s failed: %v", desc, err), i, step, "failed", elapsed, err.Error())
			result.FailedStep = i + 1
			result.Err = stepErr
			result.ErrorMessage = stepErr.Error()
			return result
		}

		logger.Info("✅ step succeeded", zap.Int("step", i+1), zap.String("type", string(step.Type)), zap.Int64("ms", elapsed))
		result.addStepLog("info", fmt.Sprintf("%s succeeded (%dms)", desc, elapsed), i, step, "success", elapsed, "")
	}

	result.Success = true
	result.addLog("info", "Run completed successfully", -1)
	logger.Info("🎉 run completed", zap.Duration("took", time.Since(start)))
	return result
}

func (x *Executor) cancelled(logger *zap.Logger, result Result, err error) Result {
	logger.Warn("⚠️ run cancelled", zap.Error(err))
	result.Success = false
	result.Cancelled = true
	result.Err = err
	result.ErrorMessage = "Run was cancelled"
	result.addLog("info", "Run was cancelled", -1)
	return result
}

func (x *Executor) executeStep(ctx context.Context, logger *zap.Logger, eng Engine, step models.Step) error {
	switch step.Type {
	case models.StepNavigate:
		return eng.Navigate(ctx, step.Value)
	case models.StepWait:
		d, err := step.WaitDuration()
		if err != nil {
			return err
		}
		return sleep(ctx, d)
	default:
		// Unknown types go to the engine too; it reports them.
		return x.send(ctx, logger, eng, step)
	}
}

// send delivers one step to the engine. When the engine is missing from the
// page it is re-installed and the step resent, once.
func (x *Executor) send(ctx context.Context, logger *zap.Logger, eng Engine, step models.Step) error {
	if err := eng.Ping(ctx); err != nil {
		if !errors.Is(err, transport.ErrReceiverMissing) {
			return fmt.Errorf("ping page engine: %w", err)
		}
		logger.Info("🔄 page engine missing, reinstalling")
		if err := eng.Install(ctx); err != nil {
			return fmt.Errorf("reinstall page engine: %w", err)
		}
	}

	err := x.execute(ctx, eng, step)
	if !errors.Is(err, transport.ErrReceiverMissing) {
		return err
	}

	logger.Info("🔄 page engine lost during step, reinstalling and resending")
	if err := eng.Install(ctx); err != nil {
		return fmt.Errorf("reinstall page engine: %w", err)
	}
	return x.execute(ctx, eng, step)
}

func (x *Executor) execute(ctx context.Context, eng Engine, step models.Step) error {
	stepCtx, cancel := context.WithTimeout(ctx, x.opts.StepTimeout)
	defer cancel()
	return eng.ExecuteStep(stepCtx, step)
}

func describe(step models.Step, index, total int) string {
	progress := fmt.Sprintf("[%d/%d]", index+1, total)
	switch step.Type {
	case models.StepNavigate:
		return fmt.Sprintf("%s 🌐 navigate to %s", progress, step.Value)
	case models.StepClick:
		return fmt.Sprintf("%s 🔘 click %s", progress, step.Selector)
	case models.StepInput:
		if len(step.Value) > 50 {
			return fmt.Sprintf("%s ⌨️ type into %s (%d chars)", progress, step.Selector, len(step.Value))
		}
		return fmt.Sprintf("%s ⌨️ type into %s: %s", progress, step.Selector, step.Value)
	case models.StepWait:
		return fmt.Sprintf("%s ⏳ wait %sms", progress, step.Value)
	default:
		return fmt.Sprintf("%s ⚙️ %s %s", progress, step.Type, step.Selector)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
