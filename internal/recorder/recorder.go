// Package recorder is the capture engine: it arms the page script, pumps
// raw events out of the page, debounces typing per element and turns every
// accepted event into a Step with a synthesized locator.
package recorder

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"stepflow/internal/models"
	"stepflow/internal/pagescript"
)

// ErrBusy is returned when a page is asked to record and replay at once.
var ErrBusy = errors.New("page is busy")

type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

// StepHandler receives each recorded step in capture order.
type StepHandler func(step models.Step)

type Options struct {
	// Debounce is the quiet period after the last keystroke on an element
	// before its value is captured.
	Debounce time.Duration
	// PumpInterval is how often queued events are drained from the page.
	PumpInterval time.Duration
	// EvalTimeout bounds each round trip to the page.
	EvalTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Debounce:     500 * time.Millisecond,
		PumpInterval: 100 * time.Millisecond,
		EvalTimeout:  5 * time.Second,
	}
}

// Engine records the interactions on one page.
type Engine struct {
	page   pagescript.Page
	emit   StepHandler
	logger *zap.Logger
	opts   Options

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	pending map[int]pendingInput
	fired   chan int
	dropped int
	lastTS  int64
}

// pendingInput is an element inside its debounce window. ts is the page time
// of the last keystroke, which becomes the step's timestamp.
type pendingInput struct {
	timer *time.Timer
	ts    int64
}

func New(page pagescript.Page, emit StepHandler, logger *zap.Logger, opts Options) *Engine {
	def := DefaultOptions()
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}
	if opts.PumpInterval <= 0 {
		opts.PumpInterval = def.PumpInterval
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = def.EvalTimeout
	}
	if emit == nil {
		emit = func(models.Step) {}
	}
	return &Engine{
		page:   page,
		emit:   emit,
		logger: logger,
		opts:   opts,
		state:  StateIdle,
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Recording() bool {
	return e.State() == StateRecording
}

// Dropped is the number of events discarded because no locator could be
// synthesized for them.
func (e *Engine) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Start arms capture on the page. Starting an engine that is already
// recording is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRecording {
		return nil
	}

	if err := e.arm(ctx); err != nil {
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.pending = make(map[int]pendingInput)
	e.fired = make(chan int, 64)
	e.lastTS = 0
	e.state = StateRecording

	go e.pump(pumpCtx, e.done, e.fired)

	e.logger.Info("🎬 recording started")
	return nil
}

// Stop detaches capture from the page. Events already queued in the page and
// typing still inside its debounce window are captured before Stop returns.
// Stopping an idle engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRecording {
		e.mu.Unlock()
		return nil
	}
	e.state = StateIdle
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done

	e.drainOnce(ctx)
	e.flushPending(ctx)

	var stopped bool
	if err := e.page.Evaluate(ctx, pagescript.Call("stop"), &stopped); err != nil {
		// The page may already be gone; there is nothing left to detach then.
		e.logger.Debug("stop in page failed", zap.Error(err))
	}

	e.logger.Info("⏹️ recording stopped", zap.Int("dropped", e.Dropped()))
	return nil
}

// arm installs the page engine if needed and starts capture in the current
// document.
func (e *Engine) arm(ctx context.Context) error {
	if err := pagescript.Install(ctx, e.page); err != nil {
		return err
	}
	var started bool
	if err := e.page.Evaluate(ctx, pagescript.Call("start"), &started); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	return nil
}

func (e *Engine) pump(ctx context.Context, done chan<- struct{}, fired <-chan int) {
	defer close(done)

	ticker := time.NewTicker(e.opts.PumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case key := <-fired:
			e.capture(ctx, key)
		case <-ticker.C:
			e.drainOnce(ctx)
		}
	}
}

// drainOnce moves the page's event queue into Go. A document that lost its
// capture state, typically after a navigation, is re-armed.
func (e *Engine) drainOnce(ctx context.Context) {
	evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.EvalTimeout)
	defer cancel()

	var res drainResult
	if err := e.page.Evaluate(evalCtx, pagescript.Call("drain"), &res); err != nil {
		if ctx.Err() == nil && e.Recording() {
			e.logger.Debug("drain failed, re-arming", zap.Error(err))
			if err := e.arm(evalCtx); err != nil {
				e.logger.Debug("re-arm failed", zap.Error(err))
			}
		}
		return
	}

	for _, ev := range res.Events {
		e.handle(evalCtx, ev)
	}

	if !res.Recording && ctx.Err() == nil && e.Recording() {
		e.logger.Debug("page lost capture state, re-arming")
		if err := e.arm(evalCtx); err != nil {
			e.logger.Debug("re-arm failed", zap.Error(err))
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev rawEvent) {
	switch ev.Kind {
	case eventClick:
		e.flushPending(ctx)
		step, err := clickStep(ev)
		if err != nil {
			e.drop(ev, err)
			return
		}
		e.record(step)
	case eventInput:
		e.debounce(ev.Key, ev.Timestamp)
	case eventChange:
		e.flushPending(ctx)
		step, err := changeStep(ev)
		if err != nil {
			e.drop(ev, err)
			return
		}
		e.record(step)
	default:
		e.logger.Debug("ignoring unknown page event", zap.String("kind", ev.Kind))
	}
}

// debounce (re)starts the quiet-period timer of an element.
func (e *Engine) debounce(key int, ts int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.pending[key]; ok {
		p.timer.Stop()
	}
	fired := e.fired
	timer := time.AfterFunc(e.opts.Debounce, func() {
		select {
		case fired <- key:
		default:
		}
	})
	e.pending[key] = pendingInput{timer: timer, ts: ts}
}

// flushPending captures every element still inside its debounce window so
// that typing is recorded before the click or change that follows it. Fields
// are captured in the order they were last typed into.
func (e *Engine) flushPending(ctx context.Context) {
	type flush struct {
		key int
		ts  int64
	}
	e.mu.Lock()
	order := make([]flush, 0, len(e.pending))
	for key, p := range e.pending {
		p.timer.Stop()
		order = append(order, flush{key: key, ts: p.ts})
	}
	e.mu.Unlock()

	slices.SortFunc(order, func(a, b flush) int {
		if c := cmp.Compare(a.ts, b.ts); c != 0 {
			return c
		}
		return cmp.Compare(a.key, b.key)
	})
	for _, f := range order {
		e.capture(ctx, f.key)
	}
}

// capture reads the settled value of a debounced element and records it.
func (e *Engine) capture(ctx context.Context, key int) {
	e.mu.Lock()
	p, ok := e.pending[key]
	delete(e.pending, key)
	e.mu.Unlock()
	if !ok {
		return
	}

	evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.EvalTimeout)
	defer cancel()

	var desc describeResult
	if err := e.page.Evaluate(evalCtx, pagescript.Call("describe", key), &desc); err != nil {
		e.logger.Debug("describe failed", zap.Int("key", key), zap.Error(err))
		return
	}
	if !desc.Found {
		e.logger.Debug("debounced element is gone", zap.Int("key", key))
		return
	}

	step, err := inputStep(desc, p.ts)
	if err != nil {
		e.drop(rawEvent{Kind: eventInput, Key: key}, err)
		return
	}
	e.record(step)
}

// record emits a step. Timestamps never go backwards within a session, even
// when the page clock is adjusted between events.
func (e *Engine) record(step models.Step) {
	e.mu.Lock()
	if step.Timestamp < e.lastTS {
		step.Timestamp = e.lastTS
	}
	e.lastTS = step.Timestamp
	e.mu.Unlock()

	e.logger.Debug("step recorded",
		zap.String("type", string(step.Type)),
		zap.String("selector", step.Selector),
	)
	e.emit(step)
}

func (e *Engine) drop(ev rawEvent, err error) {
	e.mu.Lock()
	e.dropped++
	e.mu.Unlock()
	e.logger.Debug("event dropped", zap.String("kind", ev.Kind), zap.Error(err))
}
