// Package agent hosts the page engine on one browser tab and serves the RPC
// vocabulary for it.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"stepflow/internal/models"
	"stepflow/internal/pagescript"
	"stepflow/internal/recorder"
	"stepflow/internal/replayer"
	"stepflow/internal/transport"
	"stepflow/pkg/browser"
)

type Options struct {
	Capture recorder.Options
	Replay  replayer.Options
	// AutoInstall registers the engine as an init script so every new
	// document gets it without a round trip.
	AutoInstall bool
}

// Agent is the page-side endpoint: it records interactions and replays
// steps on a single tab, one activity at a time.
type Agent struct {
	page   browser.Page
	logger *zap.Logger
	opts   Options

	rec *recorder.Engine
	rep *replayer.Engine

	mu   sync.Mutex
	conn transport.Conn

	replaying atomic.Bool
	// busy serialises recording transitions and replays.
	busy sync.Mutex
}

func New(page browser.Page, logger *zap.Logger, opts Options) *Agent {
	a := &Agent{page: page, logger: logger, opts: opts}
	a.rec = recorder.New(page, a.recordStep, logger.Named("recorder"), opts.Capture)
	a.rep = replayer.New(page, logger.Named("replayer"), opts.Replay)
	return a
}

// Bind sets the connection recorded steps are sent on.
func (a *Agent) Bind(conn transport.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = conn
}

// Attach prepares the tab: the engine is installed into the current
// document and, with AutoInstall, into every later one.
func (a *Agent) Attach(ctx context.Context) error {
	if a.opts.AutoInstall {
		if err := a.page.AddInitScript(ctx, pagescript.Source); err != nil {
			return fmt.Errorf("register init script: %w", err)
		}
	}
	return pagescript.Install(ctx, a.page)
}

func (a *Agent) Recording() bool { return a.rec.Recording() }

// Close stops an active recording. The page itself belongs to the caller.
func (a *Agent) Close(ctx context.Context) error {
	return a.rec.Stop(ctx)
}

func (a *Agent) recordStep(step models.Step) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		a.logger.Warn("step recorded with no connection bound", zap.String("selector", step.Selector))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Notify(ctx, transport.MethodRecordStep, transport.RecordStepParams{Step: step}); err != nil {
		a.logger.Warn("send recorded step", zap.Error(err))
	}
}

// Handle implements transport.Handler.
func (a *Agent) Handle(ctx context.Context, method transport.Method, params json.RawMessage) (any, error) {
	switch method {
	case transport.MethodPing:
		if err := a.requireEngine(ctx); err != nil {
			return nil, err
		}
		return transport.Pong{Pong: true}, nil

	case transport.MethodInstall:
		if err := pagescript.Install(ctx, a.page); err != nil {
			return nil, err
		}
		return transport.Ack{OK: true}, nil

	case transport.MethodRecordingStarted:
		if a.replaying.Load() {
			return nil, recorder.ErrBusy
		}
		a.busy.Lock()
		defer a.busy.Unlock()
		if err := a.requireEngine(ctx); err != nil {
			return nil, err
		}
		if err := a.rec.Start(ctx); err != nil {
			return nil, err
		}
		return transport.Ack{OK: true}, nil

	case transport.MethodRecordingStopped:
		a.busy.Lock()
		defer a.busy.Unlock()
		if err := a.rec.Stop(ctx); err != nil {
			return nil, err
		}
		return transport.Ack{OK: true}, nil

	case transport.MethodExecuteStep:
		var p transport.ExecuteStepParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode step: %w", err)
		}
		if err := a.executeStep(ctx, p.Step); err != nil {
			return nil, err
		}
		return transport.Ack{OK: true}, nil

	case transport.MethodNavigate:
		var p transport.NavigateParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode navigate: %w", err)
		}
		if a.replaying.Load() {
			return nil, recorder.ErrBusy
		}
		if err := a.page.Navigate(ctx, p.URL); err != nil {
			return nil, fmt.Errorf("navigate to %s: %w", p.URL, err)
		}
		return transport.Ack{OK: true}, nil

	case transport.MethodGetPageInfo:
		return a.page.Info(ctx)

	default:
		return nil, fmt.Errorf("unsupported method %q", method)
	}
}

func (a *Agent) executeStep(ctx context.Context, step models.Step) error {
	if !a.replaying.CompareAndSwap(false, true) {
		return recorder.ErrBusy
	}
	defer a.replaying.Store(false)

	if !a.busy.TryLock() {
		return recorder.ErrBusy
	}
	defer a.busy.Unlock()

	if a.rec.Recording() {
		return recorder.ErrBusy
	}
	if err := a.requireEngine(ctx); err != nil {
		return err
	}

	// In-page work runs to completion; the caller bounds its own wait.
	return a.rep.ExecuteStep(context.WithoutCancel(ctx), step)
}

func (a *Agent) requireEngine(ctx context.Context) error {
	ok, err := pagescript.IsInstalled(ctx, a.page)
	if err != nil {
		return fmt.Errorf("probe page engine: %w", err)
	}
	if !ok {
		return transport.ErrReceiverMissing
	}
	return nil
}
