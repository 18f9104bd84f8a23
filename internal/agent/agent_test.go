package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"stepflow/internal/models"
	"stepflow/internal/pagescript"
	"stepflow/internal/recorder"
	"stepflow/internal/replayer"
	"stepflow/internal/transport"
	"stepflow/pkg/browser"
)

type fakePage struct {
	mu          sync.Mutex
	installed   bool
	initScripts int
	recording   bool
	queue       []map[string]any
	clicks      int
	blockClick  chan struct{}
}

func (p *fakePage) Evaluate(_ context.Context, expr string, out any) error {
	p.mu.Lock()
	var v any
	switch {
	case expr == pagescript.Installed:
		v = p.installed
	case expr == pagescript.Source:
		p.installed = true
		v = true
	case strings.HasSuffix(expr, ".start()"):
		p.recording = true
		v = true
	case strings.HasSuffix(expr, ".stop()"):
		p.recording = false
		v = true
	case strings.HasSuffix(expr, ".drain()"):
		v = map[string]any{"recording": p.recording, "events": p.queue}
		p.queue = nil
	case strings.Contains(expr, ".resolve("):
		v = replayer.Resolved{Found: true, Index: 0, Tag: "button"}
	case strings.Contains(expr, ".click("):
		p.clicks++
		block := p.blockClick
		p.mu.Unlock()
		if block != nil {
			<-block
		}
		return roundTrip(map[string]any{"ok": true}, out)
	default:
		v = map[string]any{"ok": true}
	}
	p.mu.Unlock()
	return roundTrip(v, out)
}

func roundTrip(v, out any) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *fakePage) AddInitScript(context.Context, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initScripts++
	return nil
}

func (p *fakePage) Navigate(context.Context, string) error { return nil }

func (p *fakePage) Info(context.Context) (browser.PageInfo, error) {
	return browser.PageInfo{URL: "https://shop.example/cart", Title: "Cart"}, nil
}

func (p *fakePage) Close() error { return nil }

func (p *fakePage) click(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, map[string]any{
		"kind":      "click",
		"key":       1,
		"timestamp": 1,
		"snapshot":  map[string]any{"html": html},
	})
}

func testOptions() Options {
	return Options{
		Capture:     recorder.Options{Debounce: 20 * time.Millisecond, PumpInterval: 5 * time.Millisecond},
		Replay:      replayer.Options{Timeout: 100 * time.Millisecond, PollInterval: 5 * time.Millisecond, Highlight: time.Millisecond},
		AutoInstall: true,
	}
}

// connect wires an agent to an in-process orchestrator endpoint that
// forwards recorded steps to the returned channel.
func connect(a *Agent) (*transport.Client, <-chan models.Step) {
	steps := make(chan models.Step, 8)
	sink := transport.HandlerFunc(func(_ context.Context, method transport.Method, params json.RawMessage) (any, error) {
		if method == transport.MethodRecordStep {
			var p transport.RecordStepParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			steps <- p.Step
		}
		return nil, nil
	})
	orchestrator, engine := transport.Pipe(sink, a)
	a.Bind(engine)
	return transport.NewClient(orchestrator), steps
}

func TestAgent_PingRequiresEngine(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	a := New(page, zap.NewNop(), testOptions())
	client, _ := connect(a)
	ctx := context.Background()

	if err := client.Ping(ctx); !errors.Is(err, transport.ErrReceiverMissing) {
		t.Fatalf("Ping() before install error = %v, want ErrReceiverMissing", err)
	}
	if err := client.Install(ctx); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping() after install error = %v", err)
	}
}

func TestAgent_AttachRegistersInitScript(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	a := New(page, zap.NewNop(), testOptions())
	if err := a.Attach(context.Background()); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if page.initScripts != 1 || !page.installed {
		t.Errorf("initScripts=%d installed=%v, want 1 and true", page.initScripts, page.installed)
	}
}

func TestAgent_RecordsAndNotifies(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	a := New(page, zap.NewNop(), testOptions())
	client, steps := connect(a)
	ctx := context.Background()
	if err := a.Attach(ctx); err != nil {
		t.Fatal(err)
	}

	if err := client.RecordingStarted(ctx); err != nil {
		t.Fatalf("RecordingStarted() error = %v", err)
	}
	page.click(`<html><body><a href="/checkout" data-sf-target="1">Checkout</a></body></html>`)

	select {
	case s := <-steps:
		if s.Type != models.StepClick || s.Selector != `a[href="/checkout"]` {
			t.Errorf("step = %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no step notified")
	}

	if err := client.RecordingStopped(ctx); err != nil {
		t.Fatalf("RecordingStopped() error = %v", err)
	}
	if a.Recording() {
		t.Error("agent still recording after RecordingStopped")
	}
}

func TestAgent_ReplayRejectedWhileRecording(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	a := New(page, zap.NewNop(), testOptions())
	client, _ := connect(a)
	ctx := context.Background()
	if err := a.Attach(ctx); err != nil {
		t.Fatal(err)
	}
	if err := client.RecordingStarted(ctx); err != nil {
		t.Fatal(err)
	}
	defer client.RecordingStopped(ctx)

	err := client.ExecuteStep(ctx, models.Step{Type: models.StepClick, Selector: "#buy"})
	if !errors.Is(err, recorder.ErrBusy) {
		t.Errorf("ExecuteStep() while recording error = %v, want ErrBusy", err)
	}
}

func TestAgent_OneReplayAtATime(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	page := &fakePage{blockClick: release}
	a := New(page, zap.NewNop(), testOptions())
	client, _ := connect(a)
	ctx := context.Background()
	if err := a.Attach(ctx); err != nil {
		t.Fatal(err)
	}

	first := make(chan error, 1)
	go func() {
		first <- client.ExecuteStep(ctx, models.Step{Type: models.StepClick, Selector: "#a"})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		page.mu.Lock()
		clicks := page.clicks
		page.mu.Unlock()
		if clicks == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first replay never reached the click")
		}
		time.Sleep(time.Millisecond)
	}

	if err := client.ExecuteStep(ctx, models.Step{Type: models.StepClick, Selector: "#b"}); !errors.Is(err, recorder.ErrBusy) {
		t.Errorf("concurrent ExecuteStep() error = %v, want ErrBusy", err)
	}
	if err := client.RecordingStarted(ctx); !errors.Is(err, recorder.ErrBusy) {
		t.Errorf("RecordingStarted() during replay error = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-first; err != nil {
		t.Errorf("first ExecuteStep() error = %v", err)
	}
}

func TestAgent_PageInfoAndUnknownStep(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	a := New(page, zap.NewNop(), testOptions())
	client, _ := connect(a)
	ctx := context.Background()
	if err := a.Attach(ctx); err != nil {
		t.Fatal(err)
	}

	info, err := client.GetPageInfo(ctx)
	if err != nil || info.Title != "Cart" {
		t.Errorf("GetPageInfo() = %+v, %v", info, err)
	}

	err = client.ExecuteStep(ctx, models.Step{Type: models.StepWait, Value: "100"})
	var unknown *replayer.UnknownStepTypeError
	if !errors.As(err, &unknown) {
		t.Errorf("ExecuteStep(wait) error = %v, want UnknownStepTypeError", err)
	}
}
