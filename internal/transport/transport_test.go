package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stepflow/internal/models"
	"stepflow/internal/recorder"
	"stepflow/internal/replayer"
	"stepflow/pkg/browser"
)

// engineHandler is a minimal page-engine side: it answers the vocabulary
// and fails steps whose selector starts with "#missing".
func engineHandler() Handler {
	return HandlerFunc(func(_ context.Context, method Method, params json.RawMessage) (any, error) {
		switch method {
		case MethodPing:
			return Pong{Pong: true}, nil
		case MethodGetPageInfo:
			return browser.PageInfo{URL: "https://example.com/", Title: "Example"}, nil
		case MethodExecuteStep:
			var p ExecuteStepParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			switch {
			case p.Step.Type == "hover":
				return nil, &replayer.UnknownStepTypeError{Type: p.Step.Type}
			case strings.HasPrefix(p.Step.Selector, "#missing"):
				return nil, &replayer.ElementNotFoundError{Locator: p.Step.Selector}
			case p.Step.Selector == "#busy":
				return nil, recorder.ErrBusy
			case p.Step.Selector == "#gone":
				return nil, ErrReceiverMissing
			case p.Step.Selector == "#boom":
				return nil, errors.New("boom")
			}
			return Ack{OK: true}, nil
		default:
			return Ack{OK: true}, nil
		}
	})
}

func checkVocabulary(t *testing.T, c *Client) {
	t.Helper()
	// Only Errorf here: the websocket test calls this off the test goroutine.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
		return
	}
	if err := c.RecordingStarted(ctx); err != nil {
		t.Errorf("RecordingStarted() error = %v", err)
		return
	}
	info, err := c.GetPageInfo(ctx)
	if err != nil || info.Title != "Example" {
		t.Errorf("GetPageInfo() = %+v, %v", info, err)
		return
	}
	if err := c.ExecuteStep(ctx, models.Step{Type: models.StepClick, Selector: "#ok"}); err != nil {
		t.Errorf("ExecuteStep(#ok) error = %v", err)
		return
	}

	err = c.ExecuteStep(ctx, models.Step{Type: models.StepClick, Selector: "#missing-btn"})
	var notFound *replayer.ElementNotFoundError
	if !errors.As(err, &notFound) || notFound.Locator != "#missing-btn" {
		t.Errorf("ExecuteStep(#missing-btn) error = %v, want ElementNotFoundError", err)
	}

	err = c.ExecuteStep(ctx, models.Step{Type: "hover", Selector: "#x"})
	var unknown *replayer.UnknownStepTypeError
	if !errors.As(err, &unknown) || unknown.Type != "hover" {
		t.Errorf("ExecuteStep(hover) error = %v, want UnknownStepTypeError", err)
	}

	if err := c.ExecuteStep(ctx, models.Step{Type: models.StepClick, Selector: "#busy"}); !errors.Is(err, recorder.ErrBusy) {
		t.Errorf("ExecuteStep(#busy) error = %v, want ErrBusy", err)
	}
	if err := c.ExecuteStep(ctx, models.Step{Type: models.StepClick, Selector: "#gone"}); !errors.Is(err, ErrReceiverMissing) {
		t.Errorf("ExecuteStep(#gone) error = %v, want ErrReceiverMissing", err)
	}

	err = c.ExecuteStep(ctx, models.Step{Type: models.StepClick, Selector: "#boom"})
	var wire *WireError
	if !errors.As(err, &wire) || wire.Reason != ReasonInternal || wire.Message != "boom" {
		t.Errorf("ExecuteStep(#boom) error = %v, want internal WireError", err)
	}
}

func TestPipe_Vocabulary(t *testing.T) {
	t.Parallel()

	orchestrator, _ := Pipe(nil, engineHandler())
	checkVocabulary(t, NewClient(orchestrator))
}

func TestPipe_NotifyReachesOtherSide(t *testing.T) {
	t.Parallel()

	got := make(chan models.Step, 1)
	sink := HandlerFunc(func(_ context.Context, method Method, params json.RawMessage) (any, error) {
		if method == MethodRecordStep {
			var p RecordStepParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			got <- p.Step
		}
		return nil, nil
	})
	_, engine := Pipe(sink, engineHandler())

	step := models.Step{Type: models.StepClick, Selector: "#a", Timestamp: 42}
	if err := engine.Notify(context.Background(), MethodRecordStep, RecordStepParams{Step: step}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if s := <-got; s != step {
		t.Errorf("received %+v, want %+v", s, step)
	}
}

func TestPipe_MissingHandlerAndClose(t *testing.T) {
	t.Parallel()

	a, _ := Pipe(nil, nil)
	if err := a.Call(context.Background(), MethodPing, nil, nil); !errors.Is(err, ErrReceiverMissing) {
		t.Errorf("Call() without handler error = %v, want ErrReceiverMissing", err)
	}
	a.Close()
	if err := a.Call(context.Background(), MethodPing, nil, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Call() after Close error = %v, want ErrClosed", err)
	}
	select {
	case <-a.Done():
	default:
		t.Error("Done() not closed after Close")
	}
}

func TestWireError_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		reason Reason
	}{
		{"not found", &replayer.ElementNotFoundError{Locator: "#x"}, ReasonElementNotFound},
		{"unknown", &replayer.UnknownStepTypeError{Type: "drag"}, ReasonUnknownStepType},
		{"missing", ErrReceiverMissing, ReasonReceiverMissing},
		{"busy", recorder.ErrBusy, ReasonBusy},
		{"wrapped busy", errors.Join(errors.New("ctx"), recorder.ErrBusy), ReasonBusy},
		{"other", errors.New("disk full"), ReasonInternal},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := ToWire(tt.err)
			if w.Reason != tt.reason {
				t.Fatalf("reason = %q, want %q", w.Reason, tt.reason)
			}
			data, err := json.Marshal(w)
			if err != nil {
				t.Fatal(err)
			}
			var back WireError
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatal(err)
			}
			if back.Err().Error() != tt.err.Error() && tt.reason != ReasonBusy {
				t.Errorf("rehydrated %q, want %q", back.Err(), tt.err)
			}
		})
	}
}

func TestPeer_Vocabulary(t *testing.T) {
	t.Parallel()

	recorded := make(chan models.Step, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		// The server plays the orchestrator here: it receives RecordStep
		// notifications and calls into the engine.
		h := HandlerFunc(func(_ context.Context, method Method, params json.RawMessage) (any, error) {
			if method == MethodRecordStep {
				var p RecordStepParams
				if err := json.Unmarshal(params, &p); err != nil {
					return nil, err
				}
				recorded <- p.Step
			}
			return nil, nil
		})
		peer := NewPeer(ws, h, zap.NewNop())
		go func() {
			checkVocabulary(t, NewClient(peer))
			peer.Close()
		}()
		peer.Run(r.Context())
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	engine := NewPeer(ws, engineHandler(), zap.NewNop())

	step := models.Step{Type: models.StepInput, Selector: "#q", Value: "x"}
	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(context.Background()) }()

	if err := engine.Notify(context.Background(), MethodRecordStep, RecordStepParams{Step: step}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	select {
	case got := <-recorded:
		if got != step {
			t.Errorf("recorded %+v, want %+v", got, step)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification not received")
	}

	select {
	case <-engine.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("engine peer did not observe server close")
	}
	<-runErr
}
