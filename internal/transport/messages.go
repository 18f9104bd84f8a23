// Package transport carries the RPC vocabulary between the orchestrator and
// a page engine, either in process or over a websocket.
package transport

import (
	"encoding/json"
	"errors"

	"stepflow/internal/models"
	"stepflow/internal/recorder"
	"stepflow/internal/replayer"
)

type Method string

const (
	MethodPing             Method = "ping"
	MethodRecordingStarted Method = "recordingStarted"
	MethodRecordingStopped Method = "recordingStopped"
	MethodExecuteStep      Method = "executeStep"
	MethodGetPageInfo      Method = "getPageInfo"
	// MethodInstall asks the host to (re)inject the page engine.
	MethodInstall Method = "install"
	// MethodNavigate asks the host to load a URL in its tab.
	MethodNavigate Method = "navigate"
	// MethodRecordStep is sent by the engine, without expecting a reply.
	MethodRecordStep Method = "recordStep"
)

// Reason classifies a failure on the wire.
type Reason string

const (
	ReasonElementNotFound Reason = "element_not_found"
	ReasonUnknownStepType Reason = "unknown_step_type"
	ReasonReceiverMissing Reason = "receiver_missing"
	ReasonBusy            Reason = "busy"
	ReasonInternal        Reason = "internal"
)

// ErrReceiverMissing means the page engine is not present in the current
// document. Re-installing it and resending once is the only retry.
var ErrReceiverMissing = errors.New("page engine receiver missing")

// Envelope is one websocket frame. Requests carry an ID and a Method,
// notifications only a Method, responses only an ID.
type Envelope struct {
	ID     string          `json:"id,omitempty"`
	Method Method          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

type WireError struct {
	Message  string `json:"error"`
	Reason   Reason `json:"reason"`
	Locator  string `json:"locator,omitempty"`
	StepType string `json:"stepType,omitempty"`
}

func (w *WireError) Error() string { return w.Message }

type Pong struct {
	Pong bool `json:"pong"`
}

type Ack struct {
	OK bool `json:"ok"`
}

type ExecuteStepParams struct {
	Step models.Step `json:"step"`
}

type NavigateParams struct {
	URL string `json:"url"`
}

type RecordStepParams struct {
	Step models.Step `json:"step"`
}

// ToWire classifies err for the wire.
func ToWire(err error) *WireError {
	if err == nil {
		return nil
	}
	w := &WireError{Message: err.Error(), Reason: ReasonInternal}

	var notFound *replayer.ElementNotFoundError
	var unknown *replayer.UnknownStepTypeError
	switch {
	case errors.As(err, &notFound):
		w.Reason = ReasonElementNotFound
		w.Locator = notFound.Locator
	case errors.As(err, &unknown):
		w.Reason = ReasonUnknownStepType
		w.StepType = string(unknown.Type)
	case errors.Is(err, ErrReceiverMissing):
		w.Reason = ReasonReceiverMissing
	case errors.Is(err, recorder.ErrBusy):
		w.Reason = ReasonBusy
	}
	return w
}

// Err turns a wire error back into the typed error it was built from.
func (w *WireError) Err() error {
	if w == nil {
		return nil
	}
	switch w.Reason {
	case ReasonElementNotFound:
		return &replayer.ElementNotFoundError{Locator: w.Locator}
	case ReasonUnknownStepType:
		return &replayer.UnknownStepTypeError{Type: models.StepType(w.StepType)}
	case ReasonReceiverMissing:
		return ErrReceiverMissing
	case ReasonBusy:
		return recorder.ErrBusy
	default:
		return w
	}
}
