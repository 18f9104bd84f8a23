package recorder

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"stepflow/internal/dom"
	"stepflow/internal/models"
	"stepflow/internal/pagescript"
	"stepflow/internal/synth"
)

const (
	eventClick  = "click"
	eventInput  = "input"
	eventChange = "change"
)

// maxTextLen caps the diagnostic text stored on a step.
const maxTextLen = 100

type rawEvent struct {
	Kind      string               `json:"kind"`
	Key       int                  `json:"key"`
	Value     string               `json:"value,omitempty"`
	Snapshot  *pagescript.Snapshot `json:"snapshot,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

type drainResult struct {
	Recording bool       `json:"recording"`
	Events    []rawEvent `json:"events"`
}

type describeResult struct {
	Found    bool                 `json:"found"`
	Value    string               `json:"value"`
	Snapshot *pagescript.Snapshot `json:"snapshot"`
}

func clickStep(ev rawEvent) (models.Step, error) {
	el, sel, err := locate(ev.Snapshot, true)
	if err != nil {
		return models.Step{}, err
	}
	return models.Step{
		Type:      models.StepClick,
		Selector:  sel,
		TagName:   el.Tag(),
		Text:      truncate(el.Text(), maxTextLen),
		InputType: attr(el, "type"),
		Timestamp: ev.Timestamp,
	}, nil
}

// changeStep records a select change as an input step carrying the chosen
// value.
func changeStep(ev rawEvent) (models.Step, error) {
	el, sel, err := locate(ev.Snapshot, false)
	if err != nil {
		return models.Step{}, err
	}
	return models.Step{
		Type:      models.StepInput,
		Selector:  sel,
		Value:     ev.Value,
		TagName:   el.Tag(),
		Timestamp: ev.Timestamp,
	}, nil
}

func inputStep(desc describeResult, ts int64) (models.Step, error) {
	el, sel, err := locate(desc.Snapshot, false)
	if err != nil {
		return models.Step{}, err
	}
	return models.Step{
		Type:      models.StepInput,
		Selector:  sel,
		Value:     desc.Value,
		TagName:   el.Tag(),
		InputType: attr(el, "type"),
		Timestamp: ts,
	}, nil
}

// locate parses a snapshot, optionally promotes its target to the element
// that owns the click, and synthesizes a locator for it.
func locate(snap *pagescript.Snapshot, promote bool) (dom.Element, string, error) {
	if snap == nil || snap.HTML == "" {
		return nil, "", fmt.Errorf("no snapshot: %w", synth.ErrSynthesisUnavailable)
	}
	doc, err := dom.Parse(snap.HTML)
	if err != nil {
		return nil, "", fmt.Errorf("parse snapshot: %w", err)
	}
	el := doc.Target()
	if el == nil {
		return nil, "", fmt.Errorf("snapshot has no target: %w", synth.ErrSynthesisUnavailable)
	}
	if promote {
		el = synth.ClickTarget(el)
	}

	var (
		scope dom.Document = doc
		opts  []synth.Option
	)
	if snap.Shadow {
		opts = append(opts, synth.ForShadowRoot())
		if snap.Light != "" {
			light, err := dom.Parse(snap.Light)
			if err != nil {
				return nil, "", fmt.Errorf("parse light document: %w", err)
			}
			scope = dom.Merge(light, doc)
		}
	}
	sel, err := synth.New(scope, opts...).Synthesize(el)
	if err != nil {
		return nil, "", err
	}
	return el, sel, nil
}

func attr(el dom.Element, name string) string {
	v, _ := el.Attr(name)
	return v
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
