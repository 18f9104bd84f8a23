package pagescript

import (
	"context"
	"errors"
	"strings"
	"testing"

	"stepflow/internal/dom"
)

type evalFunc func(ctx context.Context, expression string, out any) error

func (f evalFunc) Evaluate(ctx context.Context, expression string, out any) error {
	return f(ctx, expression, out)
}

func TestCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method string
		args   []any
		want   string
	}{
		{"drain", nil, "window.__stepflow.drain()"},
		{"highlight", []any{500}, "window.__stepflow.highlight(500)"},
		{"input", []any{`say "hi"`}, `window.__stepflow.input("say \"hi\"")`},
		{"resolve", []any{[]string{"#a", "b"}, 2}, `window.__stepflow.resolve(["#a","b"],2)`},
	}
	for _, tt := range tests {
		if got := Call(tt.method, tt.args...); got != tt.want {
			t.Errorf("Call(%s) = %s, want %s", tt.method, got, tt.want)
		}
	}
}

func TestSourceCarriesVersion(t *testing.T) {
	t.Parallel()

	for _, want := range []string{Global, IndicatorID, `"` + Version + `"`, "attachShadow", "MutationObserver"} {
		if !strings.Contains(Source, want) {
			t.Errorf("engine source is missing %q", want)
		}
	}
}

func TestSourceStampsSnapshotMarkers(t *testing.T) {
	t.Parallel()

	for _, attr := range []string{dom.TargetAttr, dom.PointerAttr, dom.NodeAttr} {
		if !strings.Contains(Source, `"`+attr+`"`) {
			t.Errorf("engine source never stamps %q", attr)
		}
	}
}

func TestInstall(t *testing.T) {
	t.Parallel()

	var evaluated []string
	page := evalFunc(func(_ context.Context, expression string, out any) error {
		evaluated = append(evaluated, expression)
		if b, ok := out.(*bool); ok {
			*b = true
		}
		return nil
	})

	if err := Install(context.Background(), page); err != nil {
		t.Fatalf("Install: %v", err)
	}
	ok, err := IsInstalled(context.Background(), page)
	if err != nil || !ok {
		t.Fatalf("IsInstalled = %v, %v", ok, err)
	}
	if len(evaluated) != 2 || evaluated[0] != Source || evaluated[1] != Installed {
		t.Errorf("evaluated %d expressions in the wrong order", len(evaluated))
	}

	broken := evalFunc(func(context.Context, string, any) error { return errors.New("target closed") })
	if err := Install(context.Background(), broken); err == nil || !strings.Contains(err.Error(), "target closed") {
		t.Errorf("Install on a closed target err = %v", err)
	}
}
