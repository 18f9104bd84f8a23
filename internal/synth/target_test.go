package synth

import "testing"

func TestClickTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		markup string
		raw    string
		want   string
	}{
		{"icon inside anchor", `<a href="/x"><span><i class="icon"></i></span></a>`, "i", "a"},
		{"text inside button", `<button><span>Save</span></button>`, "span", "button"},
		{"role button", `<div role="button" class="fake"><span>x</span></div>`, "span", "div"},
		{"onclick handler", `<section onclick="go()"><p>hi</p></section>`, "p", "section"},
		{"pointer card with class", `<div class="card" style="cursor: pointer"><span>t</span></div>`, "span", "div"},
		{"pointer without identity keeps raw", `<div style="cursor: pointer"><b>t</b></div>`, "b", "b"},
		{"plain element keeps raw", `<p><em>t</em></p>`, "em", "em"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snap := mustParse(t, tt.markup)
			got := ClickTarget(mustQuery(t, snap, tt.raw))
			if got.Tag() != tt.want {
				t.Errorf("promoted to %q, want %q", got.Tag(), tt.want)
			}
		})
	}
}

func TestClickTarget_EndToEndLocator(t *testing.T) {
	t.Parallel()
	recorded := mustParse(t, `<form><button id="submit-btn-3f29ac00-1b2c-4d5e-8f90-a1b2c3d4e5f6" data-testid="submit"><span data-sf-target="1">Submit</span></button></form>`)
	loc, err := New(recorded).Synthesize(ClickTarget(recorded.Target()))
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if loc != `[data-testid="submit"]` {
		t.Fatalf("locator = %q", loc)
	}

	later := mustParse(t, `<main><p>banner</p><div><button id="submit-btn-77aa0000-0000-4000-8000-000000000001" data-testid="submit">Submit</button></div></main>`)
	got := resolve(t, later, loc)
	if got == nil || got.ID() != "submit-btn-77aa0000-0000-4000-8000-000000000001" {
		t.Errorf("locator %q did not resolve after the page changed", loc)
	}
}
