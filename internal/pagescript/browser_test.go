package pagescript

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"stepflow/internal/dom"
	"stepflow/internal/locator"
	"stepflow/pkg/browser"
)

const fixturePage = `<!doctype html>
<html><head><title>fixture</title></head>
<body>
  <input id="name">
  <button id="plain">Plain</button>
  <div id="hidden" style="display:none"><span id="nested">inside</span></div>
  <div id="ghost" style="visibility:hidden">ghost</div>
  <div id="clear" style="opacity:0">clear</div>
  <div id="pinned" style="position:fixed;top:0;left:0">pinned</div>
  <div id="host"></div>
  <div id="grid"></div>
  <script>
    window.__log = [];
    const field = document.getElementById("name");
    Object.defineProperty(field, "value", {
      configurable: true,
      get() { return "framework"; },
      set(v) { window.__log.push("own-setter"); },
    });
    for (const type of ["input", "change", "keyup"]) {
      field.addEventListener(type, (ev) => window.__log.push(ev.type));
    }
    document.getElementById("plain").addEventListener("click", () => window.__log.push("plain-click"));
  </script>
</body></html>`

type fixture struct {
	ctx  context.Context
	page browser.Page
}

// openFixture starts a headless tab on the fixture page with the engine
// installed. The test is skipped when no Chrome is available.
func openFixture(t *testing.T) *fixture {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests are skipped in short mode")
	}
	if browser.GetChromePath() == "" {
		t.Skip("Chrome not found")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(fixturePage))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	page, err := browser.Open(ctx, browser.Options{Headless: true, Width: 1280, Height: 800}, srv.URL, zap.NewNop())
	if err != nil {
		t.Fatalf("open browser: %v", err)
	}
	t.Cleanup(func() { page.Close() })

	if err := Install(ctx, page); err != nil {
		t.Fatalf("install: %v", err)
	}
	return &fixture{ctx: ctx, page: page}
}

func (f *fixture) eval(t *testing.T, expr string, out any) {
	t.Helper()
	if err := f.page.Evaluate(f.ctx, expr, out); err != nil {
		t.Fatalf("evaluate %q: %v", expr, err)
	}
}

// run evaluates a statement block in the page.
func (f *fixture) run(t *testing.T, script string) {
	t.Helper()
	var ok bool
	f.eval(t, "(() => {"+script+"; return true; })()", &ok)
}

type drained struct {
	Recording bool `json:"recording"`
	Events    []struct {
		Kind     string    `json:"kind"`
		Key      int       `json:"key"`
		Value    string    `json:"value"`
		Snapshot *Snapshot `json:"snapshot"`
	} `json:"events"`
}

func TestEngineInBrowser_InputSequence(t *testing.T) {
	f := openFixture(t)

	var res struct {
		OK   bool   `json:"ok"`
		Kind string `json:"kind"`
	}
	var resolved struct {
		Found bool `json:"found"`
	}
	f.eval(t, Call("resolve", locator.Parse("#name")), &resolved)
	if !resolved.Found {
		t.Fatal("#name did not resolve")
	}
	f.eval(t, Call("input", "hello"), &res)
	if !res.OK || res.Kind != "value" {
		t.Fatalf("input result = %+v", res)
	}

	var log []string
	f.eval(t, "window.__log", &log)
	if got, want := strings.Join(log, ","), "input,change,keyup"; got != want {
		t.Errorf("events = %s, want %s (own setter must be bypassed)", got, want)
	}
	var value string
	f.eval(t, `Object.getOwnPropertyDescriptor(HTMLInputElement.prototype, "value").get.call(document.getElementById("name"))`, &value)
	if value != "hello" {
		t.Errorf("native value = %q, want hello", value)
	}
}

func TestEngineInBrowser_Visibility(t *testing.T) {
	f := openFixture(t)

	tests := []struct {
		selector string
		visible  bool
	}{
		{"#plain", true},
		{"#pinned", true},
		{"#hidden", false},
		{"#nested", false},
		{"#ghost", false},
		{"#clear", false},
	}
	for _, tt := range tests {
		var res struct {
			Found bool `json:"found"`
		}
		f.eval(t, Call("resolve", locator.Parse(tt.selector)), &res)
		if res.Found != tt.visible {
			t.Errorf("resolve(%s) found = %v, want %v", tt.selector, res.Found, tt.visible)
		}
	}
}

func TestEngineInBrowser_SyntheticClickFallback(t *testing.T) {
	f := openFixture(t)

	f.run(t, `document.getElementById("plain").click = () => { throw new Error("blocked"); }`)
	var resolved struct {
		Found bool `json:"found"`
	}
	f.eval(t, Call("resolve", locator.Parse("#plain")), &resolved)

	var res struct {
		OK       bool `json:"ok"`
		Fallback bool `json:"fallback"`
	}
	f.eval(t, Call("click"), &res)
	if !res.OK || !res.Fallback {
		t.Errorf("click result = %+v, want the synthetic fallback", res)
	}
	var log []string
	f.eval(t, "window.__log", &log)
	if len(log) != 1 || log[0] != "plain-click" {
		t.Errorf("page saw %v, want one click", log)
	}
}

func TestEngineInBrowser_Capture(t *testing.T) {
	f := openFixture(t)

	var started bool
	f.eval(t, Call("start"), &started)
	if !started {
		t.Fatal("start returned false")
	}

	drain := func(t *testing.T) drained {
		t.Helper()
		var d drained
		f.eval(t, Call("drain"), &d)
		return d
	}

	t.Run("indicator clicks are ignored", func(t *testing.T) {
		f.run(t, `document.getElementById("`+IndicatorID+`").click()`)
		if d := drain(t); len(d.Events) != 0 {
			t.Errorf("captured %d events from the indicator", len(d.Events))
		}
	})

	t.Run("click snapshot matches the live tree", func(t *testing.T) {
		f.run(t, `
			const table = document.createElement("table");
			const row = table.appendChild(document.createElement("tr"));
			row.appendChild(document.createElement("td")).textContent = "a";
			const cell = row.appendChild(document.createElement("td"));
			cell.appendChild(document.createElement("i")).id = "icon";
			document.getElementById("grid").appendChild(table);
			document.getElementById("icon").click()`)

		d := drain(t)
		if len(d.Events) != 1 || d.Events[0].Kind != "click" || d.Events[0].Snapshot == nil {
			t.Fatalf("events = %+v, want one click with a snapshot", d.Events)
		}
		snap, err := dom.Parse(d.Events[0].Snapshot.HTML)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if el := snap.Target(); el == nil || el.ID() != "icon" {
			t.Fatalf("snapshot target = %v, want #icon", el)
		}
		if n, _ := snap.Count("table > tr > td > i"); n != 1 {
			t.Errorf("table > tr > td > i matched %d elements, want 1", n)
		}
		if strings.Contains(d.Events[0].Snapshot.HTML, IndicatorID) {
			t.Error("snapshot carries the recording indicator")
		}
	})

	t.Run("shadow root attached after start", func(t *testing.T) {
		f.run(t, `
			const root = document.getElementById("host").attachShadow({ mode: "open" });
			root.innerHTML = '<select name="speed"><option value="1">1x</option><option value="2">2x</option></select>'`)
		f.run(t, `
			const sel = document.getElementById("host").shadowRoot.querySelector("select");
			sel.value = "2";
			sel.dispatchEvent(new Event("change", { bubbles: true }))`)

		var stats struct {
			ShadowRoots int `json:"shadowRoots"`
		}
		f.eval(t, Call("stats"), &stats)
		if stats.ShadowRoots < 1 {
			t.Errorf("shadowRoots = %d, want the new root attached", stats.ShadowRoots)
		}

		d := drain(t)
		if len(d.Events) != 1 {
			t.Fatalf("events = %+v, want the change inside the shadow root", d.Events)
		}
		ev := d.Events[0]
		if ev.Kind != "change" || ev.Value != "2" {
			t.Errorf("event = %+v, want change to 2", ev)
		}
		if ev.Snapshot == nil || !ev.Snapshot.Shadow || ev.Snapshot.Light == "" {
			t.Errorf("snapshot = %+v, want a shadow snapshot with the light document", ev.Snapshot)
		}
	})

	var stopped bool
	f.eval(t, Call("stop"), &stopped)
	if !stopped {
		t.Error("stop returned false")
	}
}
