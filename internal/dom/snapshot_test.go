package dom

import "testing"

func TestSnapshot_TargetAndMarkers(t *testing.T) {
	t.Parallel()
	snap, err := Parse(`<div class="row" data-sf-pointer="1"><button data-sf-target="1" data-testid="go">Go</button></div>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	target := snap.Target()
	if target == nil {
		t.Fatal("target not found")
	}
	if target.Tag() != "button" {
		t.Errorf("tag = %q, want button", target.Tag())
	}
	if _, ok := target.Attr(TargetAttr); ok {
		t.Error("marker attribute must be hidden")
	}
	if v, _ := target.Attr("data-testid"); v != "go" {
		t.Errorf("data-testid = %q, want go", v)
	}
	if target.PointerCursor() {
		t.Error("button was not marked as pointer")
	}
	if !target.Parent().PointerCursor() {
		t.Error("parent was marked as pointer")
	}
	if !target.Connected() {
		t.Error("target should be connected")
	}
}

func TestSnapshot_TargetMissing(t *testing.T) {
	t.Parallel()
	snap, _ := Parse(`<p>nothing marked</p>`)
	if snap.Target() != nil {
		t.Error("expected no target")
	}
}

func TestSnapshot_Queries(t *testing.T) {
	t.Parallel()
	snap, _ := Parse(`<ul><li> One </li><li>Two</li><li>Two</li></ul>`)

	n, err := snap.Count("li")
	if err != nil || n != 3 {
		t.Errorf("Count(li) = %d, %v", n, err)
	}
	n, _ = snap.CountText("li", "One")
	if n != 1 {
		t.Errorf("CountText(One) = %d, want 1 (text is trimmed)", n)
	}
	n, _ = snap.CountText("li", "Two")
	if n != 2 {
		t.Errorf("CountText(Two) = %d, want 2", n)
	}
	if _, err := snap.Count("li[["); err == nil {
		t.Error("expected error for invalid selector")
	}

	third, _ := snap.QueryFirst("li:nth-of-type(3)")
	if third == nil || third.NthOfType() != 3 {
		t.Fatalf("third li not found or wrong index")
	}
	if got := len(third.Siblings()); got != 2 {
		t.Errorf("siblings = %d, want 2", got)
	}
	two, _ := snap.QueryText("li", "Two")
	if two == nil || two.NthOfType() != 2 {
		t.Error("QueryText should return the first match")
	}
	if two.Same(third) {
		t.Error("distinct elements reported as same")
	}
}

func TestSnapshot_InlinePointerStyle(t *testing.T) {
	t.Parallel()
	snap, _ := Parse(`<div style="color: red; cursor: pointer">x</div>`)
	el, _ := snap.QueryFirst("div")
	if !el.PointerCursor() {
		t.Error("inline cursor:pointer should count as pointer")
	}
}

func TestParse_UnwrapsParserInsertedElements(t *testing.T) {
	t.Parallel()
	snap, err := Parse(`<html data-sf-node="1"><body data-sf-node="1"><table data-sf-node="1">` +
		`<tr data-sf-node="1"><td data-sf-node="1" data-sf-target="1">x</td></tr></table></body></html>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n, _ := snap.Count("tbody"); n != 0 {
		t.Errorf("tbody count = %d, want 0", n)
	}
	if n, _ := snap.Count("table > tr > td"); n != 1 {
		t.Errorf("table > tr > td count = %d, want 1", n)
	}
	if p := snap.Target().Parent().Parent(); p == nil || p.Tag() != "table" {
		t.Errorf("row parent = %v, want table", p)
	}

	// Without markers the parser's tree is kept as is.
	plain, _ := Parse(`<table><tr><td>x</td></tr></table>`)
	if n, _ := plain.Count("table > tbody > tr"); n != 1 {
		t.Error("unmarked snapshot lost its tbody")
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()
	light, _ := Parse(`<button class="play">Play</button>`)
	shadow, _ := Parse(`<button class="play" id="inner">Play</button><button>Stop</button>`)
	doc := Merge(light, shadow)

	if n, err := doc.Count("button.play"); err != nil || n != 2 {
		t.Errorf("Count(button.play) = %d, %v, want 2", n, err)
	}
	if n, _ := doc.CountText("button", "Play"); n != 2 {
		t.Errorf("CountText(Play) = %d, want 2", n)
	}
	el, _ := doc.QueryFirst("button.play")
	if el == nil || el.ID() != "" {
		t.Error("QueryFirst must search the light document first")
	}
	el, _ = doc.QueryText("button", "Stop")
	if el == nil || el.Tag() != "button" {
		t.Error("QueryText fell through to the shadow document")
	}
	if _, err := doc.Count("[["); err == nil {
		t.Error("expected error for invalid selector")
	}
}
