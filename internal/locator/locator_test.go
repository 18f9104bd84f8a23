package locator

import (
	"reflect"
	"testing"

	"github.com/andybalholm/cascadia"
)

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"#a", []string{"#a"}},
		{"#a, .b ,c", []string{"#a", ".b", "c"}},
		{`input[placeholder="a, b"], #x`, []string{`input[placeholder="a, b"]`, "#x"}},
		{`li:nth-child(2), button:text("Save, then exit")`, []string{"li:nth-child(2)", `button:text("Save, then exit")`}},
		{`a[title='x,y']`, []string{`a[title='x,y']`}},
		{` , ,`, nil},
	}
	for _, tt := range tests {
		if got := Split(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Split(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	got := Parse(`#save, BUTTON:text("Save \"draft\"")`)
	want := []Alternative{
		{Raw: "#save", Kind: KindCSS},
		{Raw: `BUTTON:text("Save \"draft\"")`, Kind: KindText, Tag: "button", Text: `Save "draft"`},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse = %+v, want %+v", got, want)
	}
}

func TestTextRoundTrip(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"Sign in", `He said "hi"`, `back\slash`, "two\nlines"} {
		loc := Text("A", text)
		tag, got, ok := ParseText(loc)
		if !ok || tag != "a" || got != text {
			t.Errorf("ParseText(Text(%q)) = %q, %q, %v", text, tag, got, ok)
		}
	}
	if _, _, ok := ParseText(`button:text(Save)`); ok {
		t.Error("unquoted literal should not parse")
	}
}

// Every CSS form the synthesizer emits must be accepted by a real selector
// engine.
func TestCSSBuildersCompile(t *testing.T) {
	t.Parallel()

	selectors := []string{
		ID("main"),
		ID("1st-item"),
		ID("-2x"),
		ID("-"),
		ID("a.b:c"),
		ID("naïve"),
		Attr("", "data-testid", "save"),
		Attr("input", "placeholder", `Say "hi"`),
		Attr("a", "title", `back\slash`),
		AttrContains("a", "href", "/checkout"),
		"." + EscapeIdent("w-1/2"),
	}
	for _, sel := range selectors {
		if _, err := cascadia.Compile(sel); err != nil {
			t.Errorf("%q does not compile: %v", sel, err)
		}
	}
}

func TestEscapeIdent(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"main":  "main",
		"1a":    `\31 a`,
		"-1":    `-\31 `,
		"-":     `\-`,
		"a.b":   `a\.b`,
		"a b":   `a\ b`,
		"snake": "snake",
	}
	for in, want := range tests {
		if got := EscapeIdent(in); got != want {
			t.Errorf("EscapeIdent(%q) = %q, want %q", in, got, want)
		}
	}
}
