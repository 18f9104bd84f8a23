// Package synth turns a DOM element into a locator that is likely to resolve
// to the same element on a later load of the page.
package synth

import (
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"

	"stepflow/internal/dom"
	"stepflow/internal/locator"
)

// ErrSynthesisUnavailable is returned when no locator can be built, which in
// practice only happens for a nil or detached element.
var ErrSynthesisUnavailable = errors.New("synthesis unavailable: element is detached")

// TestAttributes are the test-marker attributes, in priority order.
var TestAttributes = []string{"data-testid", "data-test-id", "data-cy", "data-id"}

const (
	DefaultPathDepth = 5
	ShadowPathDepth  = 4
	maxTextLength    = 50
)

// Strategy is one step of the priority cascade. Build returns ok=false when
// the strategy does not apply to the element.
type Strategy struct {
	Name  string
	Build func(doc dom.Document, el dom.Element) (string, bool)
}

// Synthesizer evaluates the strategy cascade against one document.
type Synthesizer struct {
	doc        dom.Document
	strategies []Strategy
	pathDepth  int
	shadow     bool
}

type Option func(*Synthesizer)

// ForShadowRoot configures synthesis for a snapshot of a shadow root's
// content: the path never includes the synthetic body and is one level shorter.
func ForShadowRoot() Option {
	return func(s *Synthesizer) {
		s.shadow = true
		s.pathDepth = ShadowPathDepth
	}
}

// WithPathDepth caps the number of ancestor levels of the CSS path fallback.
func WithPathDepth(depth int) Option {
	return func(s *Synthesizer) { s.pathDepth = depth }
}

func New(doc dom.Document, opts ...Option) *Synthesizer {
	s := &Synthesizer{doc: doc, pathDepth: DefaultPathDepth}
	for _, opt := range opts {
		opt(s)
	}
	s.strategies = DefaultStrategies()
	return s
}

// DefaultStrategies returns the cascade in priority order, without the CSS
// path fallback which always applies.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "id", Build: byStableID},
		{Name: "test-attribute", Build: byTestAttribute},
		{Name: "name", Build: byFormName},
		{Name: "href", Build: byHref},
		{Name: "text", Build: byUniqueText},
		{Name: "aria-label", Build: uniqueAttr("aria-label", nil)},
		{Name: "title", Build: uniqueAttr("title", nil)},
		{Name: "class", Build: byStableClasses},
		{Name: "placeholder", Build: uniqueAttr("placeholder", map[string]bool{"input": true, "textarea": true})},
	}
}

// Synthesize returns the locator for el, or ErrSynthesisUnavailable.
func (s *Synthesizer) Synthesize(el dom.Element) (string, error) {
	loc, _, err := s.SynthesizeWithStrategy(el)
	return loc, err
}

// SynthesizeWithStrategy also reports which strategy produced the locator.
func (s *Synthesizer) SynthesizeWithStrategy(el dom.Element) (string, string, error) {
	if el == nil || !el.Connected() {
		return "", "", ErrSynthesisUnavailable
	}
	for _, st := range s.strategies {
		if loc, ok := st.Build(s.doc, el); ok {
			return loc, st.Name, nil
		}
	}
	return s.cssPath(el), "path", nil
}

func byStableID(_ dom.Document, el dom.Element) (string, bool) {
	if id := el.ID(); StableID(id) {
		return locator.ID(id), true
	}
	return "", false
}

func byTestAttribute(_ dom.Document, el dom.Element) (string, bool) {
	for _, attr := range TestAttributes {
		if v, ok := el.Attr(attr); ok && v != "" {
			return locator.Attr("", attr, v), true
		}
	}
	return "", false
}

var formTags = map[string]bool{"input": true, "select": true, "textarea": true}

func byFormName(_ dom.Document, el dom.Element) (string, bool) {
	if !formTags[el.Tag()] {
		return "", false
	}
	if v, ok := el.Attr("name"); ok && v != "" {
		return locator.Attr(el.Tag(), "name", v), true
	}
	return "", false
}

func byHref(doc dom.Document, el dom.Element) (string, bool) {
	if el.Tag() != "a" {
		return "", false
	}
	href, ok := el.Attr("href")
	if !ok || href == "" || href == "#" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	if sel := locator.Attr("a", "href", href); unique(doc, sel) {
		return sel, true
	}
	path, ok := hrefPath(href)
	if !ok {
		return "", false
	}
	if sel := locator.AttrContains("a", "href", path); unique(doc, sel) {
		return sel, true
	}
	return "", false
}

// hrefPath returns the path of href as it is written in the attribute,
// percent-escapes included, so a substring match still finds it.
func hrefPath(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	path := u.EscapedPath()
	if path == "" || path == "/" {
		return "", false
	}
	return path, true
}

var textTags = map[string]bool{"button": true, "a": true, "span": true, "div": true}

func byUniqueText(doc dom.Document, el dom.Element) (string, bool) {
	if !textTags[el.Tag()] {
		return "", false
	}
	text := el.Text()
	if n := utf8.RuneCountInString(text); n == 0 || n >= maxTextLength {
		return "", false
	}
	count, err := doc.CountText(el.Tag(), text)
	if err != nil || count != 1 {
		return "", false
	}
	return locator.Text(el.Tag(), text), true
}

func uniqueAttr(attr string, tags map[string]bool) func(dom.Document, dom.Element) (string, bool) {
	return func(doc dom.Document, el dom.Element) (string, bool) {
		if tags != nil && !tags[el.Tag()] {
			return "", false
		}
		v, ok := el.Attr(attr)
		if !ok || v == "" {
			return "", false
		}
		sel := locator.Attr(el.Tag(), attr, v)
		if unique(doc, sel) {
			return sel, true
		}
		return "", false
	}
}

func byStableClasses(doc dom.Document, el dom.Element) (string, bool) {
	classes := StableClasses(el.Classes())
	if len(classes) == 0 {
		return "", false
	}
	sel := el.Tag() + classSuffix(classes)
	if unique(doc, sel) {
		return sel, true
	}
	return "", false
}

func classSuffix(classes []string) string {
	var b strings.Builder
	for _, c := range classes {
		b.WriteByte('.')
		b.WriteString(locator.EscapeIdent(c))
	}
	return b.String()
}

func unique(doc dom.Document, selector string) bool {
	n, err := doc.Count(selector)
	return err == nil && n == 1
}
