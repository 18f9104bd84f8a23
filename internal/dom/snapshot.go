package dom

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Snapshot is a parsed copy of a document (or of a shadow root's content)
// captured around an event target.
type Snapshot struct {
	doc *goquery.Document
}

// Parse reads serialised HTML into a snapshot. When the page script stamped
// NodeAttr on the elements it cloned, elements the HTML parser synthesised
// (an implied tbody, say) are unwrapped so the tree matches the live DOM.
func Parse(markup string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if doc.Find("["+NodeAttr+"]").Length() > 0 {
		unwrapImplied(doc.Get(0))
	}
	return &Snapshot{doc: doc}, nil
}

// document skeleton the parser always creates; the page script serialises
// shadow content inside a synthetic html/body pair.
var skeleton = map[string]bool{"html": true, "head": true, "body": true}

func unwrapImplied(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		unwrapImplied(c)
		if c.Type == html.ElementNode && !skeleton[c.Data] && !hasAttr(c, NodeAttr) {
			for gc := c.FirstChild; gc != nil; gc = c.FirstChild {
				c.RemoveChild(gc)
				n.InsertBefore(gc, c)
			}
			n.RemoveChild(c)
		}
		c = next
	}
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

// Target returns the element the page script marked as the event target.
func (s *Snapshot) Target() Element {
	sel := s.doc.Find("[" + TargetAttr + "]").First()
	if sel.Length() == 0 {
		return nil
	}
	return &node{n: sel.Get(0)}
}

func (s *Snapshot) match(selector string) ([]*html.Node, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return s.doc.FindMatcher(m).Nodes, nil
}

func (s *Snapshot) Count(selector string) (int, error) {
	nodes, err := s.match(selector)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (s *Snapshot) QueryFirst(selector string) (Element, error) {
	nodes, err := s.match(selector)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return &node{n: nodes[0]}, nil
}

func (s *Snapshot) textMatches(tag, text string) []*html.Node {
	var out []*html.Node
	s.doc.Find(tag).Each(func(_ int, sel *goquery.Selection) {
		if strings.TrimSpace(sel.Text()) == text {
			out = append(out, sel.Get(0))
		}
	})
	return out
}

func (s *Snapshot) CountText(tag, text string) (int, error) {
	if _, err := cascadia.Compile(tag); err != nil {
		return 0, fmt.Errorf("invalid tag %q: %w", tag, err)
	}
	return len(s.textMatches(tag, text)), nil
}

func (s *Snapshot) QueryText(tag, text string) (Element, error) {
	if _, err := cascadia.Compile(tag); err != nil {
		return nil, fmt.Errorf("invalid tag %q: %w", tag, err)
	}
	nodes := s.textMatches(tag, text)
	if len(nodes) == 0 {
		return nil, nil
	}
	return &node{n: nodes[0]}, nil
}

type node struct {
	n *html.Node
}

func (e *node) Tag() string { return strings.ToLower(e.n.Data) }

func (e *node) Attr(name string) (string, bool) {
	if strings.HasPrefix(name, MarkerPrefix) {
		return "", false
	}
	for _, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *node) ID() string {
	id, _ := e.Attr("id")
	return id
}

func (e *node) Classes() []string {
	v, _ := e.Attr("class")
	return strings.Fields(v)
}

func (e *node) Text() string {
	return strings.TrimSpace(goquery.NewDocumentFromNode(e.n).Text())
}

func (e *node) Parent() Element {
	p := e.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return &node{n: p}
}

func (e *node) Siblings() []Element {
	if e.n.Parent == nil {
		return nil
	}
	var out []Element
	for c := e.n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c != e.n {
			out = append(out, &node{n: c})
		}
	}
	return out
}

func (e *node) NthOfType() int {
	i := 1
	for c := e.n.PrevSibling; c != nil; c = c.PrevSibling {
		if c.Type == html.ElementNode && c.Data == e.n.Data {
			i++
		}
	}
	return i
}

func (e *node) PointerCursor() bool {
	if hasAttr(e.n, PointerAttr) {
		return true
	}
	style, _ := e.Attr("style")
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(style, "cursor:pointer")
}

func (e *node) Connected() bool {
	for p := e.n; p != nil; p = p.Parent {
		if p.Type == html.DocumentNode {
			return true
		}
	}
	return false
}

func (e *node) Same(other Element) bool {
	o, ok := other.(*node)
	return ok && o.n == e.n
}
