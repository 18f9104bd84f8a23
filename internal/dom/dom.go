// Package dom provides the read-only DOM surface the selector synthesizer
// works against, backed by an HTML snapshot of the page.
package dom

// Marker attributes stamped on a cloned document by the page script before it
// is serialised. They never appear in synthesized selectors.
const (
	MarkerPrefix = "data-sf-"
	TargetAttr   = "data-sf-target"
	PointerAttr  = "data-sf-pointer"
	// NodeAttr is stamped on every element that exists in the live DOM.
	NodeAttr = "data-sf-node"
)

// Element is a node of the snapshot seen by the synthesizer.
type Element interface {
	Tag() string
	Attr(name string) (string, bool)
	ID() string
	Classes() []string
	// Text is the trimmed text content.
	Text() string
	Parent() Element
	// Siblings returns the other element children of the parent.
	Siblings() []Element
	// NthOfType is the 1-based index among same-tag siblings.
	NthOfType() int
	// PointerCursor reports whether the computed cursor was "pointer".
	PointerCursor() bool
	Connected() bool
	Same(other Element) bool
}

// Document answers the uniqueness queries synthesis relies on.
type Document interface {
	Count(selector string) (int, error)
	CountText(tag, text string) (int, error)
	// QueryFirst returns the first element matching selector, or nil.
	QueryFirst(selector string) (Element, error)
	// QueryText returns the first element of tag whose trimmed text equals text.
	QueryText(tag, text string) (Element, error)
}
