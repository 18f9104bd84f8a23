package synth

import "stepflow/internal/dom"

const maxPointerDepth = 5

var (
	interactiveTags = map[string]bool{"a": true, "button": true, "input": true, "select": true, "textarea": true}
	clickableRoles  = map[string]bool{"button": true, "link": true}
	pointerTags     = map[string]bool{"div": true, "span": true, "li": true}
)

// ClickTarget promotes a raw click target to its nearest clickable ancestor,
// so locators are not anchored to decorative icons or inner spans. The
// element itself is returned when nothing clickable encloses it.
func ClickTarget(el dom.Element) dom.Element {
	depth := 0
	for cur := el; cur != nil; cur = cur.Parent() {
		tag := cur.Tag()
		if tag == "body" || tag == "html" {
			break
		}
		if interactiveTags[tag] {
			return cur
		}
		if role, ok := cur.Attr("role"); ok && clickableRoles[role] {
			return cur
		}
		if _, ok := cur.Attr("onclick"); ok {
			return cur
		}
		if depth <= maxPointerDepth && pointerTags[tag] && cur.PointerCursor() && identifiable(cur) {
			return cur
		}
		depth++
	}
	return el
}

func identifiable(el dom.Element) bool {
	if el.ID() != "" || len(el.Classes()) > 0 {
		return true
	}
	for _, attr := range TestAttributes {
		if _, ok := el.Attr(attr); ok {
			return true
		}
	}
	return false
}
