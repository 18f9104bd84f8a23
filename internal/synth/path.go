package synth

import (
	"strconv"
	"strings"

	"stepflow/internal/dom"
	"stepflow/internal/locator"
)

// Attributes that can anchor the CSS path at an ancestor when the anchored
// path is already unique.
var anchorAttributes = append(append([]string{}, TestAttributes...), "name", "aria-label", "role")

// cssPath walks from el towards the root building tag[.classes][:nth-of-type]
// segments. It never fails for a connected element.
func (s *Synthesizer) cssPath(el dom.Element) string {
	var parts []string
	cur := el
	for depth := 0; cur != nil && depth <= s.pathDepth; depth++ {
		tag := cur.Tag()
		if tag == "html" || (s.shadow && tag == "body") {
			break
		}
		if depth > 0 {
			if id := cur.ID(); StableID(id) {
				parts = append([]string{locator.ID(id)}, parts...)
				break
			}
			if anchored, ok := s.anchorAt(cur, parts); ok {
				return anchored
			}
		}
		parts = append([]string{segment(cur)}, parts...)
		if tag == "body" {
			break
		}
		cur = cur.Parent()
	}
	return strings.Join(parts, " > ")
}

func (s *Synthesizer) anchorAt(ancestor dom.Element, rest []string) (string, bool) {
	for _, attr := range anchorAttributes {
		v, ok := ancestor.Attr(attr)
		if !ok || v == "" {
			continue
		}
		sel := strings.Join(append([]string{locator.Attr(ancestor.Tag(), attr, v)}, rest...), " > ")
		if unique(s.doc, sel) {
			return sel, true
		}
	}
	return "", false
}

func segment(el dom.Element) string {
	classes := StableClasses(el.Classes())
	seg := el.Tag() + classSuffix(classes)
	if hasLookalikeSibling(el, classes) {
		seg += ":nth-of-type(" + strconv.Itoa(el.NthOfType()) + ")"
	}
	return seg
}

func hasLookalikeSibling(el dom.Element, classes []string) bool {
	for _, sib := range el.Siblings() {
		if sib.Tag() == el.Tag() && sameClasses(StableClasses(sib.Classes()), classes) {
			return true
		}
	}
	return false
}

func sameClasses(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
