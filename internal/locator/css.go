package locator

import (
	"fmt"
	"strings"
)

// EscapeIdent escapes s for use as a CSS identifier (an id or class name),
// following the CSSOM CSS.escape() algorithm.
func EscapeIdent(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune('�')
		case (r >= 0x1 && r <= 0x1f) || r == 0x7f,
			i == 0 && r >= '0' && r <= '9',
			i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r == '-' && len(runes) == 1:
			b.WriteString(`\-`)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		default:
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// QuoteAttr renders a double-quoted CSS attribute value.
func QuoteAttr(v string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range v {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\a `)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Attr builds an attribute-equality selector, optionally prefixed by a tag.
func Attr(tag, name, value string) string {
	return tag + "[" + name + "=" + QuoteAttr(value) + "]"
}

// AttrContains builds an attribute-substring selector.
func AttrContains(tag, name, value string) string {
	return tag + "[" + name + "*=" + QuoteAttr(value) + "]"
}

// ID builds an id selector.
func ID(id string) string {
	return "#" + EscapeIdent(id)
}
