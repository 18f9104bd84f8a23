// Package locator implements the locator grammar shared by synthesis and
// replay: a CSS selector, a comma-separated disjunction of CSS selectors, or
// the text-match form tag:text("literal").
package locator

import (
	"regexp"
	"strings"
)

type Kind int

const (
	KindCSS Kind = iota
	KindText
)

// Alternative is one branch of a locator disjunction.
type Alternative struct {
	Raw  string `json:"raw"`
	Kind Kind   `json:"kind"`
	Tag  string `json:"tag,omitempty"`
	Text string `json:"text,omitempty"`
}

var textMatchPattern = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9-]*):text\("((?:[^"\\]|\\.)*)"\)$`)

// Parse splits a locator into its alternatives and classifies each one.
func Parse(loc string) []Alternative {
	parts := Split(loc)
	alts := make([]Alternative, 0, len(parts))
	for _, p := range parts {
		if tag, text, ok := ParseText(p); ok {
			alts = append(alts, Alternative{Raw: p, Kind: KindText, Tag: tag, Text: text})
			continue
		}
		alts = append(alts, Alternative{Raw: p, Kind: KindCSS})
	}
	return alts
}

// Split breaks a locator on commas that are not nested inside quotes,
// brackets or parentheses. Empty parts are dropped.
func Split(loc string) []string {
	var (
		parts []string
		cur   strings.Builder
		depth int
		quote rune
		esc   bool
	)
	flush := func() {
		if p := strings.TrimSpace(cur.String()); p != "" {
			parts = append(parts, p)
		}
		cur.Reset()
	}
	for _, r := range loc {
		switch {
		case esc:
			esc = false
		case r == '\\':
			esc = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			if depth > 0 {
				depth--
			}
		case r == ',' && depth == 0:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return parts
}

// Text builds a text-match locator.
func Text(tag, text string) string {
	return strings.ToLower(tag) + `:text("` + escapeString(text) + `")`
}

// ParseText recognises a text-match locator and returns its tag and literal.
func ParseText(s string) (tag, text string, ok bool) {
	m := textMatchPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", "", false
	}
	return strings.ToLower(m[1]), unescapeString(m[2]), true
}

func escapeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '"':
			b.WriteRune('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeString(s string) string {
	var b strings.Builder
	esc := false
	for _, r := range s {
		if esc {
			if r == 'n' {
				b.WriteRune('\n')
			} else {
				b.WriteRune(r)
			}
			esc = false
			continue
		}
		if r == '\\' {
			esc = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
