package synth

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	uuidPattern      = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	frameworkIDs     = regexp.MustCompile(`^(:r[0-9a-z]*:|«r[0-9a-z]*»|ember\d+|ext-gen\d+|yui_.*|react-select-\d+.*|mui-\d+.*|radix-.*|headlessui-.*)$`)
	numericPattern   = regexp.MustCompile(`^\d+$`)
	hexRunPattern    = regexp.MustCompile(`(?i)[0-9a-f]{8,}`)
	cssModulePattern = regexp.MustCompile(`__[a-zA-Z0-9_-]*[0-9][a-zA-Z0-9_-]*$`)
	prefixedHash     = regexp.MustCompile(`^(css|sc|jsx|emotion|tw|svelte|astro|styled)-[a-zA-Z0-9_-]+$`)
	shortHexClass    = regexp.MustCompile(`(?i)[0-9a-f]{6,}`)
)

const (
	maxIDLength    = 50
	maxClassLength = 30
)

// StableID reports whether id is likely to survive a page reload.
func StableID(id string) bool {
	switch {
	case id == "",
		len(id) > maxIDLength,
		uuidPattern.MatchString(id),
		frameworkIDs.MatchString(id),
		numericPattern.MatchString(id):
		return false
	}
	for _, run := range hexRunPattern.FindAllString(id, -1) {
		if hasDigitAndLetter(run) {
			return false
		}
	}
	return true
}

// StableClass reports whether a class name looks hand-written rather than
// generated by a CSS-in-JS or CSS-modules toolchain.
func StableClass(c string) bool {
	switch {
	case c == "",
		len(c) > maxClassLength,
		cssModulePattern.MatchString(c),
		prefixedHash.MatchString(c),
		looksLikeStyledCode(c):
		return false
	}
	for _, run := range shortHexClass.FindAllString(c, -1) {
		if hasDigitAndLetter(run) {
			return false
		}
	}
	return true
}

// StableClasses filters classes down to the stable ones, keeping order.
func StableClasses(classes []string) []string {
	out := make([]string, 0, len(classes))
	for _, c := range classes {
		if StableClass(c) {
			out = append(out, c)
		}
	}
	return out
}

// styled-components style codes: 5-8 letters with two or more inner capitals.
func looksLikeStyledCode(c string) bool {
	if len(c) < 5 || len(c) > 8 {
		return false
	}
	inner := 0
	for i, r := range c {
		if !unicode.IsLetter(r) {
			return false
		}
		if i > 0 && unicode.IsUpper(r) {
			inner++
		}
	}
	return inner >= 2
}

func hasDigitAndLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0 && strings.IndexFunc(s, unicode.IsLetter) >= 0
}
