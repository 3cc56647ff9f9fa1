package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Canonical lowercases, trims and collapses inner whitespace. Text
// fields scraped from different parts of a page are compared in this
// form.
func Canonical(s string) string {
	s = strings.ToLower(s)
	s = strings.TrimSpace(s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return s
}

// Squash is Canonical with all whitespace removed, for keys and
// identifiers where the portal is inconsistent about spacing.
func Squash(s string) string {
	s = strings.ToLower(s)
	s = strings.TrimSpace(s)
	s = whitespaceRegex.ReplaceAllString(s, "")
	return s
}

func ContainsAny(s string, needles []string) bool {
	s = Canonical(s)
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
