package util

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// NormalizeIdentifier lower-cases and trims an identity or email so the
// same address always maps to the same key.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// IsValidEmail reports whether s looks like an email address
func IsValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}

// SplitEmails splits a whitespace separated list into normalized,
// de-duplicated emails, keeping first-seen order.
func SplitEmails(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, field := range strings.Fields(s) {
		email := NormalizeIdentifier(field)
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out
}
