// Package security cleans user-supplied text before it is stored or relayed.
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer turns untrusted input into plain text.
type Sanitizer interface {
	Sanitize(s string) string
}

// TextSanitizer strips every HTML element and attribute and keeps the text.
// Entities escaped by the policy are decoded back, so "a < b" survives as typed;
// clients must still escape on render.
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer builds a sanitizer over bluemonday's strict policy.
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize removes markup. Safe for concurrent use.
func (s *TextSanitizer) Sanitize(in string) string {
	if in == "" {
		return ""
	}
	return html.UnescapeString(s.policy.Sanitize(in))
}
