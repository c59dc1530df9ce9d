// Package textutil provides text normalization shared by transcript
// post-processing and scoring.
package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// Normalize lowercases text and collapses whitespace runs to a single space
// so noisy transcripts compare consistently.
func Normalize(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return ""
	}
	return whitespaceRE.ReplaceAllString(lowered, " ")
}
