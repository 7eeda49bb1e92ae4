// Package ttsclean turns LLM-written markdown into text safe to hand to a
// speech synthesizer that accepts SSML-style markup.
package ttsclean

import (
	"html"
	"regexp"
	"strings"
)

var (
	emphasis = regexp.MustCompile(`\*+(.*?)\*+`)
	headings = regexp.MustCompile(`#+\s*`)
	blanks   = regexp.MustCompile(`\n{3,}`)
)

// Clean strips emphasis markers and heading hashes, then XML-escapes the rest.
func Clean(text string) string {
	text = emphasis.ReplaceAllString(text, "$1")
	text = headings.ReplaceAllString(text, "")
	text = blanks.ReplaceAllString(text, "\n\n")
	return html.EscapeString(strings.TrimSpace(text))
}
