// Package chunker splits text into overlapping, rune-bounded windows.
package chunker

import (
	"errors"
	"strings"
)

var ErrInvalidWindow = errors.New("chunk size must be positive and overlap smaller than size")

// separators are tried in order when looking for a natural break near the end
// of a window.
var separators = []string{"\n\n", "\n", ". ", "? ", "! ", " "}

// Split cuts text into chunks of at most size runes, each starting overlap runes
// before the previous chunk's end. A window prefers to end on a paragraph, line,
// sentence or word boundary found in its last fifth. Output depends only on the
// input, so repeated runs produce identical boundaries.
func Split(text string, size, overlap int) ([]string, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrInvalidWindow
	}
	runes := []rune(text)
	n := len(runes)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + size
		if end >= n {
			end = n
		} else {
			end = breakPoint(runes, start, end, size)
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == n {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks, nil
}

func breakPoint(runes []rune, start, end, size int) int {
	floor := end - size/5
	if floor <= start {
		floor = start + 1
	}
	window := string(runes[floor:end])
	for _, sep := range separators {
		if i := strings.LastIndex(window, sep); i >= 0 {
			return floor + len([]rune(window[:i])) + len([]rune(sep))
		}
	}
	return end
}
