package game

import "strings"

// Default delimiters the co-pilot is instructed to wrap code in.
const (
	DefaultOpenMarker  = "<code>"
	DefaultCloseMarker = "</code>"
)

// ExtractCode pulls the code block out of a completion. It starts after the first
// open marker and stops at the first close marker after it, or at end of text.
// ok is false when the open marker never appears.
func ExtractCode(text, open, close string) (code string, ok bool) {
	start := strings.Index(text, open)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(open):]
	if end := strings.Index(rest, close); end >= 0 {
		return rest[:end], true
	}
	return rest, true
}
