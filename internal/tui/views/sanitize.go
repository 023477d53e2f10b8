package views

import (
	"strings"
	"unicode"
)

// sanitizeForTerminal makes remote text safe to hand to tview. Message
// bodies and names come from other users, so besides the emoji modifiers
// tcell cannot measure it strips control characters that would move the
// cursor or emit escape sequences, and bidi overrides that would reorder
// the line. Newlines and tabs survive; CR is dropped.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if dropRune(r) {
			return -1
		}
		return r
	}, s)
}

func dropRune(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case unicode.IsControl(r):
		return true
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tone modifiers
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF: // variation selectors
		return true
	case r >= 0x202A && r <= 0x202E, r >= 0x2066 && r <= 0x2069: // bidi embeddings and isolates
		return true
	}
	return false
}
