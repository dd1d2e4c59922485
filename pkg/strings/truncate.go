package strings

import (
	"strings"
)

// DefaultNameMaxLen is the widest file, album or device name shown in a
// table cell.
const DefaultNameMaxLen = 48

// MinTruncateLen is the smallest maxLen Truncate honors.
const MinTruncateLen = 4

// Truncate collapses whitespace in s to single spaces and shortens it to at
// most maxLen runes, marking a cut with "...". A maxLen below MinTruncateLen
// is raised to it.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// TruncateMiddle shortens s to at most maxLen runes by cutting out its
// middle, which keeps file extensions readable.
func TruncateMiddle(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	keep := maxLen - 3
	head := (keep + 1) / 2
	tail := keep - head
	return string(runes[:head]) + "..." + string(runes[len(runes)-tail:])
}
