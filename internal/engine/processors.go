// engine/processors.go
package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TruncateObservation keeps the head and tail of long tool output so the
// conversation stays within the model's context window. limit counts runes;
// zero disables truncation.
func TruncateObservation(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	head := limit * 3 / 4
	tail := limit - head
	return fmt.Sprintf("%s\n...[truncated %d chars]...\n%s", string(r[:head]), len(r)-limit, string(r[len(r)-tail:]))
}

// Preview returns the first n runes of s on one line, followed by "...".
func Preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) > n {
		s = string([]rune(s)[:n])
	}
	return s + "..."
}
