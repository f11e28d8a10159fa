package stringutils

import (
	"strings"
	"unicode/utf8"
)

// IndentString prefixes each line of the string with indent.
// An empty string is returned unchanged.
func IndentString(str, indent string) string {
	if str == "" {
		return str
	}

	spl := strings.SplitAfter(str, "\n")
	return indent + strings.Join(spl, indent)
}

// Truncate shortens str to at most maxLen bytes, if it was shortened "..."
// is appended. The string is never cut inside a multi-byte UTF-8 sequence.
func Truncate(str string, maxLen int) string {
	if len(str) <= maxLen {
		return str
	}

	for maxLen > 0 && !utf8.RuneStart(str[maxLen]) {
		maxLen--
	}

	return str[:maxLen] + "..."
}
