package utils

import "strings"

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Flatten collapses all whitespace runs in s into single spaces, for one-line
// snippet display.
func Flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
