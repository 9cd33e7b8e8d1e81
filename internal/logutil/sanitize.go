// Package logutil has helpers for safely including external data in log
// output.
package logutil

import "strings"

// SanitizeForLog strips newlines and other control characters from strings
// that originate outside the process (remote hostnames, terminal output,
// search patterns) so they cannot inject fake log entries.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case r < 32:
			return -1
		default:
			return r
		}
	}, s)
}

// Truncate shortens s to at most n runes for log output, appending an
// ellipsis when anything was cut. Terminal output lines can be thousands of
// bytes long; logs only need the head.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
