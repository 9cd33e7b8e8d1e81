package search

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shellback/shellback/internal/scrollback"
)

// ErrInvalidPattern is returned when a query's pattern cannot be compiled
// (regex mode with malformed syntax). Callers treat it as zero matches plus
// an explicit signal; it never terminates a session.
var ErrInvalidPattern = errors.New("search: invalid pattern")

// Query describes a single search. A Query is immutable once issued.
type Query struct {
	Pattern       string `json:"pattern"`
	CaseSensitive bool   `json:"case_sensitive"`
	WholeWord     bool   `json:"whole_word"`
	Regex         bool   `json:"regex"`
}

// Match locates one occurrence of a query pattern inside the scrollback.
// Seq is the matched line's sequence number; Offset and Length are byte
// positions within the line text.
type Match struct {
	Seq    uint64 `json:"seq"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// Find scans a buffer snapshot for the query and returns every match in
// ascending (sequence, offset) order. Matches within a line never overlap.
// An empty pattern yields no matches. Find is a pure function: the same
// snapshot and query always produce the same result.
func Find(snapshot []scrollback.Line, q Query) ([]Match, error) {
	if q.Pattern == "" {
		return nil, nil
	}

	if q.Regex {
		return findRegex(snapshot, q)
	}
	return findLiteral(snapshot, q), nil
}

// findLiteral performs a plain substring scan, optionally case-folded and
// word-bounded. Case-insensitive matching folds in place rather than
// lowercasing the line first: folding can change a rune's encoded size
// ('İ' lowers to the one-byte 'i'), which would skew reported offsets.
func findLiteral(snapshot []scrollback.Line, q Query) []Match {
	var matches []Match
	for _, line := range snapshot {
		text := line.Text

		// Non-overlapping scan: resume after the end of each match.
		for start := 0; start < len(text); {
			var i, n int
			if q.CaseSensitive {
				i = strings.Index(text[start:], q.Pattern)
				n = len(q.Pattern)
			} else {
				i, n = foldIndex(text[start:], q.Pattern)
			}
			if i < 0 {
				break
			}
			off := start + i
			if !q.WholeWord || isWholeWord(text, off, n) {
				matches = append(matches, Match{Seq: line.Seq, Offset: off, Length: n})
				start = off + n
			} else {
				start = off + 1
			}
		}
	}
	return matches
}

// foldIndex locates the first occurrence of pattern in s under Unicode
// simple case folding and returns its byte offset in s together with the
// matched span's byte length. Returns (-1, 0) when there is no match.
func foldIndex(s, pattern string) (int, int) {
	for i := range s {
		if n := foldMatchLen(s[i:], pattern); n >= 0 {
			return i, n
		}
	}
	return -1, 0
}

// foldMatchLen returns the byte length of the prefix of s that matches
// pattern rune-for-rune under simple case folding, or -1.
func foldMatchLen(s, pattern string) int {
	n := 0
	for _, pr := range pattern {
		if n >= len(s) {
			return -1
		}
		sr, size := utf8.DecodeRuneInString(s[n:])
		if !foldEq(sr, pr) {
			return -1
		}
		n += size
	}
	return n
}

// foldEq reports whether two runes are equal under simple case folding,
// mirroring the per-rune comparison of strings.EqualFold.
func foldEq(sr, tr rune) bool {
	if sr == tr {
		return true
	}
	if tr < sr {
		sr, tr = tr, sr
	}
	r := unicode.SimpleFold(sr)
	for r != sr && r < tr {
		r = unicode.SimpleFold(r)
	}
	return r == tr
}

// findRegex compiles the pattern (with case and word-boundary modifiers
// applied) and scans each line for non-overlapping matches.
func findRegex(snapshot []scrollback.Line, q Query) ([]Match, error) {
	pattern := q.Pattern
	if q.WholeWord {
		pattern = `\b(?:` + pattern + `)\b`
	}
	if !q.CaseSensitive {
		pattern = `(?i)` + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, ErrInvalidPattern
	}

	var matches []Match
	for _, line := range snapshot {
		for _, loc := range re.FindAllStringIndex(line.Text, -1) {
			if loc[1] == loc[0] {
				// Zero-width match (e.g. pattern "a*"). Skip it; an empty
				// span is not a useful navigation target.
				continue
			}
			matches = append(matches, Match{Seq: line.Seq, Offset: loc[0], Length: loc[1] - loc[0]})
		}
	}
	return matches, nil
}

// isWholeWord reports whether text[off:off+length] is bounded by non-word
// runes (or the line edges) on both sides.
func isWholeWord(text string, off, length int) bool {
	if off > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:off])
		if isWordRune(r) {
			return false
		}
	}
	if off+length < len(text) {
		r, _ := utf8.DecodeRuneInString(text[off+length:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
