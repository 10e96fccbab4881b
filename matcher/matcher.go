// Package matcher normalizes security labels so a rendered candidate can be
// matched against a target keyword by exact equality.
package matcher

import (
	"strings"
	"unicode"
)

// typeTags are the bond sub-type abbreviations stripped from labels.
var typeTags = []string{"EB", "eb", "CB", "cb", "BW", "bw"}

// Normalize drops all whitespace, removes type tags until none remain and
// truncates at the first "(". Normalize(Normalize(x)) == Normalize(x).
func Normalize(label string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, label)

	for {
		prev := s
		for _, tag := range typeTags {
			s = strings.ReplaceAll(s, tag, "")
		}
		if s == prev {
			break
		}
	}

	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	return s
}

// FindMatchingIndex returns the first index whose normalized label equals
// the normalized target, or -1, together with the total number of matches.
func FindMatchingIndex(candidates []string, target string) (int, int) {
	want := Normalize(target)
	idx, matches := -1, 0
	for i, c := range candidates {
		if Normalize(c) != want {
			continue
		}
		if idx < 0 {
			idx = i
		}
		matches++
	}
	return idx, matches
}
