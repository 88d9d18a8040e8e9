package domain

import "strings"

// SafeName maps a job name onto a single path element. Anything outside
// [A-Za-z0-9._-] becomes '_', so folder-style jobs ("team/orders") stay
// flat and "." or ".." never escape the state directory.
func SafeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
