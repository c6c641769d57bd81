package fenrir

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Classification is the verdict of Classify.
type Classification int

const (
	// Mutating is everything that is not ReadOnly, DDL included.
	Mutating Classification = iota
	// ReadOnly statements start with SELECT, or WITH followed by whitespace.
	ReadOnly
)

func (c Classification) String() string {
	if c == ReadOnly {
		return "read_only"
	}
	return "mutating"
}

// Classify decides whether sql is read-only or mutating from its leading
// keyword alone. Leading whitespace is ignored and the match is
// case-insensitive. Comments are not stripped and no further parsing is done:
// "WITH x AS (DELETE ...) SELECT" classifies as ReadOnly and relies on the
// read path's read-only transaction and unconditional rollback.
func Classify(sql string) (Classification, error) {
	s := strings.TrimLeftFunc(sql, unicode.IsSpace)
	if s == "" {
		return Mutating, ErrInvalidStatement
	}
	if hasPrefixFold(s, "SELECT") {
		return ReadOnly, nil
	}
	if hasPrefixFold(s, "WITH") {
		// "WITH" must be followed by a whitespace character, so "WITHIN",
		// "WITH(" and a bare "WITH" are Mutating.
		r, _ := utf8.DecodeRuneInString(s[len("WITH"):])
		if r != utf8.RuneError && unicode.IsSpace(r) {
			return ReadOnly, nil
		}
	}
	return Mutating, nil
}

// hasPrefixFold is an ASCII-only case-insensitive prefix test. prefix must
// be upper case.
func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		c := s[i]
		if 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c != prefix[i] {
			return false
		}
	}
	return true
}
