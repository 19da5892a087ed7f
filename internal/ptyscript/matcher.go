package ptyscript

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/gobwas/glob"
)

// MatcherKind selects the pattern language a match action uses
// (spec.md §4.9.2 "Matcher choice").
type MatcherKind string

const (
	MatcherLiteral MatcherKind = "literal"
	MatcherGlob    MatcherKind = "glob"
	MatcherPosix   MatcherKind = "posix"
)

// Matcher finds the first match of a compiled pattern in buf, returning
// the byte span to consume (spec.md §8: "match buffer after a successful
// match equals the pre-action buffer with its [0,b] prefix removed").
type Matcher interface {
	Find(buf []byte) (start, end int, ok bool)
}

func compileMatcher(kind MatcherKind, pattern string) (Matcher, error) {
	switch kind {
	case "", MatcherLiteral:
		return literalMatcher(pattern), nil
	case MatcherGlob:
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("ptyscript: compile glob %q: %w", pattern, err)
		}
		return globMatcher{g: g}, nil
	case MatcherPosix:
		re, err := regexp.CompilePOSIX(pattern)
		if err != nil {
			return nil, fmt.Errorf("ptyscript: compile posix regex %q: %w", pattern, err)
		}
		return posixMatcher{re: re}, nil
	default:
		return nil, fmt.Errorf("ptyscript: unknown matcher kind %q", kind)
	}
}

type literalMatcher string

func (m literalMatcher) Find(buf []byte) (int, int, bool) {
	idx := bytes.Index(buf, []byte(m))
	if idx < 0 {
		return 0, 0, false
	}
	return idx, idx + len(m), true
}

type posixMatcher struct{ re *regexp.Regexp }

func (m posixMatcher) Find(buf []byte) (int, int, bool) {
	loc := m.re.FindIndex(buf)
	if loc == nil {
		return 0, 0, false
	}
	return loc[0], loc[1], true
}

// globMatcher renders the pattern-language matcher via
// github.com/gobwas/glob. glob tests whole-string matching and exposes
// no match span, so on a match the consumed span is the entire buffer
// read so far rather than a minimal prefix — documented in DESIGN.md as
// an intentional narrowing of this matcher kind.
type globMatcher struct{ g glob.Glob }

func (m globMatcher) Find(buf []byte) (int, int, bool) {
	if len(buf) == 0 {
		return 0, 0, false
	}
	if m.g.Match(string(buf)) {
		return 0, len(buf), true
	}
	return 0, 0, false
}
