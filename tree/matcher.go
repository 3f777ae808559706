package tree

import (
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/nicolagi/fstree/internal/pathutil"
)

type matcherKind uint8

const (
	matcherGlob matcherKind = iota
	matcherRegex
	matcherPredicate
)

// Matcher is the sum type a Projection's include/exclude lists are built
// from: a compiled glob, a compiled regular expression, or an arbitrary
// predicate function, mirroring the three matcher shapes a Minimatch- or
// regex-based file filter in this ecosystem is typically asked to accept.
type Matcher struct {
	kind matcherKind

	g        glob.Glob
	pattern  string
	anyDepth bool // pattern had no '/', so it matches the basename at any depth

	re *regexp.Regexp

	pred func(string) bool
}

// GlobMatcher compiles pattern with '/' as the path separator. A pattern
// containing no '/' is treated as matching the basename at any depth
// (e.g. "*.js" matches both "foo.js" and "src/foo.js"), the conventional
// meaning of a bare glob in this ecosystem's build tools.
func GlobMatcher(pattern string) (Matcher, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return Matcher{}, err
	}
	return Matcher{kind: matcherGlob, g: g, pattern: pattern, anyDepth: !strings.Contains(pattern, "/")}, nil
}

// RegexMatcher wraps a pre-compiled regular expression matched against
// the full tree-relative path.
func RegexMatcher(re *regexp.Regexp) Matcher {
	return Matcher{kind: matcherRegex, re: re}
}

// PredicateMatcher wraps an arbitrary predicate over the full
// tree-relative path.
func PredicateMatcher(fn func(path string) bool) Matcher {
	return Matcher{kind: matcherPredicate, pred: fn}
}

func (m Matcher) match(p string) bool {
	switch m.kind {
	case matcherGlob:
		if m.anyDepth {
			return m.g.Match(pathutil.Base(p))
		}
		return m.g.Match(p)
	case matcherRegex:
		return m.re.MatchString(p)
	case matcherPredicate:
		return m.pred(p)
	default:
		return false
	}
}

// couldMatchDescendant reports whether some path nested under dir might
// still satisfy this matcher, used to decide whether a Projection needs
// to descend into a directory that doesn't itself match an include
// filter. gobwas/glob has no native partial/prefix match, so for a
// segment-anchored pattern (one containing '/') this recompiles just the
// pattern's first N segments (N = dir's depth) and matches dir against
// that prefix glob — a directory whose path doesn't even satisfy the
// pattern's first few segments can never contain a matching descendant.
// Patterns with no '/' (any-depth) or containing "**" are treated
// conservatively as always possibly matching, since gobwas/glob gives
// "**" no special cross-segment meaning once separators are configured.
func (m Matcher) couldMatchDescendant(dir string) bool {
	if m.kind != matcherGlob {
		return true
	}
	if m.anyDepth || strings.Contains(m.pattern, "**") {
		return true
	}
	segments := strings.Split(m.pattern, "/")
	dirDepth := pathutil.Depth(dir)
	if dirDepth >= len(segments) {
		return true
	}
	prefixPattern := strings.Join(segments[:dirDepth], "/")
	g, err := glob.Compile(prefixPattern, '/')
	if err != nil {
		return true
	}
	return g.Match(dir)
}

func matchesAny(matchers []Matcher, p string) bool {
	for _, m := range matchers {
		if m.match(p) {
			return true
		}
	}
	return false
}

// allGlobs reports whether every matcher in the slice is a glob, the
// precondition for using couldMatchDescendant-based pruning at all.
func allGlobs(matchers []Matcher) bool {
	for _, m := range matchers {
		if m.kind != matcherGlob {
			return false
		}
	}
	return true
}
