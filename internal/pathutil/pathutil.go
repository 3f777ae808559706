// Package pathutil normalizes and compares the slash-separated relative
// paths every tree variant keys its entries by. Normalization is
// memoized in a process-wide, append-only cache (spec.md §5(c)): paths
// repeat heavily across a build (the same few hundred relative paths get
// normalized on every Diff, every Readdir, every Projection.Entries), and
// the result never changes for a given input string, so the cache is safe
// to share across every tree instance in the process.
package pathutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nicolagi/fstree/internal/posixerr"
)

type result struct {
	path string
	err  error
}

var cache sync.Map // string -> result

// Normalize splits p on '/', drops empty segments and ".", and collapses
// ".." against whatever precedes it. A ".." that would climb above the
// tree root is an error: relative paths in this module can never escape
// the root they are rooted at.
func Normalize(p string) (string, error) {
	if v, ok := cache.Load(p); ok {
		r := v.(result)
		return r.path, r.err
	}
	path, err := normalize(p)
	cache.Store(p, result{path, err})
	return path, err
}

func normalize(p string) (string, error) {
	var stack []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return "", fmt.Errorf("%s: %w", p, posixerr.ErrInvalid)
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, seg)
		}
	}
	return strings.Join(stack, "/"), nil
}

// Join joins a normalized directory and a single path segment (or an
// already-normalized relative path), skipping empty operands.
func Join(dir, rel string) string {
	switch {
	case dir == "":
		return rel
	case rel == "":
		return dir
	default:
		return dir + "/" + rel
	}
}

// Dir returns the normalized parent of a normalized path, or "" if p is
// already a root-level entry.
func Dir(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Base returns the final path segment.
func Base(p string) string {
	i := strings.LastIndexByte(p, '/')
	return p[i+1:]
}

// IsAncestor reports whether ancestor is a proper prefix ancestor of p,
// i.e. p lies strictly inside the directory ancestor names.
func IsAncestor(ancestor, p string) bool {
	if ancestor == "" {
		return p != ""
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// Depth returns the number of path segments, with "" (the root) at depth 0.
func Depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}
