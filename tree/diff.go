package tree

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/andreyvit/diff"
	"github.com/nicolagi/fstree/internal/posixerr"
)

// Op identifies the five patch operations a Change can carry.
type Op uint8

const (
	OpMkdir Op = iota
	OpCreate
	OpChange
	OpRmdir
	OpUnlink
)

func (op Op) String() string {
	switch op {
	case OpMkdir:
		return "mkdir"
	case OpCreate:
		return "create"
	case OpChange:
		return "change"
	case OpRmdir:
		return "rmdir"
	case OpUnlink:
		return "unlink"
	default:
		return "unknown"
	}
}

// Change is one step of a patch produced by Diff or read off a
// WritableTree's change tracker.
type Change struct {
	Op    Op
	Path  string
	Entry Entry
}

func (c Change) String() string {
	return fmt.Sprintf("%s %s", c.Op, c.Path)
}

// EqualsFunc decides whether two entries at the same path are considered
// unchanged. Diff only calls it when both sides have the same Kind.
type EqualsFunc func(a, b Entry) bool

// DefaultEquals treats two directories as always equal (directory
// metadata is never diffed — only their presence/absence and their
// contents, which surface as separate entries, matter) and compares
// files by size, mtime and mode.
func DefaultEquals(a, b Entry) bool {
	if a.Kind == Directory && b.Kind == Directory {
		return true
	}
	return a.Size == b.Size && a.ModTime.Equal(b.ModTime) && a.Mode == b.Mode
}

// Diff walks two Path-sorted entry slices with two pointers and returns
// the patch that turns self into other. Patches are returned in the
// tree's canonical order: every remove first, in the reverse of the
// order they were encountered during the walk, followed by every add, in
// the order they were encountered. Reversing removals ensures a
// directory's children are always unlinked before the directory itself,
// without this package needing to reason about directory nesting at all
// — it falls out of sorted order plus the reversal.
func Diff(self, other []Entry, equals EqualsFunc) []Change {
	if equals == nil {
		equals = DefaultEquals
	}
	var removes, adds []Change
	i, j := 0, 0
	for i < len(self) && j < len(other) {
		a, b := self[i], other[j]
		switch {
		case a.Path < b.Path:
			removes = append(removes, removeChange(a))
			i++
		case a.Path > b.Path:
			adds = append(adds, addChange(b))
			j++
		default:
			switch {
			case a.Kind == b.Kind && equals(a, b):
				// Unchanged.
			case a.Kind == b.Kind:
				adds = append(adds, Change{Op: OpChange, Path: b.Path, Entry: b})
			default:
				removes = append(removes, removeChange(a))
				adds = append(adds, addChange(b))
			}
			i++
			j++
		}
	}
	for ; i < len(self); i++ {
		removes = append(removes, removeChange(self[i]))
	}
	for ; j < len(other); j++ {
		adds = append(adds, addChange(other[j]))
	}
	reverse(removes)
	return append(removes, adds...)
}

func reverse(c []Change) {
	for l, r := 0, len(c)-1; l < r; l, r = l+1, r-1 {
		c[l], c[r] = c[r], c[l]
	}
}

func removeChange(e Entry) Change {
	op := OpUnlink
	if e.Kind == Directory {
		op = OpRmdir
	}
	return Change{Op: op, Path: e.Path, Entry: e}
}

func addChange(e Entry) Change {
	op := OpMkdir
	if e.Kind == File {
		op = OpCreate
	}
	return Change{Op: op, Path: e.Path, Entry: e}
}

// ApplyDelegate supplies the five callbacks Apply dispatches a patch's
// changes to. Each callback receives the input-side and output-side
// absolute paths (inDir/outDir joined with the change's relative path)
// plus the relative path itself.
type ApplyDelegate struct {
	Mkdir  func(inPath, outPath, relPath string) error
	Create func(inPath, outPath, relPath string) error
	Change func(inPath, outPath, relPath string) error
	Rmdir  func(inPath, outPath, relPath string) error
	Unlink func(inPath, outPath, relPath string) error
}

// Apply walks patch in order, invoking the matching delegate callback for
// each change. It is the symmetric counterpart to Diff: Diff(a, b) fed
// through Apply against a copy of a's directory produces a copy of b's.
func Apply(patch []Change, inDir, outDir string, delegate ApplyDelegate) error {
	for _, c := range patch {
		in := filepath.Join(inDir, filepath.FromSlash(c.Path))
		out := filepath.Join(outDir, filepath.FromSlash(c.Path))
		var fn func(string, string, string) error
		var name string
		switch c.Op {
		case OpMkdir:
			fn, name = delegate.Mkdir, "Mkdir"
		case OpCreate:
			fn, name = delegate.Create, "Create"
		case OpChange:
			fn, name = delegate.Change, "Change"
		case OpRmdir:
			fn, name = delegate.Rmdir, "Rmdir"
		case OpUnlink:
			fn, name = delegate.Unlink, "Unlink"
		}
		if fn == nil {
			return fmt.Errorf("apply %s at %q: no %s delegate: %w", c.Op, c.Path, name, posixerr.ErrUnknownOperation)
		}
		if err := fn(in, out, c.Path); err != nil {
			return fmt.Errorf("apply %s at %q: %w", c.Op, c.Path, err)
		}
	}
	return nil
}

// RenderChanges renders a patch as one line per change, in canonical
// order, for use in test failure messages and debug logging.
func RenderChanges(patch []Change) []string {
	lines := make([]string, len(patch))
	for i, c := range patch {
		lines[i] = c.String()
	}
	return lines
}

// DiffChanges renders two patches as lines and returns a human-readable
// unified diff between them, for table-driven test failures where a raw
// []Change dump is hard to eyeball.
func DiffChanges(got, want []Change) string {
	lines := diff.LineDiffAsLines(strings.Join(RenderChanges(want), "\n"), strings.Join(RenderChanges(got), "\n"))
	return strings.Join(lines, "\n")
}
