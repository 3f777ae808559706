package tree

import "golang.org/x/text/encoding"

// Tree is the read-only capability set every concrete variant in this
// package implements: ManualTree, SourceTree, WritableTree, Projection
// and merge.Tree. A caller holding a Tree does not know or care which
// variant backs it, the way a caller of tree.Node in the teacher codebase
// never cared whether a node's block was local or fetched from storage.
type Tree interface {
	// Entries returns every entry in the tree, sorted by Path, including
	// entries reached through internal directory symlinks.
	Entries() ([]Entry, error)

	// Paths is a convenience projection of Entries onto just the paths.
	Paths() ([]string, error)

	// Stat returns the entry at path, or an ENOENT error. Stat("")
	// returns a synthetic directory entry for the tree's own root.
	Stat(path string) (Entry, error)

	// Exists is Stat with the ENOENT case folded into a false return
	// instead of an error.
	Exists(path string) (bool, error)

	// Readdir returns the direct children of path (path itself must be a
	// directory), sorted by Path.
	Readdir(path string) ([]Entry, error)

	// ReadFile returns the contents of the file at path. If enc is
	// non-nil, the raw bytes are transcoded through it before returning.
	ReadFile(path string, enc encoding.Encoding) ([]byte, error)

	// Chdir returns a Tree scoped to path, equivalent to
	// Filtered(FilterOptions{Cwd: path}).
	Chdir(path string) (Tree, error)

	// Filtered returns a Projection applying opts on top of this tree.
	Filtered(opts FilterOptions) (*Projection, error)

	// Changes returns the patch since the last Reread (or since
	// construction, if Reread was never called). merge.Tree instead
	// diffs against the result of its own previous Changes call.
	Changes() ([]Change, error)

	// Reread invalidates any cached view of the underlying data and
	// establishes a new baseline for the next Changes() call. Passing a
	// new root is only meaningful for SourceTree; every other variant
	// rejects it.
	Reread(newRoot ...string) error
}

// Writable extends Tree with the mutation operations only WritableTree
// supports.
type Writable interface {
	Tree

	Start()
	Stop()

	Mkdir(path string) error
	Mkdirp(path string) error
	Rmdir(path string) error
	Unlink(path string) error
	Remove(path string) error
	Empty(path string) error
	WriteFile(path string, data []byte) error
	Symlink(externalTarget, path string) error
	SymlinkToFacade(targetTree Tree, targetPath, localPath string) error
	UndoRootSymlink() error
}

// childRegistrar is implemented by tree variants capable of holding a
// set of dependent Projections that must be notified when Reread runs
// (spec.md §3.4's "every non-root tree holds a weak back-reference to its
// parent" ownership rule, inverted: the parent holds ordinary forward
// pointers instead, which are never removed once registered).
type childRegistrar interface {
	registerChild(p *Projection)
}

// BinarySearch finds path in a slice of entries sorted by Path.
func BinarySearch(entries []Entry, path string) (int, bool) {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entries[mid].Path < path {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(entries) && entries[lo].Path == path {
		return lo, true
	}
	return lo, false
}
