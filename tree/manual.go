package tree

import (
	"errors"
	"sort"

	"github.com/nicolagi/fstree/internal/pathutil"
	"github.com/nicolagi/fstree/internal/posixerr"
	"golang.org/x/text/encoding"
)

// ErrNoContent is returned by ManualTree.ReadFile: a ManualTree's entries
// are authored metadata for diffing purposes only, with no associated
// byte content.
var ErrNoContent = errors.New("manual tree entries have no associated content")

// ManualTree is the simplest Tree: a fixed, in-memory array of entries
// with no filesystem binding at all. It exists so tests (and callers that
// already have entry metadata from some other source) can build a Tree
// and diff or merge it without touching disk.
type ManualTree struct {
	entries  []Entry
	previous []Entry
	children []*Projection
}

// NewManualTree builds a ManualTree from entries, which need not be
// pre-sorted.
func NewManualTree(entries []Entry) *ManualTree {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return &ManualTree{entries: sorted, previous: sorted}
}

func (t *ManualTree) Entries() ([]Entry, error) {
	return append([]Entry(nil), t.entries...), nil
}

func (t *ManualTree) Paths() ([]string, error) {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Path
	}
	return out, nil
}

func (t *ManualTree) Stat(path string) (Entry, error) {
	path, err := normalizeRel(path)
	if err != nil {
		return Entry{}, err
	}
	if path == "" {
		return Entry{Path: "", Kind: Directory}, nil
	}
	idx, ok := BinarySearch(t.entries, path)
	if !ok {
		return Entry{}, posixerr.Path(posixerr.ErrNotExist, path)
	}
	return t.entries[idx], nil
}

func (t *ManualTree) Exists(path string) (bool, error) {
	_, err := t.Stat(path)
	if err != nil {
		if errors.Is(err, posixerr.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *ManualTree) Readdir(path string) ([]Entry, error) {
	path, err := normalizeRel(path)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range t.entries {
		if pathutil.Dir(e.Path) == path {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *ManualTree) ReadFile(path string, enc encoding.Encoding) ([]byte, error) {
	return nil, ErrNoContent
}

func (t *ManualTree) Chdir(path string) (Tree, error) {
	return NewProjection(t, FilterOptions{Cwd: path})
}

func (t *ManualTree) Filtered(opts FilterOptions) (*Projection, error) {
	return NewProjection(t, opts)
}

func (t *ManualTree) Changes() ([]Change, error) {
	return Diff(t.previous, t.entries, DefaultEquals), nil
}

func (t *ManualTree) Reread(newRoot ...string) error {
	if len(newRoot) > 0 {
		return posixerr.Path(posixerr.ErrInvalid, "manual tree has no root to change")
	}
	t.previous = append([]Entry(nil), t.entries...)
	t.notifyChildren()
	return nil
}

// Replace swaps the entry set wholesale, leaving the previous snapshot in
// place for the next Changes()/Reread(). This is how tests drive a
// ManualTree through a sequence of builds.
func (t *ManualTree) Replace(entries []Entry) {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	t.entries = sorted
}

func (t *ManualTree) registerChild(p *Projection) {
	t.children = append(t.children, p)
}

func (t *ManualTree) notifyChildren() {
	for _, c := range t.children {
		c.onParentReread()
	}
}
