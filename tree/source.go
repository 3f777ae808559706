package tree

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nicolagi/fstree/config"
	"github.com/nicolagi/fstree/internal/pathutil"
	"github.com/nicolagi/fstree/internal/posixerr"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"
)

// maxConcurrentScans bounds how many subdirectories of one directory
// ensureSubtree lists at once, the way the teacher's tree.grow caps
// concurrent block fetches with a semaphore channel (tree/tree_walking.go).
// Each nested level gets its own semaphore, so the total number of
// listings in flight across the whole subtree is not capped.
const maxConcurrentScans = 32

// SourceTree is a read-only, lazily-scanned view of a real directory on
// disk. A fresh SourceTree has scanned nothing; each Readdir/Stat/Exists
// call scans only the directories it needs, and the result is cached for
// the tree's lifetime until Reread clears it.
type SourceTree struct {
	mu       sync.Mutex
	root     string
	scanned  map[string]struct{}
	entries  []Entry
	previous []Entry
	children []*Projection
	cfg      *config.Config
	logger   *log.Logger
}

// NewSourceTree opens root, which must be an existing absolute directory,
// as a lazily-scanned tree.
func NewSourceTree(root string, cfg *config.Config) (*SourceTree, error) {
	root, err := normalizeRoot(root)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &SourceTree{
		root:    root,
		scanned: map[string]struct{}{},
		cfg:     cfg,
		logger:  cfg.Logger(),
	}, nil
}

func (t *SourceTree) scan(dir string) ([]Entry, error) {
	full := filepath.Join(t.root, filepath.FromSlash(dir))
	des, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, de := range des {
		rel := pathutil.Join(dir, de.Name())
		e, ok := entryFromDisk(t.root, rel)
		if !ok {
			t.logger.WithFields(log.Fields{"path": rel}).Debug("discarding broken symlink or raced removal")
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// entryFromDisk lstats root/rel and, for a symlink, follows it once to
// classify it as File or Directory and records it as an ExternalLink.
// A symlink whose target cannot be stat'ed (broken, or denied) is
// reported via ok=false and silently discarded by the caller.
func entryFromDisk(root, rel string) (Entry, bool) {
	full := filepath.Join(root, filepath.FromSlash(rel))
	lst, err := os.Lstat(full)
	if err != nil {
		return Entry{}, false
	}
	if lst.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(full)
		if err != nil {
			return Entry{}, false
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(full), target)
		}
		st, err := os.Stat(full)
		if err != nil {
			return Entry{}, false
		}
		kind := File
		if st.IsDir() {
			kind = Directory
		}
		return Entry{
			Path: rel, Kind: kind, Mode: st.Mode(), Size: st.Size(), ModTime: st.ModTime(), HasStat: true,
			Link: Link{Kind: ExternalLink, External: target},
		}, true
	}
	kind := File
	if lst.IsDir() {
		kind = Directory
	}
	return Entry{Path: rel, Kind: kind, Mode: lst.Mode(), Size: lst.Size(), ModTime: lst.ModTime(), HasStat: true}, true
}

// ensureDir scans dir exactly once, merging the result into t.entries,
// and returns dir's freshly-scanned children (nil if already scanned).
func (t *SourceTree) ensureDir(dir string) ([]Entry, error) {
	t.mu.Lock()
	if _, ok := t.scanned[dir]; ok {
		t.mu.Unlock()
		return nil, nil
	}
	t.mu.Unlock()

	fresh, err := t.scan(dir)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.scanned[dir]; ok {
		return nil, nil
	}
	t.scanned[dir] = struct{}{}
	t.entries = mergeSorted(t.entries, fresh)
	return fresh, nil
}

// ensureSubtree recursively scans dir and every directory beneath it,
// fanning directory listings out across a bounded pool of goroutines.
func (t *SourceTree) ensureSubtree(dir string) error {
	fresh, err := t.ensureDir(dir)
	if err != nil {
		return err
	}
	g := new(errgroup.Group)
	sem := make(chan struct{}, maxConcurrentScans)
	for _, e := range fresh {
		if e.Kind != Directory || e.Link.Kind == ExternalLink {
			continue
		}
		child := e.Path
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			return t.ensureSubtree(child)
		})
	}
	return g.Wait()
}

func mergeSorted(existing, fresh []Entry) []Entry {
	if len(fresh) == 0 {
		return existing
	}
	combined := append(append([]Entry(nil), existing...), fresh...)
	sort.Slice(combined, func(i, j int) bool { return combined[i].Path < combined[j].Path })
	out := combined[:0:0]
	for _, e := range combined {
		if n := len(out); n > 0 && out[n-1].Path == e.Path {
			out[n-1] = e
			continue
		}
		out = append(out, e)
	}
	return out
}

func (t *SourceTree) Entries() ([]Entry, error) {
	if err := t.ensureSubtree(""); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...), nil
}

func (t *SourceTree) Paths() ([]string, error) {
	entries, err := t.Entries()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out, nil
}

func (t *SourceTree) Stat(path string) (Entry, error) {
	path, err := normalizeRel(path)
	if err != nil {
		return Entry{}, err
	}
	if path == "" {
		return Entry{Path: "", Kind: Directory}, nil
	}
	if _, err := t.ensureDir(pathutil.Dir(path)); err != nil {
		return Entry{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := BinarySearch(t.entries, path)
	if !ok {
		return Entry{}, posixerr.Path(posixerr.ErrNotExist, path)
	}
	return t.entries[idx], nil
}

// Exists answers without forcing a scan when possible: if path's parent
// directory has already been scanned, the cached entries settle it; only
// when the parent is still unscanned does this fall back to a direct
// os.Lstat on disk, rather than paying for a full Readdir via Stat just to
// answer a yes/no question.
func (t *SourceTree) Exists(path string) (bool, error) {
	path, err := normalizeRel(path)
	if err != nil {
		return false, err
	}
	if path == "" {
		return true, nil
	}
	parent := pathutil.Dir(path)

	t.mu.Lock()
	_, scanned := t.scanned[parent]
	if scanned {
		_, ok := BinarySearch(t.entries, path)
		t.mu.Unlock()
		return ok, nil
	}
	t.mu.Unlock()

	full := filepath.Join(t.root, filepath.FromSlash(path))
	if _, err := os.Lstat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *SourceTree) Readdir(path string) ([]Entry, error) {
	path, err := normalizeRel(path)
	if err != nil {
		return nil, err
	}
	if _, err := t.ensureDir(path); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Entry
	for _, e := range t.entries {
		if pathutil.Dir(e.Path) == path {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *SourceTree) ReadFile(path string, enc encoding.Encoding) ([]byte, error) {
	e, err := t.Stat(path)
	if err != nil {
		return nil, err
	}
	if e.Kind == Directory {
		return nil, posixerr.Path(posixerr.ErrIsDir, path)
	}
	var full string
	if e.Link.Kind == ExternalLink {
		full = e.Link.External
	} else {
		full = filepath.Join(t.root, filepath.FromSlash(path))
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	return decode(raw, enc)
}

func (t *SourceTree) Chdir(path string) (Tree, error) {
	return NewProjection(t, FilterOptions{Cwd: path})
}

func (t *SourceTree) Filtered(opts FilterOptions) (*Projection, error) {
	return NewProjection(t, opts)
}

func (t *SourceTree) Changes() ([]Change, error) {
	cur, err := t.Entries()
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	prev := t.previous
	t.mu.Unlock()
	return Diff(prev, cur, DefaultEquals), nil
}

// Reread invalidates every cached scan. If newRoot is given, the tree
// re-roots itself there first — the one case in this package where a
// tree's root is allowed to change after construction, since a SourceTree
// has no authored state that would be invalidated by moving underneath it.
func (t *SourceTree) Reread(newRoot ...string) error {
	t.mu.Lock()
	t.previous = append([]Entry(nil), t.entries...)
	t.scanned = map[string]struct{}{}
	t.entries = nil
	if len(newRoot) > 0 {
		root, err := normalizeRoot(newRoot[0])
		if err != nil {
			t.mu.Unlock()
			return err
		}
		t.root = root
	}
	t.mu.Unlock()
	t.notifyChildren()
	return nil
}

func (t *SourceTree) registerChild(p *Projection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.children = append(t.children, p)
}

func (t *SourceTree) notifyChildren() {
	t.mu.Lock()
	children := append([]*Projection(nil), t.children...)
	t.mu.Unlock()
	for _, c := range children {
		c.onParentReread()
	}
}
