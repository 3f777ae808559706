package tree

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nicolagi/fstree/config"
	"github.com/nicolagi/fstree/internal/pathutil"
	"github.com/nicolagi/fstree/internal/posixerr"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
)

type writableState uint8

const (
	stateStopped writableState = iota
	stateStarted
)

type writableMode uint8

const (
	modeWritable writableMode = iota
	modeDelegating
)

// WritableTree is a mutable, disk-backed tree that authors its own
// entries array directly in response to Mkdir/WriteFile/Unlink/etc.,
// rather than scanning for them (spec.md §3.4). Every mutation is
// recorded by a changeTracker so Changes() can report a patch without
// rescanning the filesystem.
//
// A WritableTree starts Stopped: mutators fail until Start is called,
// and Stop freezes it again, the way the teacher's own tree.Tree gates
// mutation on a running daemon rather than allowing writes at arbitrary
// points in its lifecycle.
type WritableTree struct {
	mu   sync.Mutex
	root string

	entries []Entry
	state   writableState
	mode    writableMode
	delegate Tree
	tracker *changeTracker

	children []*Projection
	cfg      *config.Config
	logger   *log.Logger
}

// NewWritableTree opens root, which must be an existing absolute
// directory, eagerly scanning its entire contents (unlike SourceTree,
// which scans lazily) since every subsequent mutation needs the full
// entries array present to find insertion points and detect collisions.
func NewWritableTree(root string, cfg *config.Config) (*WritableTree, error) {
	root, err := normalizeRoot(root)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	entries, err := scanTreeEager(root)
	if err != nil {
		return nil, err
	}
	return &WritableTree{
		root:    root,
		entries: entries,
		tracker: newChangeTracker(),
		cfg:     cfg,
		logger:  cfg.Logger(),
	}, nil
}

func scanTreeEager(root string) ([]Entry, error) {
	var out []Entry
	var walk func(rel string) error
	walk = func(rel string) error {
		full := filepath.Join(root, filepath.FromSlash(rel))
		des, err := os.ReadDir(full)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, de := range des {
			childRel := pathutil.Join(rel, de.Name())
			e, ok := entryFromDisk(root, childRel)
			if !ok {
				continue
			}
			out = append(out, e)
			if e.Kind == Directory && e.Link.Kind == NoLink {
				if err := walk(childRel); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Start puts the tree in the Started state and resets the change
// tracker, establishing a new baseline for the next Changes() call.
func (t *WritableTree) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracker = newChangeTracker()
	t.state = stateStarted
}

// Stop puts the tree back in the Stopped state; every mutator fails
// until the next Start.
func (t *WritableTree) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = stateStopped
}

func (t *WritableTree) checkStarted() error {
	if t.state != stateStarted {
		return fmt.Errorf("write on stopped tree: %w", posixerr.ErrStopped)
	}
	return nil
}

// requireParentDir assumes t.mu is held. It checks that path's parent
// directory exists and is a directory. The lookup is deliberately an exact
// one (BinarySearch, not find()): every directory this tree can actually
// write beneath is eagerly present in t.entries, so a parent only
// reachable through find()'s internal-link fallback is, by construction,
// on the far side of a graft with nothing mirrored on this tree's disk
// root — a write there would have to cross that symlink, which
// requireParentDir refuses rather than silently writing to the wrong
// place on disk.
func (t *WritableTree) requireParentDir(path string) error {
	parent := pathutil.Dir(path)
	if parent == "" {
		return nil
	}
	idx, ok := BinarySearch(t.entries, parent)
	if !ok {
		if _, crossable := t.find(parent); crossable {
			return posixerr.Path(posixerr.ErrSymlinkCross, parent)
		}
		return posixerr.Path(posixerr.ErrNotExist, parent)
	}
	e := t.entries[idx]
	if e.Kind != Directory || e.Link.Kind != NoLink {
		return posixerr.Path(posixerr.ErrNotDir, parent)
	}
	return nil
}

// find resolves path to an Entry, assuming t.mu is held. A path not
// exactly present in t.entries is checked against the nearest prefix
// ancestor found scanning backward; if that ancestor is an internal
// directory symlink, resolution is delegated to the linked tree (a file
// found that way carries an InternalLink so ReadFile reads it from that
// tree), and if it is an external directory symlink, the path is stat'ed
// on disk beneath the link's target.
func (t *WritableTree) find(path string) (Entry, bool) {
	if path == "" {
		return Entry{Path: "", Kind: Directory}, true
	}
	idx, ok := BinarySearch(t.entries, path)
	if ok {
		return t.entries[idx], true
	}
	for i := idx - 1; i >= 0; i-- {
		anc := t.entries[i]
		if !pathutil.IsAncestor(anc.Path, path) {
			continue
		}
		if anc.Kind == Directory && anc.Link.Kind == InternalLink {
			rest := strings.TrimPrefix(path, anc.Path+"/")
			e, err := anc.Link.Tree.Stat(rest)
			if err != nil {
				return Entry{}, false
			}
			c := e.Clone(path)
			if c.Kind == File && c.Link.Kind == NoLink {
				c.Link = Link{Kind: InternalLink, Tree: anc.Link.Tree, Target: rest}
			}
			return c, true
		}
		if anc.Kind == Directory && anc.Link.Kind == ExternalLink {
			target := filepath.Join(anc.Link.External, filepath.FromSlash(strings.TrimPrefix(path, anc.Path+"/")))
			st, err := os.Stat(target)
			if err != nil {
				return Entry{}, false
			}
			kind := File
			if st.IsDir() {
				kind = Directory
			}
			return Entry{Path: path, Kind: kind, Mode: st.Mode(), Size: st.Size(), ModTime: st.ModTime(), HasStat: true,
				Link: Link{Kind: ExternalLink, External: target}}, true
		}
		return Entry{}, false
	}
	return Entry{}, false
}

func (t *WritableTree) insert(e Entry) {
	idx, ok := BinarySearch(t.entries, e.Path)
	if ok {
		t.entries[idx] = e
		return
	}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = e
}

func (t *WritableTree) removeEntry(path string) {
	idx, ok := BinarySearch(t.entries, path)
	if !ok {
		return
	}
	t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
}

func (t *WritableTree) directChildren(dir string) []Entry {
	var out []Entry
	for _, e := range t.entries {
		if pathutil.Dir(e.Path) == dir {
			out = append(out, e)
		}
	}
	return out
}

func (t *WritableTree) track(op Op, path string, entry Entry) {
	t.tracker.track(op, path, entry)
}

// externalTargetOr resolves the on-disk path a write to path should
// target: the symlink's external target if existing carries one, else
// path joined onto the tree's own root.
func (t *WritableTree) externalTargetOr(existing Entry, existed bool, path string) string {
	if existed && existing.Link.Kind == ExternalLink {
		return existing.Link.External
	}
	return filepath.Join(t.root, filepath.FromSlash(path))
}

func (t *WritableTree) logMutation(op, path string) {
	t.logger.WithFields(log.Fields{"op": op, "path": path}).Debug("tree mutation")
}

// Mkdir creates an empty directory at path. path's parent must already
// exist and not itself be a symlink; path must not already exist.
func (t *WritableTree) Mkdir(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, err := normalizeRel(path)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("mkdir: %w", posixerr.ErrRootNotAllowed)
	}
	if err := t.checkStarted(); err != nil {
		return err
	}
	if err := t.requireParentDir(path); err != nil {
		return err
	}
	if _, ok := t.find(path); ok {
		return posixerr.Path(posixerr.ErrExist, path)
	}
	full := filepath.Join(t.root, filepath.FromSlash(path))
	if err := os.Mkdir(full, 0777); err != nil {
		return err
	}
	e := Entry{Path: path, Kind: Directory, Mode: os.ModeDir | 0777, ModTime: time.Now(), HasStat: true}
	t.insert(e)
	t.track(OpMkdir, path, e)
	t.logMutation("mkdir", path)
	return nil
}

// Mkdirp creates path and any missing ancestor directories.
func (t *WritableTree) Mkdirp(path string) error {
	path, err := normalizeRel(path)
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	cur := ""
	for _, seg := range splitSegments(path) {
		cur = pathutil.Join(cur, seg)
		t.mu.Lock()
		e, ok := t.find(cur)
		t.mu.Unlock()
		if ok {
			if e.Kind != Directory {
				return posixerr.Path(posixerr.ErrNotDir, cur)
			}
			continue
		}
		if err := t.Mkdir(cur); err != nil {
			return err
		}
	}
	return nil
}

// Rmdir removes an empty, non-symlinked directory at path.
func (t *WritableTree) Rmdir(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, err := normalizeRel(path)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("rmdir: %w", posixerr.ErrRootNotAllowed)
	}
	if err := t.checkStarted(); err != nil {
		return err
	}
	if err := t.requireParentDir(path); err != nil {
		return err
	}
	e, ok := t.find(path)
	if !ok {
		return posixerr.Path(posixerr.ErrNotExist, path)
	}
	if e.Kind != Directory || e.Link.Kind != NoLink {
		return posixerr.Path(posixerr.ErrNotDir, path)
	}
	if len(t.directChildren(path)) > 0 {
		return posixerr.Path(posixerr.ErrNotEmpty, path)
	}
	full := filepath.Join(t.root, filepath.FromSlash(path))
	if err := os.Remove(full); err != nil {
		return err
	}
	t.removeEntry(path)
	t.track(OpRmdir, path, e)
	t.logMutation("rmdir", path)
	return nil
}

// Unlink removes a file or a directory symlink at path. Unlinking a real
// (non-symlink) directory is EPERM; use Rmdir for that.
func (t *WritableTree) Unlink(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, err := normalizeRel(path)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("unlink: %w", posixerr.ErrRootNotAllowed)
	}
	if err := t.checkStarted(); err != nil {
		return err
	}
	if err := t.requireParentDir(path); err != nil {
		return err
	}
	e, ok := t.find(path)
	if !ok {
		return posixerr.Path(posixerr.ErrNotExist, path)
	}
	if e.Kind == Directory && e.Link.Kind == NoLink {
		return posixerr.Path(posixerr.ErrPermission, path)
	}
	full := filepath.Join(t.root, filepath.FromSlash(path))
	if err := os.Remove(full); err != nil {
		return err
	}
	t.removeEntry(path)
	t.track(OpUnlink, path, e)
	t.logMutation("unlink", path)
	return nil
}

// Remove dispatches to Rmdir or Unlink depending on what's at path.
func (t *WritableTree) Remove(path string) error {
	norm, err := normalizeRel(path)
	if err != nil {
		return err
	}
	t.mu.Lock()
	e, ok := t.find(norm)
	t.mu.Unlock()
	if !ok {
		return posixerr.Path(posixerr.ErrNotExist, norm)
	}
	if e.Kind == Directory && e.Link.Kind == NoLink {
		return t.Rmdir(path)
	}
	return t.Unlink(path)
}

// Empty recursively removes every entry under path (but not path
// itself), working bottom-up so Rmdir's empty-directory precondition is
// always satisfied by the time it runs.
func (t *WritableTree) Empty(path string) error {
	norm, err := normalizeRel(path)
	if err != nil {
		return err
	}
	t.mu.Lock()
	started := t.state == stateStarted
	var e Entry
	var ok bool
	if norm != "" {
		e, ok = t.find(norm)
	}
	t.mu.Unlock()
	if !started {
		return fmt.Errorf("empty: %w", posixerr.ErrStopped)
	}
	if norm != "" {
		if !ok {
			return posixerr.Path(posixerr.ErrNotExist, norm)
		}
		if e.Kind != Directory {
			return posixerr.Path(posixerr.ErrNotDir, norm)
		}
	}
	for {
		t.mu.Lock()
		children := t.directChildren(norm)
		t.mu.Unlock()
		if len(children) == 0 {
			return nil
		}
		for _, c := range children {
			if c.Kind == Directory && c.Link.Kind == NoLink {
				if err := t.Empty(c.Path); err != nil {
					return err
				}
			}
			if err := t.Remove(c.Path); err != nil {
				return err
			}
		}
	}
}

// WriteFile creates or overwrites the file at path with data. Writing
// bytes whose checksum matches the one recorded by an earlier WriteFile
// is a no-op: no disk I/O,
// no tracked change, matching the idempotent-build expectation that
// re-running a generator with unchanged output shouldn't perturb the
// tree's change log. An entry scanned from disk has no recorded
// checksum, so the first WriteFile to it always writes and is tracked.
func (t *WritableTree) WriteFile(path string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, err := normalizeRel(path)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("write_file: %w", posixerr.ErrRootNotAllowed)
	}
	if err := t.checkStarted(); err != nil {
		return err
	}
	if err := t.requireParentDir(path); err != nil {
		return err
	}
	existing, existed := t.find(path)
	if existed && existing.Kind == Directory {
		return posixerr.Path(posixerr.ErrIsDir, path)
	}
	sum := sha256.Sum256(data)
	if existed && bytes.Equal(existing.Checksum, sum[:]) {
		return nil
	}
	full := t.externalTargetOr(existing, existed, path)
	mode := os.FileMode(0644)
	if existed {
		mode = existing.Mode
	}
	if err := os.WriteFile(full, data, mode); err != nil {
		return err
	}
	info, err := os.Lstat(full)
	if err != nil {
		return err
	}
	e := Entry{Path: path, Kind: File, Mode: mode, Size: info.Size(), ModTime: info.ModTime(), HasStat: true, Checksum: append([]byte(nil), sum[:]...)}
	if existed {
		// Resolved §9: the tracked entry is updated even when path is an
		// External symlink, so Changes() reflects the write rather than
		// silently missing it.
		e.Link = existing.Link
	}
	t.insert(e)
	if existed {
		t.track(OpChange, path, e)
	} else {
		t.track(OpCreate, path, e)
	}
	t.logMutation("write_file", path)
	return nil
}

// Symlink creates an external symlink at path pointing at an arbitrary
// host filesystem path, or — when the Config says the filesystem can't
// create symlinks — a recursive copy standing in for one.
func (t *WritableTree) Symlink(externalTarget, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, err := normalizeRel(path)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("symlink: %w", posixerr.ErrRootNotAllowed)
	}
	if err := t.checkStarted(); err != nil {
		return err
	}
	if err := t.requireParentDir(path); err != nil {
		return err
	}
	if _, ok := t.find(path); ok {
		return posixerr.Path(posixerr.ErrExist, path)
	}
	full := filepath.Join(t.root, filepath.FromSlash(path))
	if err := symlinkOrCopy(t.cfg, externalTarget, full); err != nil {
		return err
	}
	st, err := os.Stat(full)
	if err != nil {
		return err
	}
	kind := File
	if st.IsDir() {
		kind = Directory
	}
	e := Entry{Path: path, Kind: kind, Mode: st.Mode(), ModTime: time.Now(), HasStat: true, Link: Link{Kind: ExternalLink, External: externalTarget}}
	t.insert(e)
	if kind == Directory {
		t.track(OpMkdir, path, e)
	} else {
		t.track(OpCreate, path, e)
	}
	t.logMutation("symlink", path)
	return nil
}

func (t *WritableTree) Entries() ([]Entry, error) {
	t.mu.Lock()
	mode := t.mode
	delegate := t.delegate
	own := append([]Entry(nil), t.entries...)
	t.mu.Unlock()
	if mode == modeDelegating {
		return delegate.Entries()
	}
	var out []Entry
	out = append(out, own...)
	for _, e := range own {
		if e.Kind == Directory && e.Link.Kind == InternalLink {
			sub, err := e.Link.Tree.Entries()
			if err != nil {
				return nil, err
			}
			for _, se := range sub {
				out = append(out, se.Clone(pathutil.Join(e.Path, se.Path)))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (t *WritableTree) Paths() ([]string, error) {
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

func (t *WritableTree) Stat(path string) (Entry, error) {
	t.mu.Lock()
	mode, delegate := t.mode, t.delegate
	t.mu.Unlock()
	if mode == modeDelegating {
		return delegate.Stat(path)
	}
	path, err := normalizeRel(path)
	if err != nil {
		return Entry{}, err
	}
	t.mu.Lock()
	e, ok := t.find(path)
	t.mu.Unlock()
	if !ok {
		return Entry{}, posixerr.Path(posixerr.ErrNotExist, path)
	}
	return e, nil
}

func (t *WritableTree) Exists(path string) (bool, error) {
	_, err := t.Stat(path)
	if err != nil {
		if errors.Is(err, posixerr.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *WritableTree) Readdir(path string) ([]Entry, error) {
	path, err := normalizeRel(path)
	if err != nil {
		return nil, err
	}
	entries, err := t.Entries()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if pathutil.Dir(e.Path) == path {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *WritableTree) ReadFile(path string, enc encoding.Encoding) ([]byte, error) {
	t.mu.Lock()
	mode, delegate := t.mode, t.delegate
	t.mu.Unlock()
	if mode == modeDelegating {
		return delegate.ReadFile(path, enc)
	}
	path, err := normalizeRel(path)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	e, ok := t.find(path)
	root := t.root
	t.mu.Unlock()
	if !ok {
		return nil, posixerr.Path(posixerr.ErrNotExist, path)
	}
	if e.Kind == Directory {
		return nil, posixerr.Path(posixerr.ErrIsDir, path)
	}
	var raw []byte
	switch e.Link.Kind {
	case ExternalLink:
		raw, err = os.ReadFile(e.Link.External)
	case InternalLink:
		return e.Link.Tree.ReadFile(e.Link.Target, enc)
	default:
		raw, err = os.ReadFile(filepath.Join(root, filepath.FromSlash(path)))
	}
	if err != nil {
		return nil, err
	}
	return decode(raw, enc)
}

func (t *WritableTree) Chdir(path string) (Tree, error) {
	return NewProjection(t, FilterOptions{Cwd: path})
}

func (t *WritableTree) Filtered(opts FilterOptions) (*Projection, error) {
	return NewProjection(t, opts)
}

// Changes returns the pending patch in canonical order: removes in
// reverse path order, then adds in forward path order.
func (t *WritableTree) Changes() ([]Change, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removes, adds []Change
	for _, c := range t.tracker.list() {
		if c.Op == OpRmdir || c.Op == OpUnlink {
			removes = append(removes, c)
		} else {
			adds = append(adds, c)
		}
	}
	sort.Slice(removes, func(i, j int) bool { return removes[i].Path > removes[j].Path })
	sort.Slice(adds, func(i, j int) bool { return adds[i].Path < adds[j].Path })
	return append(removes, adds...), nil
}

// Reread notifies any dependent Projections. A WritableTree's own
// entries array is always authoritative (kept in sync by every mutator),
// so there is nothing here to invalidate; re-rooting is never allowed.
// In Delegator mode the delegate itself is not reread (its own owner does
// that), but the Projections are still notified.
func (t *WritableTree) Reread(newRoot ...string) error {
	if len(newRoot) > 0 {
		return fmt.Errorf("writable tree: %w", posixerr.ErrInvalid)
	}
	t.notifyChildren()
	return nil
}

func (t *WritableTree) registerChild(p *Projection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.children = append(t.children, p)
}

func (t *WritableTree) notifyChildren() {
	t.mu.Lock()
	children := append([]*Projection(nil), t.children...)
	t.mu.Unlock()
	for _, c := range children {
		c.onParentReread()
	}
}
