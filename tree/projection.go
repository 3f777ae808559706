package tree

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nicolagi/fstree/internal/pathutil"
	"github.com/nicolagi/fstree/internal/posixerr"
	"golang.org/x/text/encoding"
)

// FilterOptions configures a Projection. Files and Include/Exclude are
// mutually exclusive: setting Files means "show exactly these paths and
// nothing else", which would be meaningless to combine with a
// pattern-based filter.
type FilterOptions struct {
	// Cwd scopes the projection to a subdirectory of its parent; "" means
	// the parent's own root.
	Cwd string

	// Files, when HasFiles is true, restricts the projection to exactly
	// this explicit set of paths (each relative to Cwd).
	Files    []string
	HasFiles bool

	Include []Matcher
	Exclude []Matcher
}

// Projection layers a cwd offset and an include/exclude (or explicit
// file list) filter on top of another Tree. It is itself a Tree, so
// filters compose: Filtered(opts) on a Projection wraps it in another
// Projection rather than merging option sets.
type Projection struct {
	mu sync.Mutex

	parent Tree
	cwd    string

	files    []string
	hasFiles bool
	include  []Matcher
	exclude  []Matcher

	previous []Entry
}

// NewProjection builds a Projection of parent under opts. It takes an
// initial Entries() snapshot as its baseline for the first Changes() call
// and, if parent supports it, registers itself to be notified when
// parent is reread.
func NewProjection(parent Tree, opts FilterOptions) (*Projection, error) {
	if opts.HasFiles && (len(opts.Include) > 0 || len(opts.Exclude) > 0) {
		return nil, fmt.Errorf("projection: %w", posixerr.ErrIncompatibleFilters)
	}
	cwd, err := pathutil.Normalize(opts.Cwd)
	if err != nil {
		return nil, err
	}
	p := &Projection{
		parent:   parent,
		cwd:      cwd,
		files:    append([]string(nil), opts.Files...),
		hasFiles: opts.HasFiles,
		include:  append([]Matcher(nil), opts.Include...),
		exclude:  append([]Matcher(nil), opts.Exclude...),
	}
	if reg, ok := parent.(childRegistrar); ok {
		reg.registerChild(p)
	}
	cur, err := p.Entries()
	if err != nil {
		return nil, err
	}
	p.previous = cur
	return p, nil
}

// SetFiles switches the projection to an explicit file list, failing if
// include/exclude matchers are already set.
func (p *Projection) SetFiles(files []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.include) > 0 || len(p.exclude) > 0 {
		return fmt.Errorf("projection: %w", posixerr.ErrIncompatibleFilters)
	}
	p.files = append([]string(nil), files...)
	p.hasFiles = true
	return nil
}

// SetIncludeExclude switches the projection to pattern-based filtering,
// failing if an explicit file list is already set. A subsequent
// Changes() call naturally reflects the new filter, diffed against
// whatever snapshot the last Changes()/Reread() left in place.
func (p *Projection) SetIncludeExclude(include, exclude []Matcher) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasFiles {
		return fmt.Errorf("projection: %w", posixerr.ErrIncompatibleFilters)
	}
	p.include = append([]Matcher(nil), include...)
	p.exclude = append([]Matcher(nil), exclude...)
	return nil
}

// collect gathers every descendant entry under cwd/rel, relative to cwd,
// pruning descent into directories that cannot possibly contain a match
// when every include matcher is a glob (and no explicit file list is in
// effect, since then every path must be individually checked).
func (p *Projection) collect(cwd, rel string, include []Matcher, hasFiles bool) ([]Entry, error) {
	children, err := p.parent.Readdir(pathutil.Join(cwd, rel))
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, child := range children {
		name := pathutil.Base(child.Path)
		relPath := pathutil.Join(rel, name)
		out = append(out, child.Clone(relPath))
		if child.Kind == Directory && (hasFiles || shouldDescend(relPath, include)) {
			sub, err := p.collect(cwd, relPath, include, hasFiles)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}

func shouldDescend(dir string, include []Matcher) bool {
	if len(include) == 0 || !allGlobs(include) {
		return true
	}
	for _, m := range include {
		if m.couldMatchDescendant(dir) {
			return true
		}
	}
	return false
}

func matchPath(p string, fileSet map[string]struct{}, hasFiles bool, include, exclude []Matcher) bool {
	if p == "" {
		return false
	}
	if hasFiles {
		_, ok := fileSet[p]
		return ok
	}
	for anc := pathutil.Dir(p); anc != ""; anc = pathutil.Dir(anc) {
		if matchesAny(exclude, anc) {
			return false
		}
	}
	if matchesAny(exclude, p) {
		return false
	}
	if len(include) > 0 && !matchesAny(include, p) {
		return false
	}
	return true
}

func findRaw(raw []Entry, path string) (Entry, bool) {
	for _, e := range raw {
		if e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries computes the filtered view: every descendant under cwd that
// passes the filter, plus the minimal set of ancestor directory entries
// needed to reach them (an ancestor with no accepted descendant is never
// surfaced, so a projection never reports an empty directory it didn't
// explicitly match).
func (p *Projection) Entries() ([]Entry, error) {
	p.mu.Lock()
	cwd := p.cwd
	hasFiles := p.hasFiles
	files := append([]string(nil), p.files...)
	include := append([]Matcher(nil), p.include...)
	exclude := append([]Matcher(nil), p.exclude...)
	p.mu.Unlock()

	fileSet := map[string]struct{}{}
	if hasFiles {
		for _, f := range files {
			norm, err := pathutil.Normalize(f)
			if err != nil {
				return nil, err
			}
			fileSet[norm] = struct{}{}
		}
	}

	raw, err := p.collect(cwd, "", include, hasFiles)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Entry)
	for _, e := range raw {
		if matchPath(e.Path, fileSet, hasFiles, include, exclude) {
			out[e.Path] = e
			for anc := pathutil.Dir(e.Path); anc != ""; anc = pathutil.Dir(anc) {
				if _, ok := out[anc]; ok {
					break
				}
				ancEntry, ok := findRaw(raw, anc)
				if !ok {
					break
				}
				out[anc] = ancEntry
			}
		}
	}
	result := make([]Entry, 0, len(out))
	for _, e := range out {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

func (p *Projection) Paths() ([]string, error) {
	entries, err := p.Entries()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out, nil
}

func (p *Projection) Stat(rel string) (Entry, error) {
	rel, err := pathutil.Normalize(rel)
	if err != nil {
		return Entry{}, err
	}
	if rel == "" {
		return Entry{Path: "", Kind: Directory}, nil
	}
	entries, err := p.Entries()
	if err != nil {
		return Entry{}, err
	}
	idx, ok := BinarySearch(entries, rel)
	if !ok {
		return Entry{}, posixerr.Path(posixerr.ErrNotExist, rel)
	}
	return entries[idx], nil
}

func (p *Projection) Exists(rel string) (bool, error) {
	_, err := p.Stat(rel)
	if err != nil {
		if errors.Is(err, posixerr.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *Projection) Readdir(dir string) ([]Entry, error) {
	dir, err := pathutil.Normalize(dir)
	if err != nil {
		return nil, err
	}
	entries, err := p.Entries()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if pathutil.Dir(e.Path) == dir {
			out = append(out, e)
		}
	}
	return out, nil
}

func (p *Projection) ReadFile(rel string, enc encoding.Encoding) ([]byte, error) {
	if _, err := p.Stat(rel); err != nil {
		return nil, err
	}
	p.mu.Lock()
	cwd, parent := p.cwd, p.parent
	p.mu.Unlock()
	return parent.ReadFile(pathutil.Join(cwd, rel), enc)
}

func (p *Projection) Chdir(rel string) (Tree, error) {
	p.mu.Lock()
	cwd, parent, include, exclude, files, hasFiles := p.cwd, p.parent, p.include, p.exclude, p.files, p.hasFiles
	p.mu.Unlock()
	return NewProjection(parent, FilterOptions{
		Cwd:      pathutil.Join(cwd, rel),
		Files:    files,
		HasFiles: hasFiles,
		Include:  include,
		Exclude:  exclude,
	})
}

func (p *Projection) Filtered(opts FilterOptions) (*Projection, error) {
	return NewProjection(p, opts)
}

func (p *Projection) Changes() ([]Change, error) {
	p.mu.Lock()
	prev := p.previous
	p.mu.Unlock()
	cur, err := p.Entries()
	if err != nil {
		return nil, err
	}
	return Diff(prev, cur, DefaultEquals), nil
}

func (p *Projection) Reread(newRoot ...string) error {
	if len(newRoot) > 0 {
		return fmt.Errorf("projection: %w", posixerr.ErrInvalid)
	}
	cur, err := p.Entries()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.previous = cur
	p.mu.Unlock()
	return nil
}

// onParentReread is invoked by a parent tree's notifyChildren when the
// parent's own Reread runs, keeping this projection's snapshot aligned
// with its parent's invalidation cadence. Errors are swallowed here: a
// genuinely broken parent will also fail the caller's own explicit
// Reread/Changes call, which does propagate the error.
func (p *Projection) onParentReread() {
	_ = p.Reread()
}
