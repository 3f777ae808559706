package tree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nicolagi/fstree/config"
	"github.com/nicolagi/fstree/internal/posixerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildProjectionFixture(t *testing.T) *SourceTree {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "my-directory", "subdir"), 0777))
	require.NoError(t, os.WriteFile(filepath.Join(root, "my-directory", "bar.js"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "my-directory", "readme.md"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "my-directory", "subdir", "baz.js"), []byte("x"), 0644))
	st, err := NewSourceTree(root, config.Default())
	require.NoError(t, err)
	return st
}

func TestProjectionCwdAndAnyDepthGlob(t *testing.T) {
	st := buildProjectionFixture(t)
	m, err := GlobMatcher("*.js")
	require.NoError(t, err)
	p, err := NewProjection(st, FilterOptions{Cwd: "my-directory", Include: []Matcher{m}})
	require.NoError(t, err)

	paths, err := p.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"bar.js", "subdir", "subdir/baz.js"}, paths)
}

func TestProjectionExcludePrunesWholeSubtree(t *testing.T) {
	st := buildProjectionFixture(t)
	exclude, err := GlobMatcher("subdir")
	require.NoError(t, err)
	p, err := NewProjection(st, FilterOptions{Cwd: "my-directory", Exclude: []Matcher{exclude}})
	require.NoError(t, err)

	paths, err := p.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"bar.js", "readme.md"}, paths)
}

func TestProjectionExplicitFiles(t *testing.T) {
	st := buildProjectionFixture(t)
	p, err := NewProjection(st, FilterOptions{Cwd: "my-directory", Files: []string{"bar.js", "subdir/baz.js"}, HasFiles: true})
	require.NoError(t, err)

	paths, err := p.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"bar.js", "subdir", "subdir/baz.js"}, paths)
}

func TestProjectionFilesIncompatibleWithIncludeExclude(t *testing.T) {
	st := buildProjectionFixture(t)
	_, err := NewProjection(st, FilterOptions{
		Files: []string{"a"}, HasFiles: true,
		Include: []Matcher{mustGlob(t, "*.js")},
	})
	assert.ErrorIs(t, err, posixerr.ErrIncompatibleFilters)
}

func mustGlob(t *testing.T, pattern string) Matcher {
	t.Helper()
	m, err := GlobMatcher(pattern)
	require.NoError(t, err)
	return m
}

func TestProjectionChdirComposesCwd(t *testing.T) {
	st := buildProjectionFixture(t)
	p, err := NewProjection(st, FilterOptions{Cwd: "my-directory"})
	require.NoError(t, err)
	sub, err := p.Chdir("subdir")
	require.NoError(t, err)
	paths, err := sub.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"baz.js"}, paths)
}

func TestProjectionChangesReflectsFilterNarrowing(t *testing.T) {
	st := buildProjectionFixture(t)
	p, err := NewProjection(st, FilterOptions{Cwd: "my-directory"})
	require.NoError(t, err)

	require.NoError(t, p.SetIncludeExclude([]Matcher{mustGlob(t, "*.js")}, nil))
	changes, err := p.Changes()
	require.NoError(t, err)

	var removed []string
	for _, c := range changes {
		if c.Op == OpUnlink {
			removed = append(removed, c.Path)
		}
	}
	assert.Contains(t, removed, "readme.md")
}

func TestProjectionRereadRebasesBaseline(t *testing.T) {
	st := buildProjectionFixture(t)
	p, err := NewProjection(st, FilterOptions{Cwd: "my-directory"})
	require.NoError(t, err)

	root := st.root
	require.NoError(t, os.WriteFile(filepath.Join(root, "my-directory", "new.js"), []byte("x"), 0644))
	require.NoError(t, st.Reread())

	// st.Reread notifies p synchronously, which rebases p's own baseline,
	// so by the time Changes() is observable here there is nothing left
	// to report.
	changes, err := p.Changes()
	require.NoError(t, err)
	assert.Empty(t, changes)
}
