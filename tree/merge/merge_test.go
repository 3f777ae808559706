package merge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nicolagi/fstree/config"
	"github.com/nicolagi/fstree/internal/posixerr"
	"github.com/nicolagi/fstree/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0777))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func TestMergeOverlayDisjointInputs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "only-a.txt", "a")
	writeFile(t, b, "only-b.txt", "b")

	m, err := NewFromPaths([]string{a, b}, Options{}, config.Default())
	require.NoError(t, err)

	paths, err := m.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"only-a.txt", "only-b.txt"}, paths)
}

func TestMergeSingleInputDirectoryIsSymlinkedThrough(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "dir/only-a.txt", "a")
	writeFile(t, b, "only-b.txt", "b")

	m, err := NewFromPaths([]string{a, b}, Options{}, config.Default())
	require.NoError(t, err)

	e, err := m.Stat("dir")
	require.NoError(t, err)
	assert.True(t, e.LinkDir)
}

func TestMergeSingleInputDirectoryDescendantsAppearInEntries(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "bar/baz", "x")
	writeFile(t, a, "qux", "q-a")
	writeFile(t, b, "c/d", "y")
	writeFile(t, b, "qux", "q-b")

	m, err := NewFromPaths([]string{a, b}, Options{Overwrite: true}, config.Default())
	require.NoError(t, err)

	bar, err := m.Stat("bar")
	require.NoError(t, err)
	assert.True(t, bar.LinkDir)
	c, err := m.Stat("c")
	require.NoError(t, err)
	assert.True(t, c.LinkDir)

	paths, err := m.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"bar", "bar/baz", "c", "c/d", "qux"}, paths)

	data, err := m.ReadFile("bar/baz", nil)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestMergeMultiInputDirectoryIsRecursed(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "shared/from-a.txt", "a")
	writeFile(t, b, "shared/from-b.txt", "b")

	m, err := NewFromPaths([]string{a, b}, Options{}, config.Default())
	require.NoError(t, err)

	e, err := m.Stat("shared")
	require.NoError(t, err)
	assert.False(t, e.LinkDir)

	paths, err := m.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"shared", "shared/from-a.txt", "shared/from-b.txt"}, paths)
}

func TestMergeFileConflictRefusedByDefault(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "f.txt", "a")
	writeFile(t, b, "f.txt", "b")

	m, err := NewFromPaths([]string{a, b}, Options{}, config.Default())
	require.NoError(t, err)

	_, err = m.Entries()
	assert.ErrorIs(t, err, posixerr.ErrOverwriteRefused)
}

func TestMergeFileConflictLastInputWinsWithOverwrite(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "f.txt", "from-a")
	writeFile(t, b, "f.txt", "from-b")

	m, err := NewFromPaths([]string{a, b}, Options{Overwrite: true}, config.Default())
	require.NoError(t, err)

	data, err := m.ReadFile("f.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-b", string(data))
}

func TestMergeConflictingCapitalization(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "Foo.txt", "a")
	writeFile(t, b, "foo.txt", "b")

	m, err := NewFromPaths([]string{a, b}, Options{Overwrite: true}, config.Default())
	require.NoError(t, err)

	_, err = m.Entries()
	assert.ErrorIs(t, err, posixerr.ErrConflictingCapitalization)
}

func TestMergeConflictingFileType(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "thing", "a file")
	require.NoError(t, os.MkdirAll(filepath.Join(b, "thing"), 0777))

	m, err := NewFromPaths([]string{a, b}, Options{}, config.Default())
	require.NoError(t, err)

	_, err = m.Entries()
	assert.ErrorIs(t, err, posixerr.ErrConflictingFileType)
}

func TestMergeReadFileThroughNestedRecursion(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "shared/sub/from-a.txt", "hello-a")
	writeFile(t, b, "shared/sub/from-b.txt", "hello-b")

	m, err := NewFromPaths([]string{a, b}, Options{}, config.Default())
	require.NoError(t, err)

	data, err := m.ReadFile("shared/sub/from-a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello-a", string(data))
}

func TestMergeChangesIsStatefulPerCall(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "f.txt", "v1")

	m, err := NewFromPaths([]string{a, b}, Options{}, config.Default())
	require.NoError(t, err)

	first, err := m.Changes()
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, tree.OpCreate, first[0].Op)

	second, err := m.Changes()
	require.NoError(t, err)
	assert.Empty(t, second, "no changes since the previous Changes() call")

	writeFile(t, b, "g.txt", "v1")
	require.NoError(t, m.Reread())
	third, err := m.Changes()
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, "g.txt", third[0].Path)
}

func TestMergeRerootRejectsArgument(t *testing.T) {
	a := t.TempDir()
	m, err := NewFromPaths([]string{a}, Options{}, config.Default())
	require.NoError(t, err)
	err = m.Reread("/somewhere")
	assert.Error(t, err)
}
