package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualTreeBasics(t *testing.T) {
	mt := NewManualTree([]Entry{
		{Path: "b", Kind: File},
		{Path: "a", Kind: Directory},
		{Path: "a/c", Kind: File},
	})
	paths, err := mt.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a/c", "b"}, paths)

	e, err := mt.Stat("a/c")
	require.NoError(t, err)
	assert.Equal(t, File, e.Kind)

	ok, err := mt.Exists("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	children, err := mt.Readdir("a")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "a/c", children[0].Path)

	_, err = mt.ReadFile("a/c", nil)
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestManualTreeChanges(t *testing.T) {
	mt := NewManualTree([]Entry{{Path: "a", Kind: File}})
	mt.Replace([]Entry{{Path: "a", Kind: File}, {Path: "b", Kind: File}})
	changes, err := mt.Changes()
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, OpCreate, changes[0].Op)
	assert.Equal(t, "b", changes[0].Path)

	require.NoError(t, mt.Reread())
	changes, err = mt.Changes()
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestManualTreeRejectsReroot(t *testing.T) {
	mt := NewManualTree(nil)
	err := mt.Reread("/somewhere")
	assert.Error(t, err)
}

func TestManualTreeProjectionNotifiedOnReread(t *testing.T) {
	mt := NewManualTree([]Entry{{Path: "a", Kind: File}})
	p, err := NewProjection(mt, FilterOptions{})
	require.NoError(t, err)

	mt.Replace([]Entry{{Path: "a", Kind: File}, {Path: "b", Kind: File}})
	require.NoError(t, mt.Reread())

	changes, err := p.Changes()
	require.NoError(t, err)
	assert.Empty(t, changes, "projection's own baseline should have been refreshed by onParentReread")
}
