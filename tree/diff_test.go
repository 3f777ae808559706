package tree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSort(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Path > out[j].Path; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func TestDiffEmptyToPopulated(t *testing.T) {
	other := mustSort([]Entry{
		{Path: "subdir1", Kind: Directory},
		{Path: "subdir1/foo.js", Kind: File},
		{Path: "subdir2", Kind: Directory},
	})
	patch := Diff(nil, other, DefaultEquals)
	require.Len(t, patch, 3)
	assert.Equal(t, OpMkdir, patch[0].Op)
	assert.Equal(t, "subdir1", patch[0].Path)
	assert.Equal(t, OpCreate, patch[1].Op)
	assert.Equal(t, "subdir1/foo.js", patch[1].Path)
	assert.Equal(t, OpMkdir, patch[2].Op)
	assert.Equal(t, "subdir2", patch[2].Path)
}

func TestDiffPopulatedToEmpty(t *testing.T) {
	self := mustSort([]Entry{
		{Path: "subdir1", Kind: Directory},
		{Path: "subdir1/foo.js", Kind: File},
		{Path: "subdir2", Kind: Directory},
	})
	patch := Diff(self, nil, DefaultEquals)
	require.Len(t, patch, 3)
	// Every remove, reverse of encounter order: subdir2 (rmdir),
	// subdir1/foo.js (unlink), subdir1 (rmdir) — children before parents.
	assert.Equal(t, "subdir2", patch[0].Path)
	assert.Equal(t, OpRmdir, patch[0].Op)
	assert.Equal(t, "subdir1/foo.js", patch[1].Path)
	assert.Equal(t, OpUnlink, patch[1].Op)
	assert.Equal(t, "subdir1", patch[2].Path)
	assert.Equal(t, OpRmdir, patch[2].Op)
}

func TestDiffFileBecomesDirectory(t *testing.T) {
	self := mustSort([]Entry{
		{Path: "subdir1", Kind: File},
	})
	other := mustSort([]Entry{
		{Path: "subdir1", Kind: Directory},
		{Path: "subdir1/foo", Kind: File},
	})
	patch := Diff(self, other, DefaultEquals)
	require.Len(t, patch, 3)
	assert.Equal(t, Change{Op: OpUnlink, Path: "subdir1", Entry: self[0]}, patch[0])
	assert.Equal(t, OpMkdir, patch[1].Op)
	assert.Equal(t, "subdir1", patch[1].Path)
	assert.Equal(t, OpCreate, patch[2].Op)
	assert.Equal(t, "subdir1/foo", patch[2].Path)
}

func TestDiffNoChanges(t *testing.T) {
	now := time.Now()
	self := mustSort([]Entry{
		{Path: "a", Kind: File, Size: 10, ModTime: now},
		{Path: "b", Kind: Directory},
	})
	patch := Diff(self, self, DefaultEquals)
	assert.Empty(t, patch)
}

func TestDiffFileChanged(t *testing.T) {
	now := time.Now()
	self := []Entry{{Path: "a", Kind: File, Size: 10, ModTime: now}}
	other := []Entry{{Path: "a", Kind: File, Size: 20, ModTime: now}}
	patch := Diff(self, other, DefaultEquals)
	require.Len(t, patch, 1)
	assert.Equal(t, OpChange, patch[0].Op)
}

func TestDefaultEqualsIgnoresDirectoryMetadata(t *testing.T) {
	a := Entry{Path: "d", Kind: Directory, ModTime: time.Now()}
	b := Entry{Path: "d", Kind: Directory, ModTime: time.Now().Add(time.Hour)}
	assert.True(t, DefaultEquals(a, b))
}

func TestApplyDispatchesToDelegates(t *testing.T) {
	patch := []Change{
		{Op: OpMkdir, Path: "a"},
		{Op: OpCreate, Path: "a/b"},
	}
	var seen []string
	err := Apply(patch, "/in", "/out", ApplyDelegate{
		Mkdir: func(in, out, rel string) error {
			seen = append(seen, "mkdir:"+rel)
			return nil
		},
		Create: func(in, out, rel string) error {
			seen = append(seen, "create:"+rel)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"mkdir:a", "create:a/b"}, seen)
}

func TestApplyMissingDelegateErrors(t *testing.T) {
	patch := []Change{{Op: OpRmdir, Path: "a"}}
	err := Apply(patch, "/in", "/out", ApplyDelegate{})
	assert.Error(t, err)
}
