package pathutil

import (
	"testing"

	"github.com/nicolagi/fstree/internal/posixerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		input string
		want  string
	}{
		{input: "", want: ""},
		{input: "a", want: "a"},
		{input: "a/b/c", want: "a/b/c"},
		{input: "a//b", want: "a/b"},
		{input: "./a/./b", want: "a/b"},
		{input: "a/b/../c", want: "a/c"},
		{input: "a/..", want: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := Normalize(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
	t.Run("climbing above the root is an error", func(t *testing.T) {
		_, err := Normalize("../a")
		assert.True(t, err != nil)
		assert.ErrorIs(t, err, posixerr.ErrInvalid)
	})
	t.Run("memoized result is stable across repeated calls", func(t *testing.T) {
		a, err := Normalize("x/y/../z")
		require.NoError(t, err)
		b, err := Normalize("x/y/../z")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestJoinDirBase(t *testing.T) {
	assert.Equal(t, "a/b", Join("a", "b"))
	assert.Equal(t, "b", Join("", "b"))
	assert.Equal(t, "a", Join("a", ""))
	assert.Equal(t, "a", Dir("a/b"))
	assert.Equal(t, "", Dir("a"))
	assert.Equal(t, "b", Base("a/b"))
	assert.Equal(t, "a", Base("a"))
}

func TestIsAncestor(t *testing.T) {
	assert.True(t, IsAncestor("", "a"))
	assert.False(t, IsAncestor("", ""))
	assert.True(t, IsAncestor("a", "a/b"))
	assert.False(t, IsAncestor("a", "ab"))
	assert.False(t, IsAncestor("a/b", "a"))
}

func TestDepth(t *testing.T) {
	assert.Equal(t, 0, Depth(""))
	assert.Equal(t, 1, Depth("a"))
	assert.Equal(t, 3, Depth("a/b/c"))
}
