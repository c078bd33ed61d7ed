package interner_test

import (
	"testing"

	"github.com/clearcmos/nixnavd/internal/interner"
	"github.com/stretchr/testify/require"
)

func TestInternIsIdempotentOnPath(t *testing.T) {
	in := interner.New()
	id1, created1 := in.Intern("/a/b")
	require.True(t, created1)
	id2, created2 := in.Intern("/a/b")
	require.False(t, created2)
	require.Equal(t, id1, id2)
}

func TestInternIsBijective(t *testing.T) {
	in := interner.New()
	id, _ := in.Intern("/a/b")
	path, ok := in.Resolve(id)
	require.True(t, ok)
	require.Equal(t, "/a/b", path)

	back, ok := in.Lookup("/a/b")
	require.True(t, ok)
	require.Equal(t, id, back)
}

func TestForgetIsIdempotent(t *testing.T) {
	in := interner.New()
	id, _ := in.Intern("/a/b")
	in.Forget(id)
	in.Forget(id) // must not panic

	_, ok := in.Resolve(id)
	require.False(t, ok)
	_, ok = in.Lookup("/a/b")
	require.False(t, ok)
}

func TestRenamePreservesFileId(t *testing.T) {
	in := interner.New()
	id, _ := in.Intern("/a/foo.txt")

	newID, ok := in.Rename("/a/foo.txt", "/a/bar.txt")
	require.True(t, ok)
	require.Equal(t, id, newID)

	_, ok = in.Lookup("/a/foo.txt")
	require.False(t, ok)

	resolved, ok := in.Lookup("/a/bar.txt")
	require.True(t, ok)
	require.Equal(t, id, resolved)
}

func TestInternWithIDPreservesWarmStartIDs(t *testing.T) {
	in := interner.New()
	in.InternWithID("/a/b", 42)
	id, ok := in.Lookup("/a/b")
	require.True(t, ok)
	require.EqualValues(t, 42, id)

	// Next freely-allocated id must not collide with the warm-started one.
	nextID, created := in.Intern("/a/c")
	require.True(t, created)
	require.Greater(t, nextID, id)
}
