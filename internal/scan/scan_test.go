package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/clearcmos/nixnavd/internal/store"
	"github.com/clearcmos/nixnavd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanIndexesFilesAndDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.go"), []byte("package sub"), 0o644))

	st := store.New()
	res, err := Scan(context.Background(), st, 1, root, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.FilesIndexed)
	assert.Equal(t, 2, res.DirsIndexed) // root + sub

	_, ok := st.GetByPath(filepath.Join(root, "a.go"))
	assert.True(t, ok)
	_, ok = st.GetByPath(filepath.Join(root, "sub", "b.go"))
	assert.True(t, ok)
}

func TestScanPrunesExcludedDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644))

	st := store.New()
	res, err := Scan(context.Background(), st, 1, root, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.FilesIndexed)
	_, ok := st.GetByPath(filepath.Join(root, "node_modules", "pkg", "index.js"))
	assert.False(t, ok)
}

func TestScanIsIdempotentOnRepeatedCalls(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))

	st := store.New()
	_, err := Scan(context.Background(), st, 1, root, nil)
	require.NoError(t, err)
	rec1, ok := st.GetByPath(filepath.Join(root, "a.go"))
	require.True(t, ok)

	_, err = Scan(context.Background(), st, 1, root, nil)
	require.NoError(t, err)
	rec2, ok := st.GetByPath(filepath.Join(root, "a.go"))
	require.True(t, ok)

	assert.Equal(t, rec1.Id, rec2.Id, "FileId must be preserved across re-scans")
}

func TestScanFollowsSymlinkedDirectory(t *testing.T) {
	root := t.TempDir()
	real := filepath.Join(root, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(real, "f.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(real, filepath.Join(root, "link")))

	st := store.New()
	_, err := Scan(context.Background(), st, 1, root, nil)
	require.NoError(t, err)

	_, ok := st.GetByPath(filepath.Join(root, "link", "f.txt"))
	assert.True(t, ok, "scan should follow the symlink into its target")
}

func TestScanInvokesOnIndexedPerEntry(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))

	st := store.New()
	var seen []types.FileRecord
	_, err := Scan(context.Background(), st, 1, root, func(rec types.FileRecord) {
		seen = append(seen, rec)
	})
	require.NoError(t, err)
	assert.Len(t, seen, 2) // root dir + a.go
}
