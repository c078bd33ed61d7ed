package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clearcmos/nixnavd/internal/persist"
	"github.com/clearcmos/nixnavd/internal/store"
	"github.com/clearcmos/nixnavd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileBatchInsertsNewFile(t *testing.T) {
	root := t.TempDir()
	st := store.New()
	var mutations []persist.Mutation

	w, err := New(types.Bookmark{Id: 1, Name: "root", Path: root}, st, 10*time.Millisecond, func(m persist.Mutation) {
		mutations = append(mutations, m)
	})
	require.NoError(t, err)
	defer w.fsw.Close()

	p := filepath.Join(root, "hello.txt")
	require.NoError(t, os.WriteFile(p, []byte("hi"), 0o644))

	w.reconcileBatch([]string{p})

	rec, ok := st.GetByPath(p)
	require.True(t, ok)
	assert.False(t, rec.IsDir)
	assert.Len(t, mutations, 1)
	assert.IsType(t, persist.UpsertFile{}, mutations[0])
}

func TestReconcileBatchRemovesMissingFile(t *testing.T) {
	root := t.TempDir()
	st := store.New()
	var mutations []persist.Mutation

	w, err := New(types.Bookmark{Id: 1, Name: "root", Path: root}, st, 10*time.Millisecond, func(m persist.Mutation) {
		mutations = append(mutations, m)
	})
	require.NoError(t, err)
	defer w.fsw.Close()

	p := filepath.Join(root, "gone.txt")
	st.Insert(p, false, 1, 1, 1)

	w.reconcileBatch([]string{p})

	_, ok := st.GetByPath(p)
	assert.False(t, ok)
	require.Len(t, mutations, 1)
	assert.IsType(t, persist.RemoveFiles{}, mutations[0])
}

func TestReconcileBatchOnNewDirectoryScansChildren(t *testing.T) {
	root := t.TempDir()
	st := store.New()
	var mutations []persist.Mutation

	w, err := New(types.Bookmark{Id: 1, Name: "root", Path: root}, st, 10*time.Millisecond, func(m persist.Mutation) {
		mutations = append(mutations, m)
	})
	require.NoError(t, err)
	defer w.fsw.Close()

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "a.go"), []byte("package sub"), 0o644))

	w.reconcileBatch([]string{sub})

	_, ok := st.GetByPath(sub)
	assert.True(t, ok)
	_, ok = st.GetByPath(filepath.Join(sub, "a.go"))
	assert.True(t, ok)
	assert.GreaterOrEqual(t, len(mutations), 2)
}

// TestReconcileBatchCorrelatesRenameWithinSameBatch guards spec §4.3/§8's
// rename contract: a file moved to a new path in the same debounce window
// must keep its original FileId instead of being removed and reinserted
// under a fresh one.
func TestReconcileBatchCorrelatesRenameWithinSameBatch(t *testing.T) {
	root := t.TempDir()
	st := store.New()
	var mutations []persist.Mutation

	w, err := New(types.Bookmark{Id: 1, Name: "root", Path: root}, st, 10*time.Millisecond, func(m persist.Mutation) {
		mutations = append(mutations, m)
	})
	require.NoError(t, err)
	defer w.fsw.Close()

	oldPath := filepath.Join(root, "a.txt")
	newPath := filepath.Join(root, "b.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("same content"), 0o644))

	oldRec, ok := st.GetByPath(oldPath)
	require.False(t, ok)
	oldID := st.Insert(oldPath, false, 100, 12, 1)
	oldRec, ok = st.Get(oldID)
	require.True(t, ok)

	info, err := os.Stat(oldPath)
	require.NoError(t, err)
	// Force the stored record to match the real file's current fingerprint
	// so the rename-correlation heuristic (IsDir, Fingerprint) matches it,
	// the same identity signal types.Fingerprint already exists to provide.
	st.Insert(oldPath, false, info.ModTime().Unix(), uint64(info.Size()), 1)
	oldRec, _ = st.GetByPath(oldPath)

	require.NoError(t, os.Rename(oldPath, newPath))

	w.reconcileBatch([]string{oldPath, newPath})

	_, ok = st.GetByPath(oldPath)
	assert.False(t, ok, "old path must no longer resolve")

	newRec, ok := st.GetByPath(newPath)
	require.True(t, ok, "new path must resolve")
	assert.Equal(t, oldRec.Id, newRec.Id, "rename must preserve the original FileId")
}

func TestDebouncerCoalescesRepeatedEvents(t *testing.T) {
	var batches [][]string
	d := newDebouncer(10*time.Millisecond, func(paths []string) {
		batches = append(batches, paths)
	})

	d.addEvent("/a")
	d.addEvent("/a")
	d.addEvent("/a")

	time.Sleep(50 * time.Millisecond)
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"/a"}, batches[0])
}
