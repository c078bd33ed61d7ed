package persist

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearcmos/nixnavd/internal/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "nested", "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.conn.Close() })
	return d
}

func TestOpenCreatesMissingParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nixnav", "index.db")
	d, err := Open(path)
	require.NoError(t, err, "Open must create the database's parent directory on a fresh machine")
	defer d.conn.Close()
}

func TestWarmStartStreamsPersistedFilesAndBookmarks(t *testing.T) {
	d := openTestDB(t)

	_, err := d.conn.Exec(
		`INSERT INTO files (id, path, is_dir, mtime, size, bookmark_id) VALUES (?, ?, ?, ?, ?, ?)`,
		1, "/root/a.txt", 0, 1000, 42, 1,
	)
	require.NoError(t, err)
	_, err = d.conn.Exec(
		`INSERT INTO bookmarks (id, name, path, is_network, last_scan) VALUES (?, ?, ?, ?, ?)`,
		1, "root", "/root", 0, 12345,
	)
	require.NoError(t, err)

	var files []types.FileRecord
	var bookmarks []types.Bookmark
	err = d.WarmStart(context.Background(),
		func(rec types.FileRecord) { files = append(files, rec) },
		func(b types.Bookmark) { bookmarks = append(bookmarks, b) },
	)
	require.NoError(t, err)

	require.Len(t, files, 1)
	assert.Equal(t, "/root/a.txt", files[0].Path)
	assert.Equal(t, uint64(42), files[0].Size)
	assert.Equal(t, types.Fingerprint(1000, 42), files[0].Fingerprint)

	require.Len(t, bookmarks, 1)
	assert.Equal(t, "root", bookmarks[0].Name)
	require.NotNil(t, bookmarks[0].LastScan)
	assert.Equal(t, int64(12345), *bookmarks[0].LastScan)
}

func TestCommitBatchAppliesMutationsInOneTransaction(t *testing.T) {
	d := openTestDB(t)

	rec := types.FileRecord{Id: 7, Path: "/root/b.txt", IsDir: false, Mtime: 1, Size: 2, BookmarkId: 1}
	d.commitBatch([]Mutation{UpsertFile{Record: rec}})

	var path string
	err := d.conn.QueryRow(`SELECT path FROM files WHERE id = ?`, 7).Scan(&path)
	require.NoError(t, err)
	assert.Equal(t, "/root/b.txt", path)
	assert.True(t, d.Healthy())
}

func TestCommitBatchRollsBackWholeBatchOnMutationError(t *testing.T) {
	d := openTestDB(t)

	ok := types.FileRecord{Id: 1, Path: "/root/ok.txt", IsDir: false, Mtime: 1, Size: 1, BookmarkId: 1}
	d.commitBatch([]Mutation{UpsertFile{Record: ok}, failingMutation{}})

	var count int
	require.NoError(t, d.conn.QueryRow(`SELECT count(*) FROM files WHERE id = 1`).Scan(&count))
	assert.Equal(t, 0, count, "a failing mutation must roll back the rest of its batch, not just itself")
}

// failingMutation always fails to apply, for exercising commitBatch's
// retry-then-markUnhealthy path without needing to sabotage the real
// sqlite connection.
type failingMutation struct{}

func (failingMutation) apply(tx *sql.Tx) error { return errors.New("induced failure") }

func TestCommitBatchMarksUnhealthyAfterMaxWriteTries(t *testing.T) {
	d := openTestDB(t)
	assert.True(t, d.Healthy())

	d.commitBatch([]Mutation{failingMutation{}})

	assert.False(t, d.Healthy())
	require.Error(t, d.HealthErr())
}

func TestShutdownDrainsInboxBeforeClosing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	d, err := Open(path)
	require.NoError(t, err)
	d.Start()

	rec := types.FileRecord{Id: 3, Path: "/root/c.txt", IsDir: false, Mtime: 1, Size: 1, BookmarkId: 1}
	d.Enqueue(UpsertFile{Record: rec})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	// d's connection is now closed; reopen the same file to confirm the
	// enqueued mutation was durably written before Shutdown returned.
	d2, err := Open(path)
	require.NoError(t, err)
	defer d2.conn.Close()

	var path2 string
	require.NoError(t, d2.conn.QueryRow(`SELECT path FROM files WHERE id = ?`, 3).Scan(&path2))
	assert.Equal(t, "/root/c.txt", path2)
}
