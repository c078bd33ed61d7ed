package persist

import (
	"database/sql"

	"github.com/clearcmos/nixnavd/internal/types"
)

// Mutation is one message in the persistence inbox (spec §9: "a single
// persistence inbox message queue of mutation records; the writer drains
// it; other components emit to it").
type Mutation interface {
	apply(tx *sql.Tx) error
}

// UpsertFile persists a created or updated FileRecord.
type UpsertFile struct {
	Record types.FileRecord
}

func (m UpsertFile) apply(tx *sql.Tx) error {
	_, err := tx.Exec(
		`INSERT INTO files (id, path, is_dir, mtime, size, bookmark_id)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   path=excluded.path, is_dir=excluded.is_dir,
		   mtime=excluded.mtime, size=excluded.size, bookmark_id=excluded.bookmark_id`,
		int64(m.Record.Id), m.Record.Path, boolToInt(m.Record.IsDir),
		m.Record.Mtime, int64(m.Record.Size), int64(m.Record.BookmarkId),
	)
	return err
}

// RemoveFile deletes a single file row by id.
type RemoveFile struct {
	Id types.FileId
}

func (m RemoveFile) apply(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM files WHERE id = ?`, int64(m.Id))
	return err
}

// RemoveFiles deletes many file rows by id in one statement execution per
// id within the shared transaction; used for subtree removals so a
// directory delete is one persistence-inbox message instead of one per
// descendant.
type RemoveFiles struct {
	Ids []types.FileId
}

func (m RemoveFiles) apply(tx *sql.Tx) error {
	stmt, err := tx.Prepare(`DELETE FROM files WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range m.Ids {
		if _, err := stmt.Exec(int64(id)); err != nil {
			return err
		}
	}
	return nil
}

// UpsertBookmark persists a created or updated Bookmark.
type UpsertBookmark struct {
	Bookmark types.Bookmark
}

func (m UpsertBookmark) apply(tx *sql.Tx) error {
	var lastScan sql.NullInt64
	if m.Bookmark.LastScan != nil {
		lastScan = sql.NullInt64{Int64: *m.Bookmark.LastScan, Valid: true}
	}
	_, err := tx.Exec(
		`INSERT INTO bookmarks (id, name, path, is_network, last_scan)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, path=excluded.path,
		   is_network=excluded.is_network, last_scan=excluded.last_scan`,
		int64(m.Bookmark.Id), m.Bookmark.Name, m.Bookmark.Path,
		boolToInt(m.Bookmark.IsNetwork), lastScan,
	)
	return err
}

// RemoveBookmark deletes a bookmark row by id. The caller is responsible
// for also orphaning (removing) that bookmark's files (spec §9 Open
// Question, decided in SPEC_FULL.md): this mutation only covers the
// bookmarks table.
type RemoveBookmark struct {
	Id types.BookmarkId
}

func (m RemoveBookmark) apply(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM bookmarks WHERE id = ?`, int64(m.Id))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
