// Package persist implements the Persistence Layer (spec §4.4): a durable
// store backed by an embedded relational database (a pure-Go sqlite
// driver), written through a single serialising channel so consistency
// holds regardless of how many components push mutations (spec §5, §9).
//
// Posting lists are reconstructed on warm start from files.path rather than
// persisted, which keeps the database small at the cost of a few seconds of
// startup work, matching the design note in spec §4.4.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clearcmos/nixnavd/internal/logging"
	"github.com/clearcmos/nixnavd/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY,
	path TEXT UNIQUE NOT NULL,
	is_dir INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	size INTEGER NOT NULL,
	bookmark_id INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS bookmarks (
	id INTEGER PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	path TEXT UNIQUE NOT NULL,
	is_network INTEGER NOT NULL,
	last_scan INTEGER
);
`

const (
	inboxCapacity = 4096
	maxWriteBatch = 512
	writerBackoff = 50 * time.Millisecond
	maxWriteTries = 3
)

// DB owns the embedded sqlite database and the single writer goroutine
// that serialises every mutation against it.
type DB struct {
	conn *sql.DB

	inbox  chan Mutation
	done   chan struct{}
	closed chan struct{}

	unhealthy chan struct{}
	healthErr error
}

// Open opens (creating if absent) the sqlite database at path and ensures
// the schema exists. It does not start the writer goroutine; call Start
// after a successful WarmStart so bulk loads don't race the writer.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("persist: create database directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", path, err)
	}
	// WAL mode lets warm-start reads and the writer goroutine's
	// transactions coexist without blocking each other, the same pattern
	// used to let a vtab's second connection see the writer's tables.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persist: enable WAL: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persist: create schema: %w", err)
	}

	return &DB{
		conn:      conn,
		inbox:     make(chan Mutation, inboxCapacity),
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
		unhealthy: make(chan struct{}),
	}, nil
}

// Start launches the writer goroutine. Safe to call once.
func (d *DB) Start() {
	go d.writeLoop()
}

// Close closes the underlying connection directly, without draining the
// inbox. Only valid before Start has been called (e.g. a warm-start
// failure aborting daemon construction); use Shutdown once the writer is
// running.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Enqueue submits a mutation to the persistence inbox. Non-blocking unless
// the inbox is full, in which case it applies backpressure by blocking the
// caller (a mutating request handler) rather than dropping the mutation.
// Once Shutdown has been called, the mutation is discarded.
func (d *DB) Enqueue(m Mutation) {
	select {
	case d.inbox <- m:
	case <-d.done:
	}
}

// Healthy reports whether the writer has not exhausted its retry budget.
func (d *DB) Healthy() bool {
	select {
	case <-d.unhealthy:
		return false
	default:
		return true
	}
}

// HealthErr returns the error that made the database unhealthy, if any.
func (d *DB) HealthErr() error { return d.healthErr }

// Shutdown drains the inbox (best-effort, bounded by ctx) and closes the
// underlying connection. Matches the daemon shutdown sequence of spec §5:
// persistence queue drains before the socket is released.
func (d *DB) Shutdown(ctx context.Context) error {
	close(d.done)
	select {
	case <-d.closed:
	case <-ctx.Done():
		logging.DB("shutdown: timed out waiting for writer to drain")
	}
	return d.conn.Close()
}

func (d *DB) writeLoop() {
	defer close(d.closed)
	for {
		var batch []Mutation
		select {
		case m := <-d.inbox:
			batch = append(batch, m)
		case <-d.done:
			d.drainRemaining(&batch)
			d.commitBatch(batch)
			return
		}
		d.drainMore(&batch)
		d.commitBatch(batch)
	}
}

func (d *DB) drainMore(batch *[]Mutation) {
	for len(*batch) < maxWriteBatch {
		select {
		case m := <-d.inbox:
			*batch = append(*batch, m)
		default:
			return
		}
	}
}

func (d *DB) drainRemaining(batch *[]Mutation) {
	for {
		select {
		case m := <-d.inbox:
			*batch = append(*batch, m)
		default:
			return
		}
	}
}

func (d *DB) commitBatch(batch []Mutation) {
	if len(batch) == 0 {
		return
	}
	var err error
	for attempt := 1; attempt <= maxWriteTries; attempt++ {
		err = d.applyBatch(batch)
		if err == nil {
			return
		}
		logging.DB("write batch attempt %d/%d failed: %v", attempt, maxWriteTries, err)
		time.Sleep(writerBackoff * time.Duration(attempt))
	}
	d.markUnhealthy(err)
}

func (d *DB) applyBatch(batch []Mutation) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	for _, m := range batch {
		if err := m.apply(tx); err != nil {
			return fmt.Errorf("apply mutation: %w", err)
		}
	}
	return tx.Commit()
}

func (d *DB) markUnhealthy(err error) {
	d.healthErr = err
	select {
	case <-d.unhealthy:
	default:
		close(d.unhealthy)
	}
	logging.DB("persistence writer marked unhealthy: %v", err)
}

// WarmStart streams persisted files and bookmarks into the provided
// sinks. Call before Start so no concurrent writer mutation can race the
// load (spec §4.4: "start watchers and schedulers only after the store is
// loaded").
func (d *DB) WarmStart(ctx context.Context, onFile func(types.FileRecord), onBookmark func(types.Bookmark)) error {
	if err := d.loadBookmarks(ctx, onBookmark); err != nil {
		return err
	}
	return d.loadFiles(ctx, onFile)
}

func (d *DB) loadFiles(ctx context.Context, onFile func(types.FileRecord)) error {
	rows, err := d.conn.QueryContext(ctx, `SELECT id, path, is_dir, mtime, size, bookmark_id FROM files`)
	if err != nil {
		return fmt.Errorf("persist: load files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, mtime, size, bookmarkID int64
			isDirInt                    int
			path                        string
		)
		if err := rows.Scan(&id, &path, &isDirInt, &mtime, &size, &bookmarkID); err != nil {
			return fmt.Errorf("persist: scan file row: %w", err)
		}
		onFile(types.FileRecord{
			Id:          types.FileId(id),
			Path:        path,
			IsDir:       isDirInt != 0,
			Mtime:       mtime,
			Size:        uint64(size),
			BookmarkId:  types.BookmarkId(bookmarkID),
			Fingerprint: types.Fingerprint(mtime, uint64(size)),
		})
	}
	return rows.Err()
}

func (d *DB) loadBookmarks(ctx context.Context, onBookmark func(types.Bookmark)) error {
	rows, err := d.conn.QueryContext(ctx, `SELECT id, name, path, is_network, last_scan FROM bookmarks`)
	if err != nil {
		return fmt.Errorf("persist: load bookmarks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, isNetworkInt int64
			name, path       string
			lastScan         sql.NullInt64
		)
		if err := rows.Scan(&id, &name, &path, &isNetworkInt, &lastScan); err != nil {
			return fmt.Errorf("persist: scan bookmark row: %w", err)
		}
		b := types.Bookmark{
			Id:        types.BookmarkId(id),
			Name:      name,
			Path:      path,
			IsNetwork: isNetworkInt != 0,
		}
		if lastScan.Valid {
			v := lastScan.Int64
			b.LastScan = &v
		}
		onBookmark(b)
	}
	return rows.Err()
}
