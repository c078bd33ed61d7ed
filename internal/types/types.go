// Package types defines the shared data model of the indexing daemon:
// stable identifiers, file records and bookmarks (spec §3).
package types

import "github.com/cespare/xxhash/v2"

// FileId is a stable, monotonically assigned identifier for an indexed
// path. Never reused within an index lifetime and persisted as the primary
// key of the files table, so a FileId remains valid across restarts.
type FileId uint64

// BookmarkId identifies a registered indexing root.
type BookmarkId uint32

// FileRecord is the authoritative metadata the Index Store holds for one
// indexed path. Path is canonical: no trailing slash (except "/"), no
// "."/".." components, no symlink resolution beyond what the Scanner did.
type FileRecord struct {
	Id         FileId
	Path       string
	IsDir      bool
	Mtime      int64 // seconds since epoch
	Size       uint64
	BookmarkId BookmarkId

	// Fingerprint is Fingerprint(Mtime, Size), kept in lockstep with them so
	// the reconciler and network rescanner can detect "unchanged" with one
	// uint64 compare across a large batch instead of two field compares.
	Fingerprint uint64
}

// Bookmark is a named, rooted directory the daemon indexes. Paths are
// unique; names are unique and double as the query prefix ("name:query").
type Bookmark struct {
	Id        BookmarkId
	Name      string
	Path      string
	IsNetwork bool
	LastScan  *int64 // seconds since epoch; nil if never scanned
}

// Fingerprint computes a fast, non-cryptographic fingerprint of an
// (mtime, size) pair. Not used for content identity - only for cheaply
// noticing that a FileRecord's metadata did not change between two
// observations of the same path.
func Fingerprint(mtime int64, size uint64) uint64 {
	var buf [16]byte
	putUint64(buf[0:8], uint64(mtime))
	putUint64(buf[8:16], size)
	return xxhash.Sum64(buf[:])
}

func putUint64(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}
