// Package store implements the Index Store (spec §4.3): the authoritative
// in-memory inverted index mapping trigram -> sorted FileId set, plus
// per-file metadata, under a reader-writer discipline where a latch covers
// one logical mutation (one insert, one remove, one rename) rather than an
// entire scan, so query handlers are not starved during bulk ingest.
package store

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/clearcmos/nixnavd/internal/interner"
	"github.com/clearcmos/nixnavd/internal/trigram"
	"github.com/clearcmos/nixnavd/internal/types"
)

// ErrNotFound is returned when an operation references a path or FileId
// that is not currently indexed.
var ErrNotFound = errors.New("store: not found")

// HardResultCap is the maximum number of results any single query may
// return, regardless of the caller-supplied limit (spec §5).
const HardResultCap = 2000

// DefaultResultLimit is applied when a caller supplies a non-positive
// limit (spec §6 client default).
const DefaultResultLimit = 500

// Store is the authoritative in-memory index. The zero value is not
// usable; construct with New.
type Store struct {
	mu sync.RWMutex

	in       *interner.Interner
	records  map[types.FileId]*types.FileRecord
	postings map[uint32]*roaring.Bitmap // trigram.Trigram.Key() -> FileId set (low 32 bits)

	// children maps a directory FileId to the set of FileIds whose parent
	// (filepath.Dir) is that directory. Used to walk subtrees for
	// recursive remove/rename without a full-index prefix scan.
	children map[types.FileId]map[types.FileId]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		in:       interner.New(),
		records:  make(map[types.FileId]*types.FileRecord),
		postings: make(map[uint32]*roaring.Bitmap),
		children: make(map[types.FileId]map[types.FileId]struct{}),
	}
}

// Interner exposes the underlying Path Interner for warm start and for
// components (watcher, reconciler) that only need id<->path resolution
// without taking the Store's latch for an unrelated mutation.
func (s *Store) Interner() *interner.Interner { return s.in }

func idLow32(id types.FileId) uint32 { return uint32(id) }

func basenameTrigramKeys(path string) []uint32 {
	base := filepath.Base(path)
	set := trigram.Extract(base)
	keys := make([]uint32, 0, len(set))
	for t := range set {
		keys = append(keys, t.Key())
	}
	return keys
}

// Insert adds or updates a file record. Idempotent on path: re-insertion
// updates mtime/size/is_dir but preserves the FileId (spec §4.3).
func (s *Store) Insert(path string, isDir bool, mtime int64, size uint64, bookmarkID types.BookmarkId) types.FileId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(path, isDir, mtime, size, bookmarkID)
}

func (s *Store) insertLocked(path string, isDir bool, mtime int64, size uint64, bookmarkID types.BookmarkId) types.FileId {
	id, created := s.in.Intern(path)
	fp := types.Fingerprint(mtime, size)

	if !created {
		rec := s.records[id]
		rec.Mtime = mtime
		rec.Size = size
		rec.IsDir = isDir
		rec.Fingerprint = fp
		rec.BookmarkId = bookmarkID
		return id
	}

	rec := &types.FileRecord{
		Id:          id,
		Path:        path,
		IsDir:       isDir,
		Mtime:       mtime,
		Size:        size,
		BookmarkId:  bookmarkID,
		Fingerprint: fp,
	}
	s.records[id] = rec
	s.addPostings(id, path)
	s.linkToParent(id, path)
	return id
}

// InsertWithID re-interns path to a caller-supplied id (warm start, where
// ids must be restored exactly as persisted) and otherwise behaves like
// Insert.
func (s *Store) InsertWithID(id types.FileId, path string, isDir bool, mtime int64, size uint64, bookmarkID types.BookmarkId) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.in.InternWithID(path, id)
	if _, ok := s.records[id]; ok {
		return
	}
	rec := &types.FileRecord{
		Id:          id,
		Path:        path,
		IsDir:       isDir,
		Mtime:       mtime,
		Size:        size,
		BookmarkId:  bookmarkID,
		Fingerprint: types.Fingerprint(mtime, size),
	}
	s.records[id] = rec
	s.addPostings(id, path)
	s.linkToParent(id, path)
}

func (s *Store) addPostings(id types.FileId, path string) {
	for _, key := range basenameTrigramKeys(path) {
		bm, ok := s.postings[key]
		if !ok {
			bm = roaring.New()
			s.postings[key] = bm
		}
		bm.Add(idLow32(id))
	}
}

func (s *Store) removePostings(id types.FileId, path string) {
	for _, key := range basenameTrigramKeys(path) {
		bm, ok := s.postings[key]
		if !ok {
			continue
		}
		bm.Remove(idLow32(id))
		if bm.IsEmpty() {
			delete(s.postings, key)
		}
	}
}

func (s *Store) linkToParent(id types.FileId, path string) {
	parentPath := filepath.Dir(path)
	if parentPath == path {
		return // filesystem root: no parent to link under
	}
	parentID, ok := s.in.Lookup(parentPath)
	if !ok {
		return // parent not indexed (e.g. a bookmark root's own entry)
	}
	set, ok := s.children[parentID]
	if !ok {
		set = make(map[types.FileId]struct{})
		s.children[parentID] = set
	}
	set[id] = struct{}{}
}

func (s *Store) unlinkFromParent(id types.FileId, path string) {
	parentPath := filepath.Dir(path)
	parentID, ok := s.in.Lookup(parentPath)
	if !ok {
		return
	}
	if set, ok := s.children[parentID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.children, parentID)
		}
	}
}

// Remove forgets path and deletes its FileRecord, stripping its FileId from
// every posting list whose trigrams matched the old basename. Does not
// touch descendants; use RemoveSubtree for directories.
func (s *Store) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(path)
}

func (s *Store) removeLocked(path string) {
	id, ok := s.in.Lookup(path)
	if !ok {
		return
	}
	s.removePostings(id, path)
	s.unlinkFromParent(id, path)
	delete(s.records, id)
	delete(s.children, id)
	s.in.Forget(id)
}

// RemoveSubtree removes path and, if it is a directory, every descendant
// currently linked under it, bottom-up. Returns the removed FileIds.
func (s *Store) RemoveSubtree(path string) []types.FileId {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.in.Lookup(path)
	if !ok {
		return nil
	}

	var removed []types.FileId
	var walk func(id types.FileId, path string)
	walk = func(id types.FileId, path string) {
		for childID := range s.children[id] {
			if rec, ok := s.records[childID]; ok {
				walk(childID, rec.Path)
			}
		}
		s.removePostings(id, path)
		delete(s.records, id)
		delete(s.children, id)
		s.in.Forget(id)
		removed = append(removed, id)
	}
	s.unlinkFromParent(id, path)
	walk(id, path)
	return removed
}

// Rename is semantically remove(old) followed by insert(new, ...) reusing
// the same FileId (spec §4.3). Short-circuits posting updates when the
// basename is unchanged.
func (s *Store) Rename(oldPath, newPath string, isDir bool, mtime int64, size uint64, bookmarkID types.BookmarkId) types.FileId {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.in.Lookup(oldPath)
	if !ok {
		return s.insertLocked(newPath, isDir, mtime, size, bookmarkID)
	}

	rec := s.records[id]
	oldBase := filepath.Base(oldPath)
	newBase := filepath.Base(newPath)

	s.unlinkFromParent(id, oldPath)
	if oldBase != newBase {
		s.removePostings(id, oldPath)
	}
	s.in.Rename(oldPath, newPath)
	rec.Path = newPath
	rec.IsDir = isDir
	rec.Mtime = mtime
	rec.Size = size
	rec.BookmarkId = bookmarkID
	rec.Fingerprint = types.Fingerprint(mtime, size)
	if oldBase != newBase {
		s.addPostings(id, newPath)
	}
	s.linkToParent(id, newPath)

	if isDir {
		s.renameDescendantsLocked(id, oldPath, newPath)
	}
	return id
}

func (s *Store) renameDescendantsLocked(parentID types.FileId, oldPrefix, newPrefix string) {
	childIDs := make([]types.FileId, 0, len(s.children[parentID]))
	for childID := range s.children[parentID] {
		childIDs = append(childIDs, childID)
	}
	for _, childID := range childIDs {
		rec, ok := s.records[childID]
		if !ok {
			continue
		}
		oldChildPath := rec.Path
		newChildPath := newPrefix + strings.TrimPrefix(oldChildPath, oldPrefix)
		s.in.Rename(oldChildPath, newChildPath)
		rec.Path = newChildPath
		if rec.IsDir {
			s.renameDescendantsLocked(childID, oldChildPath, newChildPath)
		}
	}
}

// Get returns a copy of the FileRecord for id, if present.
func (s *Store) Get(id types.FileId) (types.FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return types.FileRecord{}, false
	}
	return *rec, true
}

// GetByPath returns a copy of the FileRecord for path, if present.
func (s *Store) GetByPath(path string) (types.FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.in.Lookup(path)
	if !ok {
		return types.FileRecord{}, false
	}
	rec := s.records[id]
	return *rec, true
}

// Stats returns the number of indexed files and distinct trigrams (spec §9:
// STATS.trigrams is the posting-list map's size, i.e. distinct trigrams).
func (s *Store) Stats() (files int, trigrams int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), len(s.postings)
}

// All returns a snapshot copy of every FileRecord, for persistence
// materialisation and the integrity reconciler's round-robin batches.
func (s *Store) All() []types.FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.FileRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}
