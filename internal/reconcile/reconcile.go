// Package reconcile implements the Integrity Reconciler (spec §4.7) and the
// Network Rescanner (spec §4.8). Both exist because filesystem change
// notifications are unreliable in different ways: fsnotify events can be
// lost under load or during watcher setup even on a local disk, and network
// mounts frequently deliver no kernel notifications at all. The Integrity
// Reconciler's round-robin batching is grounded in the teacher's
// ScanDirectory progress/bookkeeping loop adapted to a periodic sweep
// instead of a one-shot walk; the Network Rescanner instead runs a full
// Scanner pass per network bookmark.
package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/clearcmos/nixnavd/internal/bookmarks"
	"github.com/clearcmos/nixnavd/internal/logging"
	"github.com/clearcmos/nixnavd/internal/persist"
	"github.com/clearcmos/nixnavd/internal/scan"
	"github.com/clearcmos/nixnavd/internal/store"
	"github.com/clearcmos/nixnavd/internal/types"
)

// BatchSize is the maximum number of FileRecords examined per cycle (spec
// §5 resource ceiling: "Reconciler batch: 5000").
const BatchSize = 5000

// Interval is the Integrity Reconciler's cycle period (spec §4.7).
const Interval = 60 * time.Second

// NetworkRescanInterval is the Network Rescanner's per-bookmark period
// (spec §4.8).
const NetworkRescanInterval = 300 * time.Second

// Reconciler periodically re-verifies a round-robin slice of the Index
// Store against the live filesystem.
type Reconciler struct {
	st         *store.Store
	onMutation func(persist.Mutation)
	cursor     int
}

// New creates an Integrity Reconciler over st, forwarding any mutation it
// applies to onMutation.
func New(st *store.Store, onMutation func(persist.Mutation)) *Reconciler {
	return &Reconciler{st: st, onMutation: onMutation}
}

// Run blocks, firing one cycle every Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Cycle()
		}
	}
}

// Cycle runs one reconciliation pass over the next up-to-BatchSize records,
// continuing round-robin from wherever the previous cycle left off.
func (r *Reconciler) Cycle() {
	all := r.st.All() // sorted by Id: a stable, deterministic round-robin order
	if len(all) == 0 {
		return
	}
	if r.cursor >= len(all) {
		r.cursor = 0
	}

	end := r.cursor + BatchSize
	wrapped := false
	if end > len(all) {
		end = len(all)
		wrapped = true
	}
	batch := all[r.cursor:end]

	checked, removed, updated, renamed := 0, 0, 0, 0
	for _, rec := range batch {
		checked++
		info, err := os.Lstat(rec.Path)
		if err != nil {
			if newPath, newInfo, ok := r.findRenameTarget(rec); ok {
				id := r.st.Rename(rec.Path, newPath, newInfo.IsDir(), newInfo.ModTime().Unix(), uint64(newInfo.Size()), rec.BookmarkId)
				if r.onMutation != nil {
					if updatedRec, ok := r.st.Get(id); ok {
						r.onMutation(persist.UpsertFile{Record: updatedRec})
					}
				}
				renamed++
				continue
			}
			r.st.Remove(rec.Path)
			if r.onMutation != nil {
				r.onMutation(persist.RemoveFile{Id: rec.Id})
			}
			removed++
			continue
		}
		fp := types.Fingerprint(info.ModTime().Unix(), uint64(info.Size()))
		if fp == rec.Fingerprint && info.IsDir() == rec.IsDir {
			continue
		}
		r.st.Insert(rec.Path, info.IsDir(), info.ModTime().Unix(), uint64(info.Size()), rec.BookmarkId)
		if r.onMutation != nil {
			if updatedRec, ok := r.st.Get(rec.Id); ok {
				r.onMutation(persist.UpsertFile{Record: updatedRec})
			}
		}
		updated++
	}

	logging.Reconcile("cycle checked %d records (removed %d, updated %d, renamed %d), cursor %d/%d", checked, removed, updated, renamed, r.cursor, len(all))

	if wrapped {
		r.cursor = 0
	} else {
		r.cursor = end
	}
}

// findRenameTarget looks for a sibling of old.Path that plausibly is old
// under a new name: present on disk, not already indexed under its own
// path, and matching old's (IsDir, Fingerprint). This preserves the spec
// §4.3/§8 rename contract (same FileId survives a rename) for renames the
// watcher's fsnotify events missed entirely - the reason the Integrity
// Reconciler exists in the first place. The search is scoped to the
// parent directory rather than the whole index: a global content-addressed
// search would defeat the bounded, per-cycle cost the reconciler is
// designed around, and a same-directory rename/move is the overwhelmingly
// common case this heuristic needs to catch.
func (r *Reconciler) findRenameTarget(old types.FileRecord) (string, os.FileInfo, bool) {
	entries, err := os.ReadDir(filepath.Dir(old.Path))
	if err != nil {
		return "", nil, false
	}
	for _, entry := range entries {
		candidate := filepath.Join(filepath.Dir(old.Path), entry.Name())
		if candidate == old.Path {
			continue
		}
		if _, ok := r.st.GetByPath(candidate); ok {
			continue // already indexed under its own identity, not a rename target
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.IsDir() != old.IsDir {
			continue
		}
		fp := types.Fingerprint(info.ModTime().Unix(), uint64(info.Size()))
		if fp != old.Fingerprint {
			continue
		}
		return candidate, info, true
	}
	return "", nil, false
}

// NetworkRescanner triggers a full Scanner pass over every is_network
// bookmark on a fixed period, then removes any previously indexed entry
// under that bookmark that the fresh walk did not touch.
type NetworkRescanner struct {
	st         *store.Store
	reg        *bookmarks.Registry
	onMutation func(persist.Mutation)
}

// NewNetworkRescanner creates a Network Rescanner.
func NewNetworkRescanner(st *store.Store, reg *bookmarks.Registry, onMutation func(persist.Mutation)) *NetworkRescanner {
	return &NetworkRescanner{st: st, reg: reg, onMutation: onMutation}
}

// Run blocks, rescanning every network bookmark once per NetworkRescanInterval
// until ctx is cancelled. On each tick the network bookmarks are rescanned
// one after another, in id order.
func (nr *NetworkRescanner) Run(ctx context.Context) {
	ticker := time.NewTicker(NetworkRescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, b := range nr.reg.NetworkBookmarks() {
				nr.rescanOne(ctx, b)
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

func (nr *NetworkRescanner) rescanOne(ctx context.Context, b types.Bookmark) {
	before := nr.st.All()
	beforeByID := make(map[types.FileId]types.FileRecord)
	var beforeRecs []types.FileRecord
	for _, rec := range before {
		if rec.BookmarkId == b.Id {
			beforeByID[rec.Id] = rec
			beforeRecs = append(beforeRecs, rec)
		}
	}

	touched := make(map[types.FileId]struct{})
	var newlyInserted []types.FileRecord
	result, err := scan.Scan(ctx, nr.st, b.Id, b.Path, func(rec types.FileRecord) {
		touched[rec.Id] = struct{}{}
		if _, existed := beforeByID[rec.Id]; !existed {
			newlyInserted = append(newlyInserted, rec)
		}
		if nr.onMutation != nil {
			nr.onMutation(persist.UpsertFile{Record: rec})
		}
	})
	if err != nil {
		logging.Reconcile("network rescan of %q failed: %v", b.Name, err)
		return
	}

	var staleRecs []types.FileRecord
	for _, rec := range beforeRecs {
		if _, ok := touched[rec.Id]; !ok {
			staleRecs = append(staleRecs, rec)
		}
	}

	// A touched entry the Scanner created brand new (not in beforeByID) may
	// actually be the new name of an entry the walk never revisits by its
	// old path (a rename). Correlate by (IsDir, Fingerprint) before
	// declaring the untouched old entry gone, so the Scanner's own fresh
	// insert doesn't cost the file its FileId (spec §4.3/§8 rename law).
	// Directories are matched before files so a renamed directory's
	// descendants move in one Store.Rename call instead of being
	// independently (and redundantly) re-matched below.
	sort.SliceStable(staleRecs, func(i, j int) bool { return staleRecs[i].IsDir && !staleRecs[j].IsDir })
	sort.SliceStable(newlyInserted, func(i, j int) bool { return newlyInserted[i].IsDir && !newlyInserted[j].IsDir })

	consumedStale := make([]bool, len(staleRecs))
	consumedNew := make([]bool, len(newlyInserted))
	var renamed int

	for si, oldRec := range staleRecs {
		if consumedStale[si] {
			continue
		}
		for ni, newRec := range newlyInserted {
			if consumedNew[ni] {
				continue
			}
			if newRec.IsDir != oldRec.IsDir || newRec.Fingerprint != oldRec.Fingerprint {
				continue
			}
			consumedStale[si] = true
			consumedNew[ni] = true

			nr.st.RemoveSubtree(newRec.Path) // free the path(s) the Scanner just claimed under new ids
			renamedID := nr.st.Rename(oldRec.Path, newRec.Path, newRec.IsDir, newRec.Mtime, newRec.Size, b.Id)
			if nr.onMutation != nil {
				nr.onMutation(persist.RemoveFile{Id: newRec.Id})
				if updatedRec, ok := nr.st.Get(renamedID); ok {
					nr.onMutation(persist.UpsertFile{Record: updatedRec})
				}
			}
			renamed++

			if oldRec.IsDir {
				oldPrefix := oldRec.Path + "/"
				newPrefix := newRec.Path + "/"
				for sj, other := range staleRecs {
					if !consumedStale[sj] && strings.HasPrefix(other.Path, oldPrefix) {
						consumedStale[sj] = true
					}
				}
				for nj, other := range newlyInserted {
					if !consumedNew[nj] && strings.HasPrefix(other.Path, newPrefix) {
						consumedNew[nj] = true
						if nr.onMutation != nil {
							nr.onMutation(persist.RemoveFile{Id: other.Id})
						}
					}
				}
				if nr.onMutation != nil {
					for _, rec := range nr.st.All() {
						if rec.BookmarkId == b.Id && strings.HasPrefix(rec.Path, newPrefix) {
							nr.onMutation(persist.UpsertFile{Record: rec})
						}
					}
				}
			}
			break
		}
	}

	var stale []types.FileId
	for si, rec := range staleRecs {
		if consumedStale[si] {
			continue
		}
		nr.st.Remove(rec.Path)
		stale = append(stale, rec.Id)
	}
	if len(stale) > 0 && nr.onMutation != nil {
		nr.onMutation(persist.RemoveFiles{Ids: stale})
	}

	nr.reg.UpdateLastScan(b.Id, time.Now().Unix())
	if nr.onMutation != nil {
		if updated, ok := nr.reg.ByID(b.Id); ok {
			nr.onMutation(persist.UpsertBookmark{Bookmark: updated})
		}
	}

	logging.Reconcile("network rescan of %q: %d files, %d dirs, %d stale removed, %d renamed", b.Name, result.FilesIndexed, result.DirsIndexed, len(stale), renamed)
}
