// Package bookmarks implements the Bookmark Registry (spec §2 item 5): the
// set of roots currently indexed, their network/local classification, and
// last-scan timestamps.
package bookmarks

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/clearcmos/nixnavd/internal/types"
)

// ErrNameTaken is returned by Add when the bookmark name is already
// registered (spec §3: names are unique).
var ErrNameTaken = fmt.Errorf("bookmarks: name already registered")

// ErrPathTaken is returned by Add when the bookmark path is already
// registered (spec §3: paths are unique).
var ErrPathTaken = fmt.Errorf("bookmarks: path already registered")

// Registry tracks the live set of bookmarks. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byID   map[types.BookmarkId]*types.Bookmark
	byName map[string]types.BookmarkId
	byPath map[string]types.BookmarkId
	nextID types.BookmarkId
}

func New() *Registry {
	return &Registry{
		byID:   make(map[types.BookmarkId]*types.Bookmark),
		byName: make(map[string]types.BookmarkId),
		byPath: make(map[string]types.BookmarkId),
		nextID: 1,
	}
}

// Add registers a new bookmark and allocates its id.
func (r *Registry) Add(name, path string, isNetwork bool) (types.Bookmark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return types.Bookmark{}, ErrNameTaken
	}
	if _, ok := r.byPath[path]; ok {
		return types.Bookmark{}, ErrPathTaken
	}

	id := r.nextID
	r.nextID++
	b := &types.Bookmark{Id: id, Name: name, Path: path, IsNetwork: isNetwork}
	r.byID[id] = b
	r.byName[name] = id
	r.byPath[path] = id
	return *b, nil
}

// Load registers a bookmark at warm start with its persisted id, preserving
// it exactly (mirrors interner.InternWithID).
func (r *Registry) Load(b types.Bookmark) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := b
	r.byID[b.Id] = &cp
	r.byName[b.Name] = b.Id
	r.byPath[b.Path] = b.Id
	if b.Id >= r.nextID {
		r.nextID = b.Id + 1
	}
}

// Remove deregisters a bookmark. Callers are responsible for orphaning
// (removing) its indexed files from the Index Store and Persistence Layer
// (spec §9 Open Question, decided in SPEC_FULL.md: removal orphans the
// bookmark's files rather than retaining them).
func (r *Registry) Remove(id types.BookmarkId) (types.Bookmark, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byID[id]
	if !ok {
		return types.Bookmark{}, false
	}
	delete(r.byID, id)
	delete(r.byName, b.Name)
	delete(r.byPath, b.Path)
	return *b, true
}

// ByName returns the bookmark registered under name.
func (r *Registry) ByName(name string) (types.Bookmark, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return types.Bookmark{}, false
	}
	return *r.byID[id], true
}

// ByID returns the bookmark with the given id.
func (r *Registry) ByID(id types.BookmarkId) (types.Bookmark, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[id]
	if !ok {
		return types.Bookmark{}, false
	}
	return *b, true
}

// ByPath returns the bookmark registered at exactly path.
func (r *Registry) ByPath(path string) (types.Bookmark, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPath[path]
	if !ok {
		return types.Bookmark{}, false
	}
	return *r.byID[id], true
}

// RootFor returns the bookmark that is path's longest matching prefix
// parent, satisfying the under-bookmark-containment invariant (spec §3):
// every FileRecord's path has exactly one bookmark as a prefix-parent.
func (r *Registry) RootFor(path string) (types.Bookmark, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *types.Bookmark
	for _, b := range r.byID {
		if path == b.Path || strings.HasPrefix(path, b.Path+"/") {
			if best == nil || len(b.Path) > len(best.Path) {
				best = b
			}
		}
	}
	if best == nil {
		return types.Bookmark{}, false
	}
	return *best, true
}

// UpdateLastScan sets the last-scan timestamp for id.
func (r *Registry) UpdateLastScan(id types.BookmarkId, unixSeconds int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byID[id]; ok {
		v := unixSeconds
		b.LastScan = &v
	}
}

// List returns every registered bookmark, ordered by id for determinism.
func (r *Registry) List() []types.Bookmark {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Bookmark, 0, len(r.byID))
	for _, b := range r.byID {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// Count returns the number of registered bookmarks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// NetworkBookmarks returns every bookmark flagged is_network, for the
// Network Rescanner (spec §4.8).
func (r *Registry) NetworkBookmarks() []types.Bookmark {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Bookmark
	for _, b := range r.byID {
		if b.IsNetwork {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// LocalBookmarks returns every bookmark not flagged is_network, for the
// Filesystem Watcher dispatcher (spec §4.6: "one watcher per local
// bookmark").
func (r *Registry) LocalBookmarks() []types.Bookmark {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Bookmark
	for _, b := range r.byID {
		if !b.IsNetwork {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}
