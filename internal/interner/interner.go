// Package interner implements the Path Interner (spec §4.1): a bidirectional
// map between a path and its stable FileId.
package interner

import (
	"sync"

	"github.com/clearcmos/nixnavd/internal/types"
)

// Interner assigns a stable FileId to every known path and resolves in
// both directions. Safe for concurrent use; callers needing a consistent
// read of multiple paths should hold the Index Store's latch, not rely on
// the interner's own lock for cross-call atomicity.
type Interner struct {
	mu       sync.RWMutex
	pathToID map[string]types.FileId
	idToPath map[types.FileId]string
	nextID   types.FileId
}

// New creates an empty interner. The first allocated id is 1 (0 is
// reserved as "no id" in wire/zero-value contexts).
func New() *Interner {
	return &Interner{
		pathToID: make(map[string]types.FileId),
		idToPath: make(map[types.FileId]string),
		nextID:   1,
	}
}

// Intern returns the existing FileId for path if known, otherwise allocates
// and returns a new one. The second return value reports whether a new id
// was created.
func (in *Interner) Intern(path string) (types.FileId, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if id, ok := in.pathToID[path]; ok {
		return id, false
	}
	id := in.nextID
	in.nextID++
	in.pathToID[path] = id
	in.idToPath[id] = path
	return id, true
}

// InternWithID registers path under a caller-chosen id, used during warm
// start to re-intern ids to themselves as persisted rows stream in. It is
// an error for the id or path to already be registered under a different
// counterpart; callers (warm start) are expected to feed a consistent
// snapshot, so this silently keeps the existing mapping in that case.
func (in *Interner) InternWithID(path string, id types.FileId) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if _, ok := in.pathToID[path]; ok {
		return
	}
	if _, ok := in.idToPath[id]; ok {
		return
	}
	in.pathToID[path] = id
	in.idToPath[id] = path
	if id >= in.nextID {
		in.nextID = id + 1
	}
}

// Resolve returns the path for id, if still interned.
func (in *Interner) Resolve(id types.FileId) (string, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	path, ok := in.idToPath[id]
	return path, ok
}

// Lookup returns the FileId for path, if interned, without allocating one.
func (in *Interner) Lookup(path string) (types.FileId, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	id, ok := in.pathToID[path]
	return id, ok
}

// Forget removes both directions of the mapping for id. Idempotent.
func (in *Interner) Forget(id types.FileId) {
	in.mu.Lock()
	defer in.mu.Unlock()
	path, ok := in.idToPath[id]
	if !ok {
		return
	}
	delete(in.idToPath, id)
	delete(in.pathToID, path)
}

// Rename moves the interning of an id from oldPath to newPath, preserving
// the FileId. No-op (beyond bookkeeping) if oldPath was not interned.
func (in *Interner) Rename(oldPath, newPath string) (types.FileId, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	id, ok := in.pathToID[oldPath]
	if !ok {
		return 0, false
	}
	delete(in.pathToID, oldPath)
	in.pathToID[newPath] = id
	in.idToPath[id] = newPath
	return id, true
}

// Len returns the number of currently interned paths.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.pathToID)
}
