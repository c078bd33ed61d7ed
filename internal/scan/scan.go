// Package scan implements the Scanner (spec §4.5): a recursive walk of a
// bookmark's root that populates the Index Store, pruning excluded
// directories, following symlinks into their canonicalised targets, and
// detecting cycles the way the teacher's ScanDirectory does, adapted onto
// this daemon's trigram FileRecord model instead of parse-and-index
// FileTasks.
package scan

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/clearcmos/nixnavd/internal/logging"
	"github.com/clearcmos/nixnavd/internal/store"
	"github.com/clearcmos/nixnavd/internal/types"
)

// excludedNames are directory basenames pruned outright (spec §4.5).
var excludedNames = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"__pycache__":  {},
	".cache":       {},
	".npm":         {},
	".cargo":       {},
	"target":       {},
	"build":        {},
	"dist":         {},
	".next":        {},
	".nuxt":        {},
}

// excludedGlobs catches names that vary (Trash, .Trash-1000, .Trash~).
var excludedGlobs = []string{"Trash", ".Trash*"}

// IsExcludedDir reports whether a directory basename is pruned by the
// scanner's fixed exclusion list. Exported so the watcher applies the same
// rule when deciding whether to add a watch for a newly created directory.
func IsExcludedDir(name string) bool {
	return isExcludedDir(name)
}

func isExcludedDir(name string) bool {
	if _, ok := excludedNames[name]; ok {
		return true
	}
	for _, g := range excludedGlobs {
		if ok, _ := doublestar.Match(g, name); ok {
			return true
		}
	}
	return false
}

// Result summarizes one scan pass.
type Result struct {
	FilesIndexed int
	DirsIndexed  int
	Errors       int
}

// OnIndexed is invoked once per indexed entry after it has been applied to
// the Store, so the caller can forward the same record to the Persistence
// Layer's mutation inbox without scan depending on persist directly.
type OnIndexed func(rec types.FileRecord)

// scanner holds the state threaded through one recursive pass.
type scanner struct {
	ctx        context.Context
	st         *store.Store
	bookmarkID types.BookmarkId
	onIndexed  OnIndexed
	visited    map[string]struct{}
	res        Result
}

// Scan walks root recursively, inserting every surviving entry into st
// under bookmarkID and invoking onIndexed for each. Symbolic links are
// followed into their canonicalised targets (spec §4.5); cycles are broken
// by tracking the set of real directory paths visited during this one
// call, mirroring the teacher's visitedDirs bookkeeping in ScanDirectory.
func Scan(ctx context.Context, st *store.Store, bookmarkID types.BookmarkId, root string, onIndexed OnIndexed) (Result, error) {
	s := &scanner{
		ctx:        ctx,
		st:         st,
		bookmarkID: bookmarkID,
		onIndexed:  onIndexed,
		visited:    make(map[string]struct{}),
	}
	err := s.walk(root, true)
	return s.res, err
}

func (s *scanner) walk(path string, isRoot bool) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	lstatInfo, err := os.Lstat(path)
	if err != nil {
		logging.Trace("SCAN", "lstat failed for %s: %v", path, err)
		s.res.Errors++
		return nil
	}

	info := lstatInfo
	if lstatInfo.Mode()&os.ModeSymlink != 0 {
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			logging.Trace("SCAN", "unresolvable symlink %s: %v", path, err)
			s.res.Errors++
			return nil
		}
		target, err := os.Stat(real)
		if err != nil {
			logging.Trace("SCAN", "symlink target unreachable for %s: %v", path, err)
			s.res.Errors++
			return nil
		}
		info = target
		if info.IsDir() {
			if _, seen := s.visited[real]; seen {
				logging.Trace("SCAN", "cycle detected following symlink at %s, skipping", path)
				return nil
			}
			s.visited[real] = struct{}{}
		}
	} else if lstatInfo.IsDir() {
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			s.res.Errors++
			return nil
		}
		if _, seen := s.visited[real]; seen {
			logging.Trace("SCAN", "cycle detected at %s, skipping", path)
			return nil
		}
		s.visited[real] = struct{}{}
	}

	if info.IsDir() {
		if !isRoot && isExcludedDir(filepath.Base(path)) {
			return nil
		}
		s.index(path, true, info)

		entries, err := os.ReadDir(path)
		if err != nil {
			logging.Trace("SCAN", "readdir failed for %s: %v", path, err)
			s.res.Errors++
			return nil
		}
		for _, e := range entries {
			if err := s.walk(filepath.Join(path, e.Name()), false); err != nil {
				return err
			}
		}
		return nil
	}

	s.index(path, false, info)
	return nil
}

func (s *scanner) index(path string, isDir bool, info os.FileInfo) {
	id := s.st.Insert(path, isDir, info.ModTime().Unix(), uint64(info.Size()), s.bookmarkID)
	if isDir {
		s.res.DirsIndexed++
	} else {
		s.res.FilesIndexed++
	}
	if s.onIndexed != nil {
		if rec, ok := s.st.Get(id); ok {
			s.onIndexed(rec)
		}
	}
}
