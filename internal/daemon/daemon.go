// Package daemon wires every other internal package into one running
// daemon process: warm start, bookmark/watcher/reconciler/rescanner
// startup, the request server, and the graceful shutdown sequence (spec
// §5, §9). Mirrors the teacher's top-level construction pattern (a single
// struct holding every subsystem, started in dependency order) without a
// direct teacher file to adapt line-for-line, since the teacher's
// equivalent wiring lived in its cmd/lci CLI rather than one package.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/clearcmos/nixnavd/internal/bookmarks"
	"github.com/clearcmos/nixnavd/internal/daemonerrors"
	"github.com/clearcmos/nixnavd/internal/daemonserver"
	"github.com/clearcmos/nixnavd/internal/logging"
	"github.com/clearcmos/nixnavd/internal/persist"
	"github.com/clearcmos/nixnavd/internal/reconcile"
	"github.com/clearcmos/nixnavd/internal/scan"
	"github.com/clearcmos/nixnavd/internal/store"
	"github.com/clearcmos/nixnavd/internal/types"
	"github.com/clearcmos/nixnavd/internal/watch"
	"github.com/clearcmos/nixnavd/internal/xdg"
)

// WatchDebounce is the quiet period the Filesystem Watcher waits for a
// burst of events on the same path to settle before reconciling it.
const WatchDebounce = 300 * time.Millisecond

// Daemon owns every long-lived component of a running nixnavd process.
type Daemon struct {
	st  *store.Store
	reg *bookmarks.Registry
	db  *persist.DB
	srv *daemonserver.Server

	reconciler *reconcile.Reconciler
	netRescan  *reconcile.NetworkRescanner

	mu       sync.Mutex
	watchers map[types.BookmarkId]*watch.Watcher

	rescanGroup singleflight.Group
}

// New opens the database, warm-starts the Index Store and Bookmark
// Registry from it, and constructs (but does not yet start) every other
// subsystem.
func New() (*Daemon, error) {
	dbPath, err := xdg.DatabasePath()
	if err != nil {
		return nil, fmt.Errorf("daemon: resolve database path: %w", err)
	}
	db, err := persist.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: open database: %w", err)
	}

	st := store.New()
	reg := bookmarks.New()

	warmCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	err = db.WarmStart(warmCtx,
		func(rec types.FileRecord) {
			st.InsertWithID(rec.Id, rec.Path, rec.IsDir, rec.Mtime, rec.Size, rec.BookmarkId)
		},
		func(b types.Bookmark) {
			reg.Load(b)
		},
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("daemon: warm start: %w", err)
	}
	db.Start()

	d := &Daemon{
		st:       st,
		reg:      reg,
		db:       db,
		watchers: make(map[types.BookmarkId]*watch.Watcher),
	}
	d.reconciler = reconcile.New(st, d.forwardMutation)
	d.netRescan = reconcile.NewNetworkRescanner(st, reg, d.forwardMutation)

	d.srv = daemonserver.New(xdg.SocketPath(), daemonserver.Deps{
		Store:          st,
		Bookmarks:      reg,
		DB:             db,
		Rescan:         d.handleRescan,
		AddBookmark:    d.handleAddBookmark,
		RemoveBookmark: d.handleRemoveBookmark,
	}, daemonserver.DefaultWorkerPoolSize)

	return d, nil
}

func (d *Daemon) forwardMutation(m persist.Mutation) {
	d.db.Enqueue(m)
}

// Run starts every subsystem and blocks until ctx is cancelled, then runs
// Shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.srv.Start(); err != nil {
		return fmt.Errorf("daemon: start request server: %w", err)
	}

	for _, b := range d.reg.LocalBookmarks() {
		if err := d.startWatcher(b); err != nil {
			logging.Indexing("failed to start watcher for bookmark %q: %v", b.Name, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { d.reconciler.Run(gctx); return nil })
	g.Go(func() error { d.netRescan.Run(gctx); return nil })

	<-ctx.Done()
	_ = g.Wait()

	return d.Shutdown(context.Background())
}

func (d *Daemon) startWatcher(b types.Bookmark) error {
	w, err := watch.New(b, d.st, WatchDebounce, d.forwardMutation)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	d.mu.Lock()
	d.watchers[b.Id] = w
	d.mu.Unlock()
	return nil
}

// handleRescan runs (or joins an in-flight run of) a full Scanner pass at
// path, de-duplicating concurrent RESCAN requests for the same path via
// singleflight the way a repeated warm cache-fill would be collapsed.
func (d *Daemon) handleRescan(ctx context.Context, path string) (int, error) {
	b, ok := d.reg.RootFor(path)
	if !ok {
		return 0, daemonerrors.BadArgument("path %q is not under any bookmark", path)
	}

	v, err, _ := d.rescanGroup.Do(path, func() (interface{}, error) {
		result, err := scan.Scan(ctx, d.st, b.Id, path, func(rec types.FileRecord) {
			d.forwardMutation(persist.UpsertFile{Record: rec})
		})
		if err != nil {
			return 0, daemonerrors.IO("rescan", err)
		}
		return result.FilesIndexed + result.DirsIndexed, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// handleAddBookmark registers a brand-new bookmark and runs its initial
// scan.
func (d *Daemon) handleAddBookmark(ctx context.Context, name, path string, isNetwork bool) (int, error) {
	b, err := d.reg.Add(name, path, isNetwork)
	if err != nil {
		return 0, daemonerrors.BadArgument("%v", err)
	}
	d.forwardMutation(persist.UpsertBookmark{Bookmark: b})

	result, err := scan.Scan(ctx, d.st, b.Id, path, func(rec types.FileRecord) {
		d.forwardMutation(persist.UpsertFile{Record: rec})
	})
	if err != nil {
		return 0, daemonerrors.IO("add_bookmark scan", err)
	}

	if !isNetwork {
		if err := d.startWatcher(b); err != nil {
			logging.Indexing("failed to start watcher for new bookmark %q: %v", b.Name, err)
		}
	}

	return result.FilesIndexed + result.DirsIndexed, nil
}

// handleRemoveBookmark deregisters a bookmark and orphans (removes) every
// file indexed under it, preserving the under-bookmark-containment
// invariant (spec §3, decided in SPEC_FULL.md §9).
func (d *Daemon) handleRemoveBookmark(name string) error {
	b, ok := d.reg.ByName(name)
	if !ok {
		return daemonerrors.BadArgument("unknown bookmark %q", name)
	}

	d.mu.Lock()
	w, hasWatcher := d.watchers[b.Id]
	delete(d.watchers, b.Id)
	d.mu.Unlock()
	if hasWatcher {
		w.Stop()
	}

	removed := d.st.RemoveSubtree(b.Path)
	if len(removed) > 0 {
		d.forwardMutation(persist.RemoveFiles{Ids: removed})
	}

	d.reg.Remove(b.Id)
	d.forwardMutation(persist.RemoveBookmark{Id: b.Id})
	return nil
}

// Shutdown drains the persistence inbox, stops every watcher, then stops
// the request server's accept loop and unlinks its socket, in that order
// (SPEC_FULL.md supplemented feature 4, matching the teacher's
// Shutdown/Wait ordering).
func (d *Daemon) Shutdown(ctx context.Context) error {
	if err := d.db.Shutdown(ctx); err != nil {
		logging.DB("shutdown: %v", err)
	}

	d.mu.Lock()
	watchers := make([]*watch.Watcher, 0, len(d.watchers))
	for _, w := range d.watchers {
		watchers = append(watchers, w)
	}
	d.mu.Unlock()
	for _, w := range watchers {
		w.Stop()
	}

	if err := d.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("daemon: shutdown request server: %w", err)
	}
	return nil
}
