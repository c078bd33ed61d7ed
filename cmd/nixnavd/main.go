// Command nixnavd is the local filesystem indexing daemon: it takes no
// arguments, indexes the bookmarks recorded in its database, and serves
// SEARCH/STATS/etc. requests over a unix domain socket until terminated
// (spec §6 CLI surface).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/clearcmos/nixnavd/internal/daemon"
)

func main() {
	os.Exit(run())
}

func run() int {
	d, err := daemon.New()
	if err != nil {
		log.Printf("fatal: %v", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := d.Run(ctx); err != nil {
		log.Printf("fatal: %v", err)
		return 1
	}
	return 0
}
