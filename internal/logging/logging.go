// Package logging provides the daemon's subsystem-tagged logging, the same
// shape as the teacher's internal/debug package but always-on for
// operational messages (this is a long-running daemon with no interactive
// stdio to protect) with a separate, togglable verbose tier for the noisy
// per-event traces.
package logging

import (
	"fmt"
	"log"
	"os"
)

// Verbose gates per-event trace logging (one line per filesystem event,
// per scanned entry). Operational messages (startup, shutdown, errors,
// reconciler cycle summaries) always log regardless of this flag.
var Verbose = os.Getenv("NIXNAVD_DEBUG") == "1" || os.Getenv("NIXNAVD_DEBUG") == "true"

func tagged(component, format string, args ...interface{}) string {
	return fmt.Sprintf("[%s] "+format, append([]interface{}{component}, args...)...)
}

// Indexing logs a scanner/index-store operational message.
func Indexing(format string, args ...interface{}) { log.Print(tagged("INDEX", format, args...)) }

// Watch logs a filesystem-watcher operational message.
func Watch(format string, args ...interface{}) { log.Print(tagged("WATCH", format, args...)) }

// Server logs a request-server operational message.
func Server(format string, args ...interface{}) { log.Print(tagged("SERVER", format, args...)) }

// DB logs a persistence-layer operational message.
func DB(format string, args ...interface{}) { log.Print(tagged("DB", format, args...)) }

// Reconcile logs an integrity-reconciler / network-rescanner message.
func Reconcile(format string, args ...interface{}) { log.Print(tagged("RECONCILE", format, args...)) }

// Trace logs a per-event message under the given component tag, only when
// Verbose is enabled. Used for the high-volume traces (one per fsnotify
// event, one per scanned entry) that would otherwise flood the log.
func Trace(component, format string, args ...interface{}) {
	if !Verbose {
		return
	}
	log.Print(tagged(component, format, args...))
}
