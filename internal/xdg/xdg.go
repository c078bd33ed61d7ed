// Package xdg resolves the daemon's socket and database paths per spec §6.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const socketName = "nixnav-daemon.sock"

// SocketPath returns $XDG_RUNTIME_DIR/nixnav-daemon.sock, falling back to
// /run/user/<euid>/nixnav-daemon.sock when XDG_RUNTIME_DIR is unset.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, socketName)
	}
	return filepath.Join(fmt.Sprintf("/run/user/%d", os.Geteuid()), socketName)
}

// DatabasePath returns $XDG_DATA_HOME/nixnav/index.db, falling back to
// ~/.local/share/nixnav/index.db.
func DatabasePath() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "nixnav", "index.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("xdg: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "nixnav", "index.db"), nil
}
