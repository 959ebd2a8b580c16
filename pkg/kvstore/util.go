package kvstore

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// syncData flushes dirty pages for fd to stable storage. writeRecord calls
// this twice per record -- once after copy A, once after copy B -- so a
// crash can tear at most one copy, never both at once.
func syncData(fd int) error {
	if err := unix.Fsync(fd); err != nil {
		return fmt.Errorf("fsync: %w: %w", err, ErrIO)
	}

	return nil
}

// absClean canonicalizes path for use as the shared coordination key and
// rejects paths over maxPathLen.
func absClean(path string) (string, error) {
	if path == "" || len(path) > maxPathLen {
		return "", fmt.Errorf("path length out of range")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	return filepath.Clean(abs), nil
}
