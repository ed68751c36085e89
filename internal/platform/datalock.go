// Package platform holds OS specific helpers.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LockFilename is created inside the locked data directory.
const LockFilename = "meshola.lock"

var (
	// ErrDataDirLocked indicates another process already uses the data directory.
	ErrDataDirLocked = errors.New("data directory is in use by another process")
	// ErrLockUnsupported indicates the current platform has no lock backend.
	ErrLockUnsupported = errors.New("data directory lock unsupported")
)

// DataDirLock is held for as long as the process owns a data directory.
type DataDirLock interface {
	Path() string
	Release() error
}

// LockDataDir takes an exclusive, non-blocking lock on dataDir.
// The lock is dropped by the OS when the process exits.
func LockDataDir(dataDir string) (DataDirLock, error) {
	dataDir = strings.TrimSpace(dataDir)
	if dataDir == "" {
		return nil, fmt.Errorf("lock data dir: empty path")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return lockFile(filepath.Join(dataDir, LockFilename))
}
