//go:build !unix

package platform

import (
	"fmt"
	"runtime"
)

func lockFile(_ string) (DataDirLock, error) {
	return nil, fmt.Errorf("%w on %s", ErrLockUnsupported, runtime.GOOS)
}
