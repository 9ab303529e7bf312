//go:build !unix && !windows

package platform

import (
	"fmt"
	"runtime"
)

func acquireLiveLock(_ string) (LiveLock, error) {
	return nil, fmt.Errorf("%w on %s", ErrLiveLockUnsupported, runtime.GOOS)
}
