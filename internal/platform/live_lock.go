package platform

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrLiveSessionRunning indicates another process already streams live
// updates into the same cache directory.
var ErrLiveSessionRunning = errors.New("live session already running")

// ErrLiveLockUnsupported indicates the current platform has no lock backend.
var ErrLiveLockUnsupported = errors.New("live lock unsupported")

// LiveLock is held for as long as a process owns live updates for a cache.
type LiveLock interface {
	Release() error
}

// AcquireLiveLock takes an exclusive, non-blocking lock scoped to cacheDir
// and the current user.
func AcquireLiveLock(cacheDir string) (LiveLock, error) {
	return acquireLiveLock(filepath.Clean(cacheDir))
}

func lockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
