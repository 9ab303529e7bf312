//go:build unix

package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const liveLockFilename = "live.lock"

type unixLiveLock struct {
	file *os.File
}

func acquireLiveLock(cacheDir string) (LiveLock, error) {
	if err := os.MkdirAll(cacheDir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	lockPath := filepath.Join(cacheDir, liveLockFilename)
	// #nosec G304 -- lockPath lives in the app cache directory.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open live lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrLiveSessionRunning
		}

		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}

	return &unixLiveLock{file: file}, nil
}

func (l *unixLiveLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil && !errors.Is(unlockErr, syscall.EBADF) {
		return fmt.Errorf("unlock live lock: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close live lock file: %w", closeErr)
	}

	return nil
}
