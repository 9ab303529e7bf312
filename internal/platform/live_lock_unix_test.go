//go:build unix

package platform

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireLiveLock_ContentionAndRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")

	first, err := AcquireLiveLock(dir)
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}

	second, err := AcquireLiveLock(dir + string(filepath.Separator))
	if !errors.Is(err, ErrLiveSessionRunning) {
		t.Fatalf("expected %v, got %v", ErrLiveSessionRunning, err)
	}
	if second != nil {
		t.Fatalf("expected no second lock, got %#v", second)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("release first lock: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}

	third, err := AcquireLiveLock(dir)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	t.Cleanup(func() { _ = third.Release() })

	if _, err := os.Stat(filepath.Join(dir, liveLockFilename)); err != nil {
		t.Fatalf("expected lock file in cache dir: %v", err)
	}
}

func TestAcquireLiveLock_SeparateCachesDoNotContend(t *testing.T) {
	a, err := AcquireLiveLock(filepath.Join(t.TempDir(), "a"))
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	t.Cleanup(func() { _ = a.Release() })

	b, err := AcquireLiveLock(filepath.Join(t.TempDir(), "b"))
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	t.Cleanup(func() { _ = b.Release() })
}
