//go:build windows

package platform

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

type windowsLiveLock struct {
	handle windows.Handle
}

func acquireLiveLock(cacheDir string) (LiveLock, error) {
	tokenUser, err := windows.GetCurrentProcessToken().GetTokenUser()
	if err != nil {
		return nil, fmt.Errorf("read current user token: %w", err)
	}

	name := `Local\veeposync-live-` + lockComponent(cacheDir, "cache") + `-` +
		lockComponent(tokenUser.User.Sid.String(), "sid")
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("encode live mutex name: %w", err)
	}

	handle, err := windows.CreateMutex(nil, false, namePtr)
	if err != nil {
		if handle != 0 {
			_ = windows.CloseHandle(handle)
		}
		if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
			return nil, ErrLiveSessionRunning
		}

		return nil, fmt.Errorf("create live mutex: %w", err)
	}

	return &windowsLiveLock{handle: handle}, nil
}

func (l *windowsLiveLock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}

	err := windows.CloseHandle(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("close live mutex: %w", err)
	}

	return nil
}
