// Windows file locking using LockFileEx/UnlockFileEx.
//
// This file is compiled only on Windows. LOCKFILE_FAIL_IMMEDIATELY mirrors
// LOCK_NB on Unix. The locked byte sits far past the file contents so other
// processes can still read the PID that the holder wrote.

//go:build windows

package aspects

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// removeWhileLocked is false: the file is opened without
// FILE_SHARE_DELETE, so it can only be removed once closed.
const removeWhileLocked = false

// lockOffsetHigh places the locked byte at 4 GiB.
const lockOffsetHigh = 1

// ///////////////////////////////////////////////
// File Locking
// ///////////////////////////////////////////////

// lockFile acquires an exclusive, non-blocking lock on one byte of f.
func lockFile(f *os.File) error {
	ol := &windows.Overlapped{OffsetHigh: lockOffsetHigh}
	if err := windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1, 0,
		ol,
	); err != nil {
		return fmt.Errorf("lock file %s: %w", f.Name(), err)
	}
	return nil
}

// unlockFile releases the lock held on f.
func unlockFile(f *os.File) error {
	ol := &windows.Overlapped{OffsetHigh: lockOffsetHigh}
	if err := windows.UnlockFileEx(
		windows.Handle(f.Fd()),
		0,
		1, 0,
		ol,
	); err != nil {
		return fmt.Errorf("unlock file %s: %w", f.Name(), err)
	}
	return nil
}

// lockHeld reports whether err from lockFile means another process holds
// the lock.
func lockHeld(err error) bool {
	return errors.Is(err, windows.ERROR_LOCK_VIOLATION)
}
