// Unix/Darwin file locking using flock(2).
//
// This file is compiled on all non-Windows platforms (Linux, macOS, *BSD).
// The lock is advisory and tied to the open file description, so it is
// dropped by the kernel when the holder exits.

//go:build !windows

package aspects

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// removeWhileLocked is true because unlinking an open file is allowed.
const removeWhileLocked = true

// ///////////////////////////////////////////////
// File Locking
// ///////////////////////////////////////////////

// lockFile acquires an exclusive, non-blocking lock on f. LOCK_NB makes a
// held lock fail immediately with EWOULDBLOCK.
func lockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("lock file %s: %w", f.Name(), err)
	}
	return nil
}

// unlockFile releases the lock held on f.
func unlockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlock file %s: %w", f.Name(), err)
	}
	return nil
}

// lockHeld reports whether err from lockFile means another process holds
// the lock.
func lockHeld(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN)
}
