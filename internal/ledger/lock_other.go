//go:build !linux && !windows

package ledger

import (
	"os"

	"golang.org/x/sys/unix"
)

// tryLockExclusive backs WithLock on BSD-family unixes (darwin included),
// where syscall doesn't expose flock constants the way it does on linux.
func tryLockExclusive(f *os.File) (bool, error) {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}

	if err == unix.EWOULDBLOCK {
		return false, nil
	}

	return false, err
}

func unlockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
