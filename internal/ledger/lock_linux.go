//go:build linux

package ledger

import (
	"os"
	"syscall"
)

func tryLockExclusive(f *os.File) (bool, error) {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		return true, nil
	}

	if err == syscall.EWOULDBLOCK {
		return false, nil
	}

	return false, err
}

func unlockExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
