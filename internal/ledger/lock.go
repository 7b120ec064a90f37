// Package ledger provides the single persistence primitive every stateful
// SHDE component builds on: a crash-safe, single-writer-per-path JSON
// document, backed by [fs.AtomicWriter] and an flock-based advisory lock,
// usable for ledgers, the learned-fix store, and the session report alike.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LockTimeout bounds how long WithLock waits to acquire a path's lock.
const LockTimeout = 5 * time.Second

var ErrLockTimeout = errors.New("ledger: lock timeout")

// locksDirName keeps lock files in a sibling directory so acquiring/
// releasing a lock never touches the parent directory's mtime (which would
// otherwise invalidate unrelated caches).
const locksDirName = ".locks"

// fileLock represents a held advisory lock on a path.
type fileLock struct {
	path string
	file *os.File
}

// WithLock runs fn while holding an exclusive lock associated with path.
// The lock is released unconditionally when fn returns.
func WithLock(ctx context.Context, path string, fn func() error) error {
	lock, err := acquireLock(ctx, path)
	if err != nil {
		return fmt.Errorf("ledger: acquire lock for %q: %w", path, err)
	}

	defer lock.release()

	return fn()
}

func acquireLock(ctx context.Context, path string) (*fileLock, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	locksDir := filepath.Join(dir, locksDirName)
	lockPath := filepath.Join(locksDir, base+".lock")

	if err := os.MkdirAll(locksDir, 0o750); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}

	deadline := time.Now().Add(LockTimeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, path)
		}

		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open lock file: %w", err)
		}

		ok, err := tryLockExclusive(file)
		if err != nil {
			_ = file.Close()
			return nil, err
		}

		if ok {
			return &fileLock{path: lockPath, file: file}, nil
		}

		_ = file.Close()
		time.Sleep(10 * time.Millisecond)
	}
}

func (l *fileLock) release() {
	if l.file == nil {
		return
	}

	_ = unlockExclusive(l.file)
	_ = l.file.Close()
	l.file = nil
}
