package fs

import (
	"errors"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"syscall"
)

// ChaosConfig controls fault injection probabilities. Each rate is a
// float64 from 0.0 (never) to 1.0 (always). The zero value injects nothing.
//
// This is a deliberately small subset of the kind of fault matrix a
// filesystem fuzzer could model — SHDE's invariants (backups exist before
// mutation, ledgers stay valid JSON across abrupt termination, rollback
// restores byte-exact state) only need "does this operation fail outright"
// and "does this write land only partially", not full torn-byte page-cache
// simulation.
type ChaosConfig struct {
	OpenFailRate   float64
	ReadFailRate   float64
	WriteFailRate  float64
	SyncFailRate   float64
	RenameFailRate float64
	ShortWriteRate float64 // fraction of WriteFailRate draws that instead short-write
}

// Chaos wraps an [FS] and injects faults according to [ChaosConfig].
// Safe for concurrent use.
type Chaos struct {
	inner FS
	cfg   ChaosConfig
	rng   *rand.Rand
	mu    sync.Mutex
}

// NewChaos wraps inner with fault injection seeded by seed, so test runs
// stay reproducible: every source of randomness in this codebase is
// seedable.
func NewChaos(inner FS, cfg ChaosConfig, seed uint64) *Chaos {
	return &Chaos{inner: inner, cfg: cfg, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b9))}
}

func (c *Chaos) roll() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Float64()
}

var errChaosInjected = errors.New("fs: injected fault")

func (c *Chaos) maybeFail(rate float64) error {
	if rate > 0 && c.roll() < rate {
		return &fs.PathError{Op: "chaos", Path: "", Err: errChaosInjected}
	}

	return nil
}

func (c *Chaos) Open(path string) (File, error) {
	if err := c.maybeFail(c.cfg.OpenFailRate); err != nil {
		return nil, err
	}

	f, err := c.inner.Open(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, c: c}, nil
}

func (c *Chaos) Create(path string) (File, error) {
	if err := c.maybeFail(c.cfg.OpenFailRate); err != nil {
		return nil, err
	}

	f, err := c.inner.Create(path)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, c: c}, nil
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := c.maybeFail(c.cfg.OpenFailRate); err != nil {
		return nil, err
	}

	f, err := c.inner.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, c: c}, nil
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if err := c.maybeFail(c.cfg.ReadFailRate); err != nil {
		return nil, err
	}

	return c.inner.ReadFile(path)
}

func (c *Chaos) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := c.maybeFail(c.cfg.WriteFailRate); err != nil {
		return err
	}

	return c.inner.WriteFile(path, data, perm)
}

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) { return c.inner.ReadDir(path) }

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error { return c.inner.MkdirAll(path, perm) }

func (c *Chaos) Stat(path string) (os.FileInfo, error) { return c.inner.Stat(path) }

func (c *Chaos) Exists(path string) (bool, error) { return c.inner.Exists(path) }

func (c *Chaos) Remove(path string) error { return c.inner.Remove(path) }

func (c *Chaos) RemoveAll(path string) error { return c.inner.RemoveAll(path) }

func (c *Chaos) Rename(oldpath, newpath string) error {
	if err := c.maybeFail(c.cfg.RenameFailRate); err != nil {
		return err
	}

	return c.inner.Rename(oldpath, newpath)
}

var _ FS = (*Chaos)(nil)

// chaosFile wraps an open [File], injecting read/write/sync faults.
type chaosFile struct {
	File
	c *Chaos
}

func (f *chaosFile) Read(p []byte) (int, error) {
	if err := f.c.maybeFail(f.c.cfg.ReadFailRate); err != nil {
		return 0, err
	}

	return f.File.Read(p)
}

func (f *chaosFile) Write(p []byte) (int, error) {
	if f.c.cfg.WriteFailRate > 0 && f.c.roll() < f.c.cfg.WriteFailRate {
		if f.c.roll() < f.c.cfg.ShortWriteRate && len(p) > 1 {
			short := len(p) / 2
			n, _ := f.File.Write(p[:short])

			return n, io.ErrShortWrite
		}

		return 0, &fs.PathError{Op: "write", Path: "", Err: syscall.EIO}
	}

	return f.File.Write(p)
}

func (f *chaosFile) Sync() error {
	if err := f.c.maybeFail(f.c.cfg.SyncFailRate); err != nil {
		return err
	}

	return f.File.Sync()
}

var _ File = (*chaosFile)(nil)
