// Package backup implements the Backup Vault: the exclusive owner of
// per-session, per-file byte-exact snapshots taken before the Debug Loop
// Controller mutates a source file. Every other component — the Rollback
// Manager included — may only consult the vault, never write to it: a
// single writer, many readers.
package backup

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shde-project/shde/internal/engine"
	"github.com/shde-project/shde/pkg/fs"
)

var (
	_ engine.Vault    = (*Vault)(nil)
	_ engine.Restorer = (*Vault)(nil)
)

// defaultFilePerm is used when the original file's mode cannot be
// determined (e.g. restoring to a path whose directory was removed).
const defaultFilePerm = 0o644

// Snapshot is a byte-exact copy of a file as it existed immediately before
// its first mutation in a session.
type Snapshot struct {
	FilePath      string `json:"file_path"`
	SessionID     string `json:"session_id"`
	OriginalBytes []byte `json:"original_bytes"`
}

// Vault is the sole writer of rollback_backups/<session>/<escaped-path>.bak
// snapshot files. The zero value is not usable; construct with New.
type Vault struct {
	fsys    fs.FS
	writer  *fs.AtomicWriter
	rootDir string // rollback_backups/

	mu    sync.Mutex
	got   map[string]map[string]struct{} // session -> set of backed-up paths
	order map[string][]string            // session -> paths in the order EnsureBackup first saw them
}

// New returns a Vault rooted at dataDir/rollback_backups, performing all
// I/O through fsys so tests can substitute [fs.Chaos].
func New(fsys fs.FS, dataDir string) *Vault {
	return &Vault{
		fsys:    fsys,
		writer:  fs.NewAtomicWriter(fsys),
		rootDir: filepath.Join(dataDir, "rollback_backups"),
		got:     make(map[string]map[string]struct{}),
		order:   make(map[string][]string),
	}
}

// escapePath turns an absolute or relative source path into a filename-safe
// token, so nested directories collapse into one flat backup directory per
// session.
func escapePath(path string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(filepath.ToSlash(path)))
}

func (v *Vault) snapshotPath(sessionID, path string) string {
	return filepath.Join(v.rootDir, sessionID, escapePath(path)+".bak")
}

// EnsureBackup snapshots path for sessionID if no snapshot yet exists for
// that (session, path) pair, satisfying invariant 1 of the data model: "no
// file may be mutated without a BackupSnapshot existing for it in the
// current session." Idempotent and safe to call before every mutation
// attempt, not just the first.
func (v *Vault) EnsureBackup(ctx context.Context, sessionID, path string) error {
	v.mu.Lock()
	if _, ok := v.got[sessionID]; !ok {
		v.got[sessionID] = make(map[string]struct{})
	}

	if _, already := v.got[sessionID][path]; already {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	snapPath := v.snapshotPath(sessionID, path)

	// A durable on-disk marker lets a restarted process recognize a
	// snapshot taken by a prior, killed invocation of the same session id,
	// rather than re-snapshotting (and silently overwriting) it.
	exists, err := v.fsys.Exists(snapPath)
	if err != nil {
		return fmt.Errorf("backup: stat snapshot for %q: %w", path, err)
	}

	if !exists {
		original, err := v.fsys.ReadFile(path)
		if err != nil {
			return fmt.Errorf("backup: read original %q: %w", path, err)
		}

		if err := v.writer.Write(snapPath, bytes.NewReader(original), fs.AtomicWriteOptions{SyncDir: true, Perm: defaultFilePerm}); err != nil {
			return fmt.Errorf("backup: persist snapshot for %q: %w", path, err)
		}
	}

	v.mu.Lock()
	v.got[sessionID][path] = struct{}{}
	v.order[sessionID] = append(v.order[sessionID], path)
	v.mu.Unlock()

	return nil
}

// Restore copies the stored bytes for path back into place and forgets the
// in-memory record (the on-disk snapshot file itself is left for Commit or
// a later Abort to reconcile — restoring releases only the in-session
// bookkeeping slot, never taking a second silent snapshot of the restored
// content).
func (v *Vault) Restore(ctx context.Context, sessionID, path string) error {
	snapPath := v.snapshotPath(sessionID, path)

	original, err := v.fsys.ReadFile(snapPath)
	if err != nil {
		return fmt.Errorf("backup: read snapshot for %q: %w", path, err)
	}

	perm := os.FileMode(defaultFilePerm)
	if info, statErr := v.fsys.Stat(path); statErr == nil {
		perm = info.Mode()
	}

	if err := v.writer.Write(path, bytes.NewReader(original), fs.AtomicWriteOptions{SyncDir: true, Perm: perm}); err != nil {
		return fmt.Errorf("backup: restore %q: %w", path, err)
	}

	v.mu.Lock()
	delete(v.got[sessionID], path)

	for i, p := range v.order[sessionID] {
		if p == path {
			v.order[sessionID] = append(v.order[sessionID][:i:i], v.order[sessionID][i+1:]...)
			break
		}
	}
	v.mu.Unlock()

	return nil
}

// SnapshotPaths returns the paths backed up for sessionID, in the order
// EnsureBackup first saw each — the order Abort must restore in reverse.
func (v *Vault) SnapshotPaths(sessionID string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]string, len(v.order[sessionID]))
	copy(out, v.order[sessionID])

	return out
}

// HasBackup reports whether path already has a snapshot for sessionID.
func (v *Vault) HasBackup(sessionID, path string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, ok := v.got[sessionID][path]

	return ok
}

// Commit discards the in-memory bookkeeping and removes on-disk snapshots
// for sessionID — a session that finished Success no longer needs to be
// able to roll back.
func (v *Vault) Commit(sessionID string) error {
	v.mu.Lock()
	paths := v.order[sessionID]
	delete(v.got, sessionID)
	delete(v.order, sessionID)
	v.mu.Unlock()

	for _, path := range paths {
		if err := v.fsys.Remove(v.snapshotPath(sessionID, path)); err != nil {
			return fmt.Errorf("backup: remove snapshot for %q: %w", path, err)
		}
	}

	return v.fsys.RemoveAll(filepath.Join(v.rootDir, sessionID))
}

// ListSessions returns every session id with an on-disk backup directory,
// independent of this process's in-memory bookkeeping — the `rollback`
// CLI command runs in a fresh process from the one that created the
// backups, so it can only discover them by reading rootDir back.
func (v *Vault) ListSessions() ([]string, error) {
	entries, err := v.fsys.ReadDir(v.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("backup: list sessions: %w", err)
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}

	return out, nil
}

// ListBackups returns the original source paths backed up for sessionID,
// read from the on-disk snapshot filenames rather than in-memory state.
func (v *Vault) ListBackups(sessionID string) ([]string, error) {
	dir := filepath.Join(v.rootDir, sessionID)

	entries, err := v.fsys.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("backup: list backups for %q: %w", sessionID, err)
	}

	out := make([]string, 0, len(entries))

	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".bak")

		decoded, err := base64.RawURLEncoding.DecodeString(name)
		if err != nil {
			continue // not one of ours; skip rather than fail the whole listing
		}

		out = append(out, string(decoded))
	}

	return out, nil
}

// AbortRestoreAll restores every snapshot held for sessionID, in reverse
// order of acquisition, then commits (clears) the session's bookkeeping.
func (v *Vault) AbortRestoreAll(ctx context.Context, sessionID string) error {
	paths := v.SnapshotPaths(sessionID)

	for i := len(paths) - 1; i >= 0; i-- {
		if err := v.Restore(ctx, sessionID, paths[i]); err != nil {
			return err
		}
	}

	return v.Commit(sessionID)
}
