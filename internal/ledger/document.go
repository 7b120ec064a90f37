package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shde-project/shde/pkg/fs"
)

// Document is a crash-safe, single-writer-per-path JSON value on disk: read
// the whole file, mutate the in-memory struct, atomically rewrite the whole
// file. Generalized to an arbitrary JSON shape, so it can back the
// Learned-Fix Store, each Patch Tracker ledger, and the session Reporter
// with one tested code path.
type Document[T any] struct {
	path   string
	fsys   fs.FS
	writer *fs.AtomicWriter
}

// NewDocument returns a Document rooted at path, using fsys for all I/O so
// tests can substitute [fs.Chaos] to exercise crash-safety.
func NewDocument[T any](fsys fs.FS, path string) *Document[T] {
	return &Document[T]{path: path, fsys: fsys, writer: fs.NewAtomicWriter(fsys)}
}

// Load reads the document, returning zero and false if it doesn't exist yet.
func (d *Document[T]) Load() (T, bool, error) {
	var zero T

	ok, err := d.fsys.Exists(d.path)
	if err != nil {
		return zero, false, fmt.Errorf("ledger: stat %q: %w", d.path, err)
	}

	if !ok {
		return zero, false, nil
	}

	data, err := d.fsys.ReadFile(d.path)
	if err != nil {
		return zero, false, fmt.Errorf("ledger: read %q: %w", d.path, err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, false, fmt.Errorf("ledger: %q contains invalid JSON: %w", d.path, err)
	}

	return v, true, nil
}

// Save atomically overwrites the document with v.
func (d *Document[T]) Save(v T) error {
	return d.writer.WriteJSON(d.path, v)
}

// Update loads the document (or zero if absent), applies fn, and
// atomically saves the result, the whole sequence protected by an exclusive
// file lock so concurrent SHDE invocations never interleave a
// read-modify-write.
func (d *Document[T]) Update(ctx context.Context, fn func(current T, existed bool) (T, error)) (T, error) {
	var result T

	err := WithLock(ctx, d.path, func() error {
		current, existed, err := d.Load()
		if err != nil {
			return err
		}

		next, err := fn(current, existed)
		if err != nil {
			return err
		}

		if err := d.Save(next); err != nil {
			return err
		}

		result = next

		return nil
	})

	return result, err
}

// AppendJSONL appends a single line-delimited JSON record to path, used by
// components that want a strictly append-only audit trail (e.g. the
// oracle_feedback ledger) rather than a single rewritten document. The
// write is protected by the same per-path lock as Document so it can share
// a directory with a Document without racing.
func AppendJSONL(ctx context.Context, fsys fs.FS, path string, record any) error {
	return WithLock(ctx, path, func() error {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("ledger: marshal record for %q: %w", path, err)
		}

		line = append(line, '\n')

		f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("ledger: open %q for append: %w", path, err)
		}
		defer f.Close()

		if _, err := f.Write(line); err != nil {
			return fmt.Errorf("ledger: append to %q: %w", path, err)
		}

		return f.Sync()
	})
}

// ReadJSONL reads every record from a line-delimited JSON file, skipping a
// trailing partial line left by a process killed mid-append — the Patch
// Tracker and Reporter tolerate a torn final record rather than failing the
// whole read, since an append-only ledger must survive a crash mid-write.
func ReadJSONL[T any](fsys fs.FS, path string) ([]T, error) {
	ok, err := fsys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: stat %q: %w", path, err)
	}

	if !ok {
		return nil, nil
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: read %q: %w", path, err)
	}

	var records []T

	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			// A trailing truncated record is tolerated; anything else is a
			// genuine corruption and must surface.
			if isLastLine(data, line) {
				break
			}

			return nil, fmt.Errorf("ledger: %q contains invalid record: %w", path, err)
		}

		records = append(records, rec)
	}

	return records, nil
}

func isLastLine(data, line []byte) bool {
	idx := bytes.LastIndex(data, line)
	if idx < 0 {
		return false
	}

	rest := data[idx+len(line):]

	return len(bytes.TrimSpace(rest)) == 0
}
