// Package store persists the Learned-Fix Store, the five Patch Tracker
// ledgers, and the session Reporter's merged report — every component that
// lives under the SHDE data directory. All of it is built on
// internal/ledger's crash-safe JSON document and append-only-record
// primitives.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shde-project/shde/internal/engine"
	"github.com/shde-project/shde/internal/ledger"
	"github.com/shde-project/shde/internal/signature"
	"github.com/shde-project/shde/pkg/fs"
)

var (
	_ engine.LearnedLookuper = (*LearnedStore)(nil)
	_ engine.LearnedUpserter = (*LearnedStore)(nil)
)

// LearnedFix is a patch that has previously produced an APPLIED_AND_PASSED
// outcome, reinforced on repeat success.
type LearnedFix struct {
	Signature    signature.Signature `json:"signature"`
	Patch        engine.Patch        `json:"patch"`
	SuccessCount int                 `json:"success_count"`
	LastUsed     int64               `json:"last_used"`
}

type learnedDoc map[signature.Signature]LearnedFix

// LearnedStore implements C2: lookup/upsert/reinforce over a single JSON
// document at learning_db.json, rewritten atomically after each mutation.
type LearnedStore struct {
	doc *ledger.Document[learnedDoc]
	log zerolog.Logger
}

// NewLearnedStore opens the learned-fix store rooted at dataDir. On
// malformed persistence, the store resets to empty and logs rather than
// failing the session — so construction quarantines a corrupt file
// instead of returning an error.
func NewLearnedStore(fsys fs.FS, dataDir string, log zerolog.Logger) (*LearnedStore, error) {
	path := filepath.Join(dataDir, "learning_db.json")
	doc := ledger.NewDocument[learnedDoc](fsys, path)

	if _, _, err := doc.Load(); err != nil {
		if qerr := quarantine(fsys, path, log); qerr != nil {
			return nil, fmt.Errorf("store: quarantine corrupt learned store: %w", qerr)
		}

		doc = ledger.NewDocument[learnedDoc](fsys, path)
	}

	return &LearnedStore{doc: doc, log: log}, nil
}

// Lookup returns the learned patch for sig, if any. Idempotent: two
// successive calls with no intervening Upsert/Reinforce return the same
// value.
func (s *LearnedStore) Lookup(sig signature.Signature) (engine.Patch, bool, error) {
	doc, _, err := s.doc.Load()
	if err != nil {
		return engine.Patch{}, false, fmt.Errorf("store: lookup %q: %w", sig, err)
	}

	fix, ok := doc[sig]
	if !ok {
		return engine.Patch{}, false, nil
	}

	return fix.Patch, true, nil
}

// Upsert inserts or replaces the learned fix for sig. Only called after an
// APPLIED_AND_PASSED outcome, per invariant 2 of the data model.
func (s *LearnedStore) Upsert(ctx context.Context, sig signature.Signature, patch engine.Patch, now int64) error {
	_, err := s.doc.Update(ctx, func(cur learnedDoc, existed bool) (learnedDoc, error) {
		if cur == nil {
			cur = make(learnedDoc)
		}

		existing, had := cur[sig]
		successCount := 1
		if had {
			successCount = existing.SuccessCount + 1
		}

		cur[sig] = LearnedFix{Signature: sig, Patch: patch, SuccessCount: successCount, LastUsed: now}

		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("store: upsert %q: %w", sig, err)
	}

	return nil
}

// Reinforce bumps success_count and last_used for an existing learned fix
// without replacing its patch — used when the Controller re-applies an
// already-learned patch successfully.
func (s *LearnedStore) Reinforce(ctx context.Context, sig signature.Signature, now int64) error {
	_, err := s.doc.Update(ctx, func(cur learnedDoc, existed bool) (learnedDoc, error) {
		if cur == nil {
			cur = make(learnedDoc)
		}

		fix, ok := cur[sig]
		if !ok {
			return cur, nil
		}

		fix.SuccessCount++
		fix.LastUsed = now
		cur[sig] = fix

		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("store: reinforce %q: %w", sig, err)
	}

	return nil
}

// quarantine renames a corrupt persistence file aside with a timestamp
// suffix and lets the caller recreate it empty — the way every persistence
// file in SHDE recovers from corruption.
func quarantine(fsys fs.FS, path string, log zerolog.Logger) error {
	exists, err := fsys.Exists(path)
	if err != nil {
		return err
	}

	if !exists {
		return nil
	}

	dest := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixNano())

	log.Warn().Str("path", path).Str("quarantined_to", dest).Msg("quarantining corrupt persistence file")

	return fsys.Rename(path, dest)
}
