package engine

import (
	"math/rand/v2"
	"sync"

	"github.com/shde-project/shde/internal/signature"
)

const (
	jitterRange = 0.10 // symmetric range: jitter is drawn from [-jitterRange, +jitterRange]
	scoreMin    = 0.10
	scoreMax    = 1.0
	defaultBase = 0.5
)

// HistoryReader is the read view the Confidence Manager needs from the
// Patch Tracker: every recorded AttemptOutcome for a signature, in any
// order.
type HistoryReader interface {
	OutcomesFor(sig signature.Signature) ([]AttemptOutcome, error)
}

// ConfidenceManager implements C7: it scores a (signature, patch) pair from
// historical success rate plus seeded jitter, and gates application/retry
// decisions against configured thresholds.
type ConfidenceManager struct {
	history HistoryReader

	applyThreshold float64
	retryThreshold float64
	maxAttempts    int

	mu       sync.Mutex
	rng      *rand.Rand
	attempts map[signature.Signature]int
	records  map[signature.Signature][]ConfidenceRecord
}

// NewConfidenceManager constructs a Confidence Manager. seed makes the
// jitter draw reproducible across test runs and across repeated sessions
// when an operator wants deterministic replay (internal/config's
// ConfidenceSeed); pass time-derived randomness at the call site if
// non-determinism is desired.
func NewConfidenceManager(history HistoryReader, applyThreshold, retryThreshold float64, maxAttempts int, seed uint64) *ConfidenceManager {
	return &ConfidenceManager{
		history:        history,
		applyThreshold: applyThreshold,
		retryThreshold: retryThreshold,
		maxAttempts:    maxAttempts,
		rng:            rand.New(rand.NewPCG(seed, seed^0xa5a5a5a5)),
		attempts:       make(map[signature.Signature]int),
		records:        make(map[signature.Signature][]ConfidenceRecord),
	}
}

// Assign computes and records a ConfidenceRecord for (signature, patch):
// base historical success rate, seeded jitter, then a reason string.
func (m *ConfidenceManager) Assign(sig signature.Signature, patch Patch, timestamp int64) (ConfidenceRecord, error) {
	base, err := m.historicalSuccessRate(sig)
	if err != nil {
		return ConfidenceRecord{}, err
	}

	m.mu.Lock()
	jitter := (m.rng.Float64()*2 - 1) * jitterRange
	m.mu.Unlock()

	score := clamp(base+jitter, scoreMin, scoreMax)
	reason := reasonFor(base)

	rec := ConfidenceRecord{Signature: sig, Patch: patch, Score: score, Reason: reason, Timestamp: timestamp}

	m.mu.Lock()
	m.records[sig] = append(m.records[sig], rec)
	m.mu.Unlock()

	return rec, nil
}

// BestHighConfidence returns the highest-scoring recorded patch for sig
// whose score meets or exceeds the apply threshold — a score exactly at
// the threshold still qualifies, so the boundary is inclusive.
func (m *ConfidenceManager) BestHighConfidence(sig signature.Signature) (Patch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *ConfidenceRecord

	for i := range m.records[sig] {
		rec := &m.records[sig][i]
		if rec.Score < m.applyThreshold {
			continue
		}

		if best == nil || rec.Score > best.Score {
			best = rec
		}
	}

	if best == nil {
		return Patch{}, false
	}

	return best.Patch, true
}

// ShouldRetry reports whether sig's latest score exceeds the retry
// threshold and its attempt counter is below MaxAttempts.
func (m *ConfidenceManager) ShouldRetry(sig signature.Signature) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attempts[sig] >= m.maxAttempts {
		return false
	}

	recs := m.records[sig]
	if len(recs) == 0 {
		return true
	}

	return recs[len(recs)-1].Score > m.retryThreshold
}

// RecordAttempt increments sig's attempt counter. The Debug Loop Controller
// calls this once per Escalating step, regardless of outcome.
func (m *ConfidenceManager) RecordAttempt(sig signature.Signature) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts[sig]++
}

// AttemptCount returns how many Escalating attempts sig has used so far.
func (m *ConfidenceManager) AttemptCount(sig signature.Signature) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.attempts[sig]
}

func (m *ConfidenceManager) historicalSuccessRate(sig signature.Signature) (float64, error) {
	outcomes, err := m.history.OutcomesFor(sig)
	if err != nil {
		return 0, err
	}

	if len(outcomes) == 0 {
		return defaultBase, nil
	}

	passed := 0

	for _, o := range outcomes {
		if o.Status == StatusAppliedAndPassed {
			passed++
		}
	}

	return float64(passed) / float64(len(outcomes)), nil
}

func reasonFor(base float64) string {
	switch {
	case base >= 0.75:
		return "matches a prior success"
	case base >= 0.5:
		return "mixed prior outcomes, moderate confidence"
	case base > 0:
		return "mostly unsuccessful history, low confidence"
	default:
		return "novel pattern, uncertain"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
