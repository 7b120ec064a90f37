// Package oracle implements the Patch Oracle Adapter (C6): a uniform
// contract over one or more external model providers, with primary/
// fallback/re-prompt chaining, jittered backoff, and static validation of
// returned diffs before they're handed to the Controller.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shde-project/shde/internal/signature"
)

// Prompt is everything a Provider needs to propose a patch.
type Prompt struct {
	ErrorMessage   string
	CodeContext    string
	FilePath       string
	AttemptIndex   int
	RefinementHint string
}

// Provider mirrors the abstract Patch Oracle contract: Suggest returns a
// unified-diff patch, or an empty string if the provider has nothing to
// offer.
type Provider interface {
	Name() string
	Suggest(ctx context.Context, p Prompt) (string, error)
}

// refinementHints is the fixed set of hints injected into re-prompts as the
// attempt index escalates.
var refinementHints = []string{
	"minimal change",
	"do not touch unrelated lines",
	"focus on the offending function",
	"include a comment explaining the fix",
}

// FeedbackRecorder is the Patch Tracker's write view for the
// oracle_feedback ledger.
type FeedbackRecorder interface {
	RecordOracleFeedback(ctx context.Context, fb Feedback) error
}

// Feedback is one oracle invocation record, matching
// internal/store.OracleFeedback's shape so Adapter can hand one straight
// to the Tracker without an internal/store import (avoiding a dependency
// cycle between oracle and store).
type Feedback struct {
	Signature signature.Signature
	Provider  string
	Attempt   int
	Accepted  bool
	Reason    string
	Timestamp int64
}

// Adapter implements C6: an ordered provider chain tried primary-first,
// escalating through refinement hints up to PromptRetries, with every
// invocation recorded to the oracle_feedback ledger.
type Adapter struct {
	providers          []Provider
	promptRetries      int
	validationMinScore float64
	rng                *rand.Rand
	log                zerolog.Logger

	mu sync.Mutex
}

// NewAdapter constructs an Adapter. providers are tried in order for each
// attempt; seed makes backoff jitter reproducible in tests.
func NewAdapter(providers []Provider, promptRetries int, validationMinScore float64, seed uint64, log zerolog.Logger) *Adapter {
	return &Adapter{
		providers:          providers,
		promptRetries:      promptRetries,
		validationMinScore: validationMinScore,
		rng:                rand.New(rand.NewPCG(seed, seed^0x51755555)),
		log:                log,
	}
}

// Suggest runs the primary→fallback→re-prompt chain for one failure,
// returning a valid unified diff or "" if no provider produced one that
// passed static validation within PromptRetries attempts. Now is a
// caller-supplied unix timestamp so the adapter stays free of wall-clock
// calls (consistent with engine's AttemptOutcome.Timestamp convention).
func (a *Adapter) Suggest(ctx context.Context, sig signature.Signature, base Prompt, tracker FeedbackRecorder, now int64) (string, error) {
	if len(a.providers) == 0 {
		return "", nil
	}

	for attempt := 0; attempt < a.promptRetries; attempt++ {
		prompt := base
		prompt.AttemptIndex = attempt

		if attempt > 0 {
			prompt.RefinementHint = refinementHints[(attempt-1)%len(refinementHints)]
		}

		diff, providerName, err := a.probeProviders(ctx, prompt)

		accepted := false
		reason := "no provider returned a diff"

		switch {
		case err != nil:
			reason = err.Error()
		case diff == "":
			// reason already set
		case !staticValidate(diff, prompt.FilePath, a.validationMinScore):
			reason = "failed static validation"
		default:
			accepted = true
			reason = "accepted"
		}

		if tracker != nil {
			fbErr := tracker.RecordOracleFeedback(ctx, Feedback{
				Signature: sig,
				Provider:  providerName,
				Attempt:   attempt,
				Accepted:  accepted,
				Reason:    reason,
				Timestamp: now,
			})
			if fbErr != nil {
				a.log.Warn().Err(fbErr).Msg("failed to record oracle feedback")
			}
		}

		if accepted {
			return diff, nil
		}

		if attempt < a.promptRetries-1 {
			if err := a.backoff(ctx, attempt); err != nil {
				return "", err
			}
		}
	}

	return "", nil
}

// probeProviders tries every configured provider for one attempt,
// in order, returning the first usable diff. Every provider is launched
// concurrently and results are joined in provider-priority order before
// returning, so a slow low-priority provider never blocks a fast
// higher-priority one from being preferred. This is the only place in the
// system where concurrent work is allowed to race.
func (a *Adapter) probeProviders(ctx context.Context, prompt Prompt) (diff string, providerName string, err error) {
	type probeResult = struct {
		diff string
		err  error
	}

	results := make([]probeResult, len(a.providers))

	var wg sync.WaitGroup

	for i, p := range a.providers {
		wg.Add(1)

		go func(i int, p Provider) {
			defer wg.Done()

			d, e := p.Suggest(ctx, prompt)
			results[i] = probeResult{diff: d, err: e}
		}(i, p)
	}

	wg.Wait()

	var firstErr error

	for i, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}

			continue
		}

		if strings.TrimSpace(r.diff) != "" {
			return r.diff, a.providers[i].Name(), nil
		}
	}

	if firstErr != nil && allFailed(results) {
		return "", "", fmt.Errorf("oracle: all providers failed: %w", firstErr)
	}

	return "", "", nil
}

func allFailed(results []struct {
	diff string
	err  error
}) bool {
	for _, r := range results {
		if r.err == nil {
			return false
		}
	}

	return true
}

// backoff sleeps a jittered interval before the next re-prompt attempt,
// using the Adapter's seeded RNG so backoff timing stays deterministic
// under test (per the "randomness must be seedable" design rule).
func (a *Adapter) backoff(ctx context.Context, attempt int) error {
	a.mu.Lock()
	jitterMs := a.rng.IntN(50)
	a.mu.Unlock()

	delay := time.Duration(25*(attempt+1)+jitterMs) * time.Millisecond

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

var (
	reDiffHeader = regexp.MustCompile(`(?m)^--- `)
	reDiffPlus   = regexp.MustCompile(`(?m)^\+\+\+ `)
	reDiffHunk   = regexp.MustCompile(`(?m)^@@ `)
)

// staticValidate performs an actual structural check rather than a
// random-draw fallback: does the text parse as a unified diff (has
// ---/+++ headers and at least one @@ hunk) and does it only claim to
// touch filePath — before
// VALIDATION_MIN_SCORE gates acceptance. A diff that fails structurally is
// scored 0 regardless of threshold; one that parses is scored 1 if it
// names filePath (or filePath is unknown/empty) and 0 otherwise.
func staticValidate(diff, filePath string, validationMinScore float64) bool {
	if !reDiffHeader.MatchString(diff) || !reDiffPlus.MatchString(diff) || !reDiffHunk.MatchString(diff) {
		return false
	}

	score := 1.0

	if filePath != "" && !strings.Contains(diff, filePath) {
		score = 0.0
	}

	return score >= validationMinScore
}

// ErrNoProviders is returned by callers that require at least one
// configured provider but found none.
var ErrNoProviders = errors.New("oracle: no providers configured")
