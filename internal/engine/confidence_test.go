package engine_test

import (
	"testing"

	"github.com/shde-project/shde/internal/engine"
	"github.com/shde-project/shde/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHistory is shared with controller_test.go, which declares it.

func TestConfidenceManager_Assign_ScoreAlwaysInRange(t *testing.T) {
	hist := &fakeHistory{}
	cm := engine.NewConfidenceManager(hist, 0.75, 0.20, 3, 42)

	sig := signature.Signature("sig-1")

	for i := 0; i < 100; i++ {
		rec, err := cm.Assign(sig, engine.Patch{}, int64(i))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec.Score, 0.10)
		assert.LessOrEqual(t, rec.Score, 1.0)
	}
}

func TestConfidenceManager_NoHistoryUsesDefaultBase(t *testing.T) {
	hist := &fakeHistory{}
	cm := engine.NewConfidenceManager(hist, 0.75, 0.20, 3, 1)

	sig := signature.Signature("novel")
	rec, err := cm.Assign(sig, engine.Patch{}, 0)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, rec.Score, 0.10)
}

func TestConfidenceManager_BestHighConfidence_InclusiveAtThreshold(t *testing.T) {
	hist := &fakeHistory{outcomes: map[signature.Signature][]engine.AttemptOutcome{
		"sig-x": {{Status: engine.StatusAppliedAndFailed}},
	}}
	cm := engine.NewConfidenceManager(hist, 0.10, 0.20, 3, 7)

	// A history with no success gives base 0; base plus jitter never exceeds
	// 0.10, so the score clamps to exactly 0.10 — the apply threshold here.
	sig := signature.Signature("sig-x")
	patch := engine.Patch{Description: "fix"}

	rec, err := cm.Assign(sig, patch, 0)
	require.NoError(t, err)
	require.Equal(t, 0.10, rec.Score)

	best, ok := cm.BestHighConfidence(sig)
	require.True(t, ok, "a score exactly at the apply threshold must be nominated")
	assert.Equal(t, patch, best)
}

func TestConfidenceManager_ShouldRetry_FalseAtMaxAttempts(t *testing.T) {
	hist := &fakeHistory{}
	cm := engine.NewConfidenceManager(hist, 0.75, 0.20, 2, 3)

	sig := signature.Signature("sig-y")
	cm.RecordAttempt(sig)
	cm.RecordAttempt(sig)

	assert.False(t, cm.ShouldRetry(sig))
}

func TestConfidenceManager_ShouldRetry_TrueWithBudgetAndNoHistory(t *testing.T) {
	hist := &fakeHistory{}
	cm := engine.NewConfidenceManager(hist, 0.75, 0.20, 3, 3)

	sig := signature.Signature("sig-z")
	assert.True(t, cm.ShouldRetry(sig))
}

func TestConfidenceManager_MaxAttemptsZero_ImmediatelyExhausted(t *testing.T) {
	hist := &fakeHistory{}
	cm := engine.NewConfidenceManager(hist, 0.75, 0.20, 0, 3)

	sig := signature.Signature("sig-zero")
	assert.False(t, cm.ShouldRetry(sig))
}

func TestConfidenceManager_AssignIsDeterministicForSameSeed(t *testing.T) {
	hist := &fakeHistory{}
	cm1 := engine.NewConfidenceManager(hist, 0.75, 0.20, 3, 99)
	cm2 := engine.NewConfidenceManager(hist, 0.75, 0.20, 3, 99)

	sig := signature.Signature("sig-det")

	rec1, err := cm1.Assign(sig, engine.Patch{}, 0)
	require.NoError(t, err)
	rec2, err := cm2.Assign(sig, engine.Patch{}, 0)
	require.NoError(t, err)

	assert.Equal(t, rec1.Score, rec2.Score)
}
