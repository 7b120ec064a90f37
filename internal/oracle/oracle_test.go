package oracle_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shde-project/shde/internal/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name string
	diff string
	err  error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Suggest(ctx context.Context, prompt oracle.Prompt) (string, error) {
	return p.diff, p.err
}

type fakeFeedbackRecorder struct {
	mu  sync.Mutex
	fbs []oracle.Feedback
}

func (r *fakeFeedbackRecorder) RecordOracleFeedback(ctx context.Context, fb oracle.Feedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fbs = append(r.fbs, fb)

	return nil
}

const validDiff = "--- a/f.py\n+++ b/f.py\n@@ -1,1 +1,1 @@\n-old\n+new\n"

func TestAdapter_Suggest_AcceptsValidDiffFromPrimary(t *testing.T) {
	primary := &fakeProvider{name: "primary", diff: validDiff}
	adapter := oracle.NewAdapter([]oracle.Provider{primary}, 3, 0.75, 1, zerolog.Nop())

	fb := &fakeFeedbackRecorder{}
	diff, err := adapter.Suggest(context.Background(), "sig-1", oracle.Prompt{FilePath: "f.py"}, fb, 0)
	require.NoError(t, err)
	assert.Equal(t, validDiff, diff)

	require.Len(t, fb.fbs, 1)
	assert.True(t, fb.fbs[0].Accepted)
}

func TestAdapter_Suggest_FallsBackToSecondaryProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", diff: ""}
	secondary := &fakeProvider{name: "secondary", diff: validDiff}
	adapter := oracle.NewAdapter([]oracle.Provider{primary, secondary}, 3, 0.75, 1, zerolog.Nop())

	diff, err := adapter.Suggest(context.Background(), "sig-1", oracle.Prompt{FilePath: "f.py"}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, validDiff, diff)
}

func TestAdapter_Suggest_InvalidDiffIsRejectedByStaticValidation(t *testing.T) {
	primary := &fakeProvider{name: "primary", diff: "not a diff at all"}
	adapter := oracle.NewAdapter([]oracle.Provider{primary}, 1, 0.75, 1, zerolog.Nop())

	fb := &fakeFeedbackRecorder{}
	diff, err := adapter.Suggest(context.Background(), "sig-1", oracle.Prompt{FilePath: "f.py"}, fb, 0)
	require.NoError(t, err)
	assert.Empty(t, diff)

	require.Len(t, fb.fbs, 1)
	assert.False(t, fb.fbs[0].Accepted)
}

func TestAdapter_Suggest_AllProvidersUnavailable(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("boom")}
	adapter := oracle.NewAdapter([]oracle.Provider{primary}, 1, 0.75, 1, zerolog.Nop())

	diff, err := adapter.Suggest(context.Background(), "sig-1", oracle.Prompt{FilePath: "f.py"}, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestAdapter_Suggest_NoProvidersReturnsEmpty(t *testing.T) {
	adapter := oracle.NewAdapter(nil, 3, 0.75, 1, zerolog.Nop())

	diff, err := adapter.Suggest(context.Background(), "sig-1", oracle.Prompt{}, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestAdapter_Suggest_EscalatesWithRefinementHintsAcrossRetries(t *testing.T) {
	primary := &fakeProvider{name: "primary", diff: ""}
	adapter := oracle.NewAdapter([]oracle.Provider{primary}, 3, 0.75, 1, zerolog.Nop())

	fb := &fakeFeedbackRecorder{}
	_, err := adapter.Suggest(context.Background(), "sig-1", oracle.Prompt{FilePath: "f.py"}, fb, 0)
	require.NoError(t, err)

	assert.Len(t, fb.fbs, 3)
	for i, f := range fb.fbs {
		assert.Equal(t, i, f.Attempt)
	}
}
