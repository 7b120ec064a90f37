package store_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
	"github.com/shde-project/shde/internal/oracle"
	"github.com/shde-project/shde/internal/store"
	"github.com/shde-project/shde/pkg/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	sent []store.SessionReport
}

func (s *fakeSink) Send(ctx context.Context, report store.SessionReport) error {
	s.sent = append(s.sent, report)
	return nil
}

func TestReporter_MergeThenLoad(t *testing.T) {
	dir := t.TempDir()
	r := store.NewReporter(fs.NewReal(), dir, nil)

	report := store.SessionReport{SessionID: "sess-1", ExitCode: 1}
	require.NoError(t, r.Merge(context.Background(), report))

	loaded, existed, err := r.LoadReport()
	require.NoError(t, err)
	require.True(t, existed)
	assert.Equal(t, "sess-1", loaded.SessionID)
}

func TestReporter_MergeForwardsToSinkWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	r := store.NewReporter(fs.NewReal(), dir, sink)

	require.NoError(t, r.Merge(context.Background(), store.SessionReport{SessionID: "sess-1"}))

	require.Len(t, sink.sent, 1)
	assert.Equal(t, "sess-1", sink.sent[0].SessionID)
}

func TestReporter_NilSinkNeverFailsMerge(t *testing.T) {
	dir := t.TempDir()
	r := store.NewReporter(fs.NewReal(), dir, nil)

	require.NoError(t, r.Merge(context.Background(), store.SessionReport{SessionID: "sess-1"}))
}

func TestBuildSessionReport_AssemblesFromTracker(t *testing.T) {
	dir := t.TempDir()
	tr, err := store.NewTracker(fs.NewReal(), dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, tr.RecordOracleFeedback(context.Background(), oracle.Feedback{Signature: "sig-1", Provider: "primary"}))
	require.NoError(t, tr.RollUpPerformance(context.Background(), "2026-07-30", 1, 1.0, ""))

	sigs := []store.SignatureReport{{Signature: "sig-1", Disposition: store.DispositionFixed}}
	report, err := store.BuildSessionReport("sess-1", sigs, tr, 0)
	require.NoError(t, err)

	assert.Len(t, report.Oracle, 1)
	assert.Contains(t, report.Performance, "2026-07-30")

	if diff := cmp.Diff(sigs, report.Signatures, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Signatures mismatch (-want +got):\n%s", diff)
	}
}
