package engine_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shde-project/shde/internal/engine"
	"github.com/shde-project/shde/internal/executor"
	"github.com/shde-project/shde/internal/oracle"
	"github.com/shde-project/shde/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSourceFS is an in-memory SourceFS. It keeps the current contents of
// every "file" plus a write log, so tests can assert byte-exact restores
// without touching a real filesystem.
type fakeSourceFS struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeSourceFS(files map[string]string) *fakeSourceFS {
	m := make(map[string][]byte, len(files))
	for k, v := range files {
		m[k] = []byte(v)
	}

	return &fakeSourceFS{files: m}
}

func (f *fakeSourceFS) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out, nil
}

func (f *fakeSourceFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, len(data))
	copy(out, data)
	f.files[path] = out

	return nil
}

func (f *fakeSourceFS) snapshot(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return string(f.files[path])
}

// fakeVault is an in-memory Backup Vault: one snapshot per (session, path),
// taken lazily on first EnsureBackup, restorable byte-exact onto the
// fakeSourceFS it was built against.
type fakeVault struct {
	fs *fakeSourceFS

	mu        sync.Mutex
	snapshots map[string]map[string][]byte // sessionID -> path -> original bytes
	order     map[string][]string
	committed []string
	aborted   []string
}

func newFakeVault(fs *fakeSourceFS) *fakeVault {
	return &fakeVault{
		fs:        fs,
		snapshots: make(map[string]map[string][]byte),
		order:     make(map[string][]string),
	}
}

func (v *fakeVault) EnsureBackup(ctx context.Context, sessionID, path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.snapshots[sessionID] == nil {
		v.snapshots[sessionID] = make(map[string][]byte)
	}

	if _, ok := v.snapshots[sessionID][path]; ok {
		return nil
	}

	original, err := v.fs.ReadFile(path)
	if err != nil {
		return err
	}

	v.snapshots[sessionID][path] = original
	v.order[sessionID] = append(v.order[sessionID], path)

	return nil
}

func (v *fakeVault) Restore(ctx context.Context, sessionID, path string) error {
	v.mu.Lock()
	original, ok := v.snapshots[sessionID][path]
	v.mu.Unlock()

	if !ok {
		return nil
	}

	return v.fs.WriteFile(path, original, 0o644)
}

func (v *fakeVault) Commit(sessionID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.committed = append(v.committed, sessionID)
	delete(v.snapshots, sessionID)
	delete(v.order, sessionID)

	return nil
}

func (v *fakeVault) AbortRestoreAll(ctx context.Context, sessionID string) error {
	v.mu.Lock()
	paths := append([]string{}, v.order[sessionID]...)
	v.mu.Unlock()

	for i := len(paths) - 1; i >= 0; i-- {
		if err := v.Restore(ctx, sessionID, paths[i]); err != nil {
			return err
		}
	}

	v.aborted = append(v.aborted, sessionID)

	return v.Commit(sessionID)
}

// fakeLearned is an in-memory Learned-Fix Store.
type fakeLearned struct {
	mu      sync.Mutex
	entries map[signature.Signature]engine.Patch
}

func newFakeLearned() *fakeLearned {
	return &fakeLearned{entries: make(map[signature.Signature]engine.Patch)}
}

func (l *fakeLearned) Lookup(sig signature.Signature) (engine.Patch, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.entries[sig]

	return p, ok, nil
}

func (l *fakeLearned) Upsert(ctx context.Context, sig signature.Signature, patch engine.Patch, now int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[sig] = patch

	return nil
}

// fakeHistory is an in-memory HistoryReader/SuccessRecorder/FailedPatchRecorder.
type fakeHistory struct {
	mu       sync.Mutex
	outcomes map[signature.Signature][]engine.AttemptOutcome
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{outcomes: make(map[signature.Signature][]engine.AttemptOutcome)}
}

func (h *fakeHistory) OutcomesFor(sig signature.Signature) ([]engine.AttemptOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]engine.AttemptOutcome{}, h.outcomes[sig]...), nil
}

func (h *fakeHistory) RecordSuccessfulPatch(ctx context.Context, outcome engine.AttemptOutcome) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.outcomes[outcome.Signature] = append(h.outcomes[outcome.Signature], outcome)

	return nil
}

func (h *fakeHistory) RecordFailedPatch(ctx context.Context, outcome engine.AttemptOutcome) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.outcomes[outcome.Signature] = append(h.outcomes[outcome.Signature], outcome)

	return nil
}

// scriptedExecutor returns one Result per call, in order, repeating the last
// entry once the script is exhausted.
type scriptedExecutor struct {
	mu      sync.Mutex
	results []executor.Result
	calls   int
}

func (e *scriptedExecutor) Run(ctx context.Context, targets []string) (executor.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.calls
	if idx >= len(e.results) {
		idx = len(e.results) - 1
	}

	e.calls++

	return e.results[idx], nil
}

// fakeOracle always returns a fixed diff (or none).
type fakeOracle struct {
	diff string
	err  error
}

func (o *fakeOracle) Suggest(ctx context.Context, sig signature.Signature, prompt oracle.Prompt, tracker oracle.FeedbackRecorder, now int64) (string, error) {
	return o.diff, o.err
}

func fixedClock(ts int64) engine.Clock {
	return func() int64 { return ts }
}

func newSession(t *testing.T, fs *fakeSourceFS, exec executor.Executor, learned *fakeLearned, hist *fakeHistory, orc engine.OracleSuggester, maxAttempts int) (*engine.Session, *fakeVault) {
	t.Helper()

	vault := newFakeVault(fs)
	confidence := engine.NewConfidenceManager(hist, 0.5, 0.2, maxAttempts, 1)
	rollback := engine.NewRollbackManager(vault, hist, 3)

	sess := &engine.Session{
		Executor:              exec,
		Learned:               learned,
		Vault:                 vault,
		Confidence:            confidence,
		Rollback:              rollback,
		Oracle:                orc,
		Success:               hist,
		Failed:                hist,
		Source:                fs,
		Clock:                 fixedClock(1000),
		Log:                   zerolog.Nop(),
		AllowAssertionRewrite: true,
		SessionMaxRetries:     4,
	}

	return sess, vault
}

const missingAttrFailureLine = "tests/test_x.py::test_y - AttributeError: 'Widget' object has no attribute 'resize'"

func TestRunSession_MissingAttribute_PatternFixerAppliesAndPasses(t *testing.T) {
	fs := newFakeSourceFS(map[string]string{
		"tests/test_x.py": "class Widget:\n    def __init__(self):\n        pass\n",
	})

	exec := &scriptedExecutor{results: []executor.Result{
		{ExitCode: 1, Stdout: missingAttrFailureLine},
		{ExitCode: 0},
		{ExitCode: 0},
	}}

	sess, vault := newSession(t, fs, exec, newFakeLearned(), newFakeHistory(), nil, 3)

	outcome, err := sess.RunSession(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.TerminalSuccess, outcome.Terminal)
	require.Len(t, outcome.Signatures, 1)
	assert.Equal(t, engine.StatusAppliedAndPassed, outcome.Signatures[0].Status)

	assert.Contains(t, fs.snapshot("tests/test_x.py"), "def resize(self, *args, **kwargs):")
	assert.NotEmpty(t, vault.committed)
}

func TestRunSession_ImportError_PatternFixerAppliesAndPasses(t *testing.T) {
	fs := newFakeSourceFS(map[string]string{
		"pkg/mod.py": "x = 1\n",
	})

	exec := &scriptedExecutor{results: []executor.Result{
		{ExitCode: 1, Stdout: "pkg/mod.py::test_import - ImportError: No module named 'requests'"},
		{ExitCode: 0},
		{ExitCode: 0},
	}}

	sess, _ := newSession(t, fs, exec, newFakeLearned(), newFakeHistory(), nil, 3)

	outcome, err := sess.RunSession(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.TerminalSuccess, outcome.Terminal)
	assert.Equal(t, "import requests\nx = 1\n", fs.snapshot("pkg/mod.py"))
}

func TestRunSession_AssertionMismatch_RewrittenWhenAllowed(t *testing.T) {
	fs := newFakeSourceFS(map[string]string{
		"tests/test_a.py": "def test_a():\n    assert 1 == 2\n",
	})

	exec := &scriptedExecutor{results: []executor.Result{
		{ExitCode: 1, Stdout: "tests/test_a.py::test_a - AssertionError: 1 != 2"},
		{ExitCode: 0},
		{ExitCode: 0},
	}}

	sess, _ := newSession(t, fs, exec, newFakeLearned(), newFakeHistory(), nil, 3)

	outcome, err := sess.RunSession(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.TerminalSuccess, outcome.Terminal)
	assert.Contains(t, fs.snapshot("tests/test_a.py"), "assert 2 == 2")
}

func TestRunSession_OracleSuccess_WhenNoPatternMatches(t *testing.T) {
	fs := newFakeSourceFS(map[string]string{
		"lib/weird.py": "value = compute()\n",
	})

	exec := &scriptedExecutor{results: []executor.Result{
		{ExitCode: 1, Stdout: "lib/weird.py::test_weird - RuntimeError: something inexplicable"},
		{ExitCode: 0},
		{ExitCode: 0},
	}}

	diff := "--- a/lib/weird.py\n+++ b/lib/weird.py\n@@ -1,1 +1,1 @@\n-value = compute()\n+value = compute_fixed()\n"
	orc := &fakeOracle{diff: diff}

	sess, _ := newSession(t, fs, exec, newFakeLearned(), newFakeHistory(), orc, 3)

	outcome, err := sess.RunSession(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.TerminalSuccess, outcome.Terminal)
	require.Len(t, outcome.Signatures, 1)
	assert.Equal(t, engine.StatusAppliedAndPassed, outcome.Signatures[0].Status)
	assert.Equal(t, "value = compute_fixed()\n", fs.snapshot("lib/weird.py"))
}

func TestRunSession_RetryThenAbandon_RestoresOriginalAndFlagsManualReview(t *testing.T) {
	fs := newFakeSourceFS(map[string]string{
		"lib/weird.py": "value = compute()\n",
	})

	original := fs.snapshot("lib/weird.py")

	failLine := "lib/weird.py::test_weird - RuntimeError: something inexplicable"

	// Every triage/revalidation run still reports the same failure: no
	// candidate ever actually clears it, so escalation exhausts its
	// attempt budget and abandons to MANUAL_REVIEW.
	results := make([]executor.Result, 0, 16)
	for i := 0; i < 16; i++ {
		results = append(results, executor.Result{ExitCode: 1, Stdout: failLine})
	}

	exec := &scriptedExecutor{results: results}

	diff := "--- a/lib/weird.py\n+++ b/lib/weird.py\n@@ -1,1 +1,1 @@\n-value = compute()\n+value = still_broken()\n"
	orc := &fakeOracle{diff: diff}

	sess, vault := newSession(t, fs, exec, newFakeLearned(), newFakeHistory(), orc, 2)

	outcome, err := sess.RunSession(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.TerminalPartial, outcome.Terminal)
	require.Len(t, outcome.Signatures, 1)
	assert.Equal(t, engine.StatusManualReview, outcome.Signatures[0].Status)

	assert.Equal(t, original, fs.snapshot("lib/weird.py"))
	assert.Empty(t, vault.committed)
}

func TestRunSession_NoFailures_IsImmediateSuccessWithNoMutation(t *testing.T) {
	fs := newFakeSourceFS(nil)
	exec := &scriptedExecutor{results: []executor.Result{{ExitCode: 0}}}

	sess, vault := newSession(t, fs, exec, newFakeLearned(), newFakeHistory(), nil, 3)

	outcome, err := sess.RunSession(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.TerminalSuccess, outcome.Terminal)
	assert.Empty(t, outcome.Signatures)
	assert.Equal(t, []string{"sess-1"}, vault.committed)
}

func TestRunSession_MaxAttemptsZero_ImmediateManualReviewNoMutation(t *testing.T) {
	fs := newFakeSourceFS(map[string]string{
		"tests/test_x.py": "class Widget:\n    def __init__(self):\n        pass\n",
	})

	original := fs.snapshot("tests/test_x.py")

	exec := &scriptedExecutor{results: []executor.Result{
		{ExitCode: 1, Stdout: missingAttrFailureLine},
	}}

	sess, _ := newSession(t, fs, exec, newFakeLearned(), newFakeHistory(), nil, 0)

	outcome, err := sess.RunSession(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	require.Len(t, outcome.Signatures, 1)
	assert.Equal(t, engine.StatusManualReview, outcome.Signatures[0].Status)
	assert.Equal(t, original, fs.snapshot("tests/test_x.py"))
}

func TestRunSession_SuccessfulPatch_IsLearnedForNextTime(t *testing.T) {
	fs := newFakeSourceFS(map[string]string{
		"pkg/mod.py": "x = 1\n",
	})

	exec := &scriptedExecutor{results: []executor.Result{
		{ExitCode: 1, Stdout: "pkg/mod.py::test_import - ImportError: No module named 'requests'"},
		{ExitCode: 0},
		{ExitCode: 0},
	}}

	learned := newFakeLearned()

	sess, _ := newSession(t, fs, exec, learned, newFakeHistory(), nil, 3)

	_, err := sess.RunSession(context.Background(), "sess-1", nil)
	require.NoError(t, err)

	require.Len(t, learned.entries, 1)

	for _, p := range learned.entries {
		assert.Equal(t, engine.ProvenancePattern, p.Provenance)
	}
}

func TestConfidenceScores_AlwaysWithinUnitInterval(t *testing.T) {
	hist := newFakeHistory()
	cm := engine.NewConfidenceManager(hist, 0.5, 0.2, 5, 7)

	sig := signature.Signature("sig-bounds")

	for i := 0; i < 50; i++ {
		rec, err := cm.Assign(sig, engine.Patch{Signature: sig}, int64(i))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec.Score, 0.10)
		assert.LessOrEqual(t, rec.Score, 1.0)
	}
}
