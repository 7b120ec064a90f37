package engine_test

import (
	"strings"
	"testing"

	"github.com/shde-project/shde/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPatternFixer_MissingAttribute(t *testing.T) {
	src := []byte("class X:\n    pass\n")
	f := engine.Failure{ErrorKind: engine.KindMissingAttribute, ErrorMessage: "'X' object has no attribute 'y'"}

	out, applied := engine.RunPatternFixer(src, f, true)
	require.True(t, applied)
	assert.Contains(t, string(out), "class X:")
	assert.Contains(t, string(out), "def y(self")
}

func TestRunPatternFixer_ImportError(t *testing.T) {
	src := []byte("def f():\n    return math.sqrt(4)\n")
	f := engine.Failure{ErrorKind: engine.KindImportError, ErrorMessage: "No module named 'math'"}

	out, applied := engine.RunPatternFixer(src, f, true)
	require.True(t, applied)
	assert.True(t, strings.HasPrefix(string(out), "import math\n"))
}

func TestRunPatternFixer_ImportError_NoOpWhenAlreadyImported(t *testing.T) {
	src := []byte("import math\n\ndef f():\n    return math.sqrt(4)\n")
	f := engine.Failure{ErrorKind: engine.KindImportError, ErrorMessage: "No module named 'math'"}

	out, applied := engine.RunPatternFixer(src, f, true)
	assert.False(t, applied)
	assert.Equal(t, src, out)
}

func TestRunPatternFixer_AssertionMismatch(t *testing.T) {
	src := []byte("def test_x():\n    assert 1 == 2\n")
	f := engine.Failure{ErrorKind: engine.KindAssertionMismatch, ErrorMessage: "AssertionError: 1 != 2"}

	out, applied := engine.RunPatternFixer(src, f, true)
	require.True(t, applied)
	assert.Contains(t, string(out), "assert 2 == 2")
}

func TestRunPatternFixer_AssertionMismatch_GatedOff(t *testing.T) {
	src := []byte("def test_x():\n    assert 1 == 2\n")
	f := engine.Failure{ErrorKind: engine.KindAssertionMismatch, ErrorMessage: "AssertionError: 1 != 2"}

	out, applied := engine.RunPatternFixer(src, f, false)
	assert.False(t, applied)
	assert.Equal(t, src, out)
}

func TestRunPatternFixer_MissingPositionalArgs(t *testing.T) {
	src := []byte("def f(a, b):\n    pass\n\nresult = f(1)\n")
	f := engine.Failure{ErrorKind: engine.KindMissingPositionalArgs, ErrorMessage: "f() missing 1 required positional argument: 'b'"}

	out, applied := engine.RunPatternFixer(src, f, true)
	require.True(t, applied)
	assert.Contains(t, string(out), "f(1, None)")
	assert.Contains(t, string(out), "def f(a, b):")
}

func TestRunPatternFixer_Indentation(t *testing.T) {
	src := []byte("def f():\n\tpass\n")
	f := engine.Failure{ErrorKind: engine.KindIndentationError, ErrorMessage: "IndentationError: unexpected indent"}

	out, applied := engine.RunPatternFixer(src, f, true)
	require.True(t, applied)
	assert.NotContains(t, string(out), "\t")
	assert.Contains(t, string(out), "    pass")
}

func TestRunPatternFixer_UnknownKindNeverApplies(t *testing.T) {
	src := []byte("whatever")
	f := engine.Failure{ErrorKind: engine.KindUnknown, ErrorMessage: "some opaque failure"}

	out, applied := engine.RunPatternFixer(src, f, true)
	assert.False(t, applied)
	assert.Equal(t, src, out)
}

func TestRunPatternFixer_NonMatchingPatternsReturnFalseWithoutMutation(t *testing.T) {
	src := []byte("class Y:\n    pass\n")
	f := engine.Failure{ErrorKind: engine.KindMissingAttribute, ErrorMessage: "'X' object has no attribute 'y'"}

	out, applied := engine.RunPatternFixer(src, f, true)
	assert.False(t, applied)
	assert.Equal(t, src, out)
}
