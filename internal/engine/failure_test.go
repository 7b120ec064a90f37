package engine_test

import (
	"testing"

	"github.com/shde-project/shde/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFailures_EmptyInputYieldsNoFailures(t *testing.T) {
	assert.Nil(t, engine.ParseFailures(""))
	assert.Nil(t, engine.ParseFailures("   \n\t \n"))
}

func TestParseFailures_AnchoredFormat(t *testing.T) {
	out := engine.ParseFailures("tests/test_x.py::test_y - AssertionError: 1 != 2\n")
	require.Len(t, out, 1)
	assert.Equal(t, "tests/test_x.py", out[0].FilePath)
	assert.Equal(t, "test_y", out[0].TestName)
	assert.Equal(t, "AssertionError: 1 != 2", out[0].ErrorMessage)
	assert.Equal(t, engine.KindAssertionMismatch, out[0].ErrorKind)
}

func TestParseFailures_FailedPrefixedLine(t *testing.T) {
	out := engine.ParseFailures("FAILED tests/test_x.py::test_y - No module named 'math'\n")
	require.Len(t, out, 1)
	assert.Equal(t, "tests/test_x.py", out[0].FilePath)
	assert.Equal(t, "test_y", out[0].TestName)
	assert.Equal(t, engine.KindImportError, out[0].ErrorKind)
}

func TestParseFailures_DeduplicatesRepeatedFailures(t *testing.T) {
	output := "tests/test_x.py::test_y - AssertionError: 1 != 2\n" +
		"tests/test_x.py::test_y - AssertionError: 1 != 2\n"

	out := engine.ParseFailures(output)
	assert.Len(t, out, 1)
}

func TestParseFailures_PreservesFirstAppearanceOrder(t *testing.T) {
	output := "tests/test_b.py::test_b - AssertionError: 1 != 2\n" +
		"tests/test_a.py::test_a - No module named 'os'\n"

	out := engine.ParseFailures(output)
	require.Len(t, out, 2)
	assert.Equal(t, "test_b", out[0].TestName)
	assert.Equal(t, "test_a", out[1].TestName)
}

func TestParseFailures_IsDeterministicAcrossCalls(t *testing.T) {
	output := "tests/test_x.py::test_y - 'Foo' object has no attribute 'bar'\n"

	first := engine.ParseFailures(output)
	second := engine.ParseFailures(output)
	assert.Equal(t, first, second)
}

func TestParseFailures_ClassifiesAllFiveKinds(t *testing.T) {
	cases := map[string]engine.ErrorKind{
		"'Foo' object has no attribute 'bar'":             engine.KindMissingAttribute,
		"AssertionError: 1 != 2":                          engine.KindAssertionMismatch,
		"No module named 'math'":                          engine.KindImportError,
		"f() missing 2 required positional arguments: 'a'": engine.KindMissingPositionalArgs,
		"IndentationError: unexpected indent":              engine.KindIndentationError,
	}

	for msg, want := range cases {
		out := engine.ParseFailures("tests/test_x.py::test_y - " + msg)
		require.Len(t, out, 1, msg)
		assert.Equal(t, want, out[0].ErrorKind, msg)
	}
}

func TestParseFailures_UnrecognizedLinesAreIgnored(t *testing.T) {
	out := engine.ParseFailures("collecting tests...\n1 passed in 0.01s\n")
	assert.Empty(t, out)
}
