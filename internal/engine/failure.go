package engine

import (
	"bufio"
	"regexp"
	"strings"
)

// anchoredFailure matches the primary "file::test – message" shape most
// structured test runners emit, e.g. "tests/test_x.py::test_y - ValueError: boom".
var anchoredFailure = regexp.MustCompile(`^(?:FAILED\s+)?([^\s:]+)::([^\s]+)\s*[-–]\s*(.+)$`)

// failedLine is the secondary scan fallback: a bare "FAILED <name>" line,
// optionally followed by " - message".
var failedLine = regexp.MustCompile(`^FAILED\s+(\S+)(?:\s*-\s*(.+))?$`)

// ParseFailures parses an executor's combined stdout+stderr into an ordered,
// deduplicated sequence of Failure records (C1). Empty or non-matching
// input yields an empty slice, never an error — parsing gaps are Class 1 in
// the error taxonomy and are absorbed here rather than surfaced.
func ParseFailures(combinedOutput string) []Failure {
	if strings.TrimSpace(combinedOutput) == "" {
		return nil
	}

	var out []Failure

	seen := make(map[[3]string]struct{})

	scanner := bufio.NewScanner(strings.NewReader(combinedOutput))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		f, ok := parseLine(line)
		if !ok {
			continue
		}

		key := [3]string{f.FilePath, f.TestName, f.ErrorMessage}
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, f)
	}

	return out
}

func parseLine(line string) (Failure, bool) {
	if m := anchoredFailure.FindStringSubmatch(line); m != nil {
		msg := strings.TrimSpace(m[3])

		return Failure{
			FilePath:     m[1],
			TestName:     m[2],
			ErrorMessage: msg,
			ErrorKind:    classify(msg),
			RawLocation:  line,
		}, true
	}

	if m := failedLine.FindStringSubmatch(line); m != nil {
		name := m[1]
		msg := strings.TrimSpace(m[2])

		file, test := splitTestName(name)

		return Failure{
			FilePath:     file,
			TestName:     test,
			ErrorMessage: msg,
			ErrorKind:    classify(msg),
			RawLocation:  line,
		}, true
	}

	return Failure{}, false
}

// splitTestName recovers file/test from a bare "path/to/test.py::test_fn"
// token when the anchored pattern didn't fire (no message on the same
// token), falling back to treating the whole token as the test name.
func splitTestName(name string) (file, test string) {
	if idx := strings.Index(name, "::"); idx >= 0 {
		return name[:idx], name[idx+2:]
	}

	return "", name
}

var (
	reMissingAttr       = regexp.MustCompile(`'(\w+)' object has no attribute '(\w+)'`)
	reAssertionMismatch = regexp.MustCompile(`AssertionError:\s*(.+?)\s*!=\s*(.+)`)
	reImportError       = regexp.MustCompile(`No module named '([\w.]+)'`)
	reMissingPositional = regexp.MustCompile(`(\w+)\(\) missing (\d+) required positional argument`)
	reIndentation       = regexp.MustCompile(`(?i)IndentationError`)
)

// classify maps a raw error message to the closed ErrorKind catalogue C5
// dispatches on. Order matters only in that these patterns are mutually
// exclusive in practice; ties are not expected.
func classify(msg string) ErrorKind {
	switch {
	case reMissingAttr.MatchString(msg):
		return KindMissingAttribute
	case reAssertionMismatch.MatchString(msg):
		return KindAssertionMismatch
	case reImportError.MatchString(msg):
		return KindImportError
	case reMissingPositional.MatchString(msg):
		return KindMissingPositionalArgs
	case reIndentation.MatchString(msg):
		return KindIndentationError
	default:
		return KindUnknown
	}
}
