package engine

import (
	"bytes"
	"fmt"
	"regexp"
)

// fixFunc is a pure syntactic patcher: given the current file bytes and the
// Failure that triggered dispatch, it returns the new bytes and whether it
// applied. No I/O — the caller (the Controller, via the Backup Vault) owns
// reading and writing the file: read outside, pure-transform, write back
// through one choke point.
type fixFunc func(src []byte, f Failure) (out []byte, applied bool)

// patternHandlers is the closed catalogue of C5. Every entry here is a
// direct, named function — no reflection, no string-keyed dynamic dispatch.
var patternHandlers = map[ErrorKind]fixFunc{
	KindMissingAttribute:      fixMissingAttribute,
	KindAssertionMismatch:     fixAssertionMismatch,
	KindImportError:           fixImportError,
	KindMissingPositionalArgs: fixMissingPositionalArgs,
	KindIndentationError:      fixIndentation,
}

// RunPatternFixer dispatches f to its handler, if any, returning the
// rewritten file content. allowAssertionRewrite gates KindAssertionMismatch
// per Open Question 1 (internal/config.Config.AllowAssertionRewrite).
func RunPatternFixer(src []byte, f Failure, allowAssertionRewrite bool) (out []byte, applied bool) {
	if f.ErrorKind == KindAssertionMismatch && !allowAssertionRewrite {
		return src, false
	}

	handler, ok := patternHandlers[f.ErrorKind]
	if !ok {
		return src, false
	}

	return handler(src, f)
}

var reMissingAttrCapture = regexp.MustCompile(`'(\w+)' object has no attribute '(\w+)'`)

// fixMissingAttribute inserts a no-op stub method `y` inside class `X` at
// the line after its last method, for "'X' object has no attribute 'y'".
func fixMissingAttribute(src []byte, f Failure) ([]byte, bool) {
	m := reMissingAttrCapture.FindStringSubmatch(f.ErrorMessage)
	if m == nil {
		return src, false
	}

	class, attr := m[1], m[2]

	classRe := regexp.MustCompile(`(?m)^class\s+` + regexp.QuoteMeta(class) + `\b.*:\s*$`)
	loc := classRe.FindIndex(src)

	if loc == nil {
		return src, false
	}

	indent := detectMethodIndent(src, loc[1])
	insertAt := findInsertionPointAfterLastMethod(src, loc[1])

	stub := []byte(fmt.Sprintf("\n%sdef %s(self, *args, **kwargs):\n%s    pass\n", indent, attr, indent))

	out := make([]byte, 0, len(src)+len(stub))
	out = append(out, src[:insertAt]...)
	out = append(out, stub...)
	out = append(out, src[insertAt:]...)

	return out, true
}

// detectMethodIndent guesses the indentation unit used inside the class
// body by inspecting the first non-blank line after the class header;
// falls back to four spaces (the project-wide default IndentationError
// fixer also assumes).
func detectMethodIndent(src []byte, classHeaderEnd int) string {
	rest := src[classHeaderEnd:]
	for _, line := range bytes.Split(rest, []byte("\n")) {
		trimmed := bytes.TrimLeft(line, " \t")
		if len(trimmed) == 0 {
			continue
		}

		return string(line[:len(line)-len(trimmed)])
	}

	return "    "
}

// findInsertionPointAfterLastMethod scans forward from the class header for
// the last top-level-of-class "def " line and returns the byte offset
// immediately after its body, i.e. the next line starting at an indentation
// shallower than or equal to the class body's own indent (or EOF).
func findInsertionPointAfterLastMethod(src []byte, classHeaderEnd int) int {
	lines := bytes.SplitAfter(src[classHeaderEnd:], []byte("\n"))

	lastMethodEnd := -1
	offset := classHeaderEnd
	bodyIndent := ""
	inMethod := false

	for _, line := range lines {
		trimmed := bytes.TrimLeft(line, " \t")
		indent := string(line[:len(line)-len(trimmed)])

		if len(bytes.TrimSpace(trimmed)) == 0 {
			offset += len(line)
			continue
		}

		if bodyIndent == "" {
			bodyIndent = indent
		}

		// A line indented less than the class body ends the class.
		if len(indent) < len(bodyIndent) {
			break
		}

		if bytes.HasPrefix(trimmed, []byte("def ")) {
			inMethod = true
			lastMethodEnd = offset + len(line)
		} else if inMethod && len(indent) > len(bodyIndent) {
			lastMethodEnd = offset + len(line)
		} else {
			inMethod = false
		}

		offset += len(line)
	}

	if lastMethodEnd >= 0 {
		return lastMethodEnd
	}

	return offset
}

var reAssertEquality = regexp.MustCompile(`assert\s+(.+?)\s*==\s*(.+?)\s*$`)

// fixAssertionMismatch rewrites the first `assert A == B` line in the file
// to `assert B == B`, pinning the test to the observed value. The failure's
// raw location is not consulted, so in a file with several such assertions
// only the first one is rewritten. Gated by AllowAssertionRewrite
// rather than ever silently disabled, since rewriting an assertion changes
// what the test means, not just how it passes.
func fixAssertionMismatch(src []byte, f Failure) ([]byte, bool) {
	lines := bytes.Split(src, []byte("\n"))

	for i, line := range lines {
		m := reAssertEquality.FindSubmatch(line)
		if m == nil {
			continue
		}

		rhs := bytes.TrimSpace(m[2])
		newLine := reAssertEquality.ReplaceAll(line, []byte(fmt.Sprintf("assert %s == %s", rhs, rhs)))
		lines[i] = newLine

		return bytes.Join(lines, []byte("\n")), true
	}

	return src, false
}

var reModuleName = regexp.MustCompile(`No module named '([\w.]+)'`)

// fixImportError prepends `import m` if no such import already exists.
func fixImportError(src []byte, f Failure) ([]byte, bool) {
	m := reModuleName.FindStringSubmatch(f.ErrorMessage)
	if m == nil {
		return src, false
	}

	module := m[1]

	existing := regexp.MustCompile(`(?m)^\s*import\s+` + regexp.QuoteMeta(module) + `\b`)
	if existing.Match(src) {
		return src, false
	}

	stmt := []byte("import " + module + "\n")
	out := append(append([]byte{}, stmt...), src...)

	return out, true
}

var reMissingPositionalCapture = regexp.MustCompile(`(\w+)\(\) missing (\d+) required positional argument`)

// fixMissingPositionalArgs appends N placeholder None arguments at each
// call site of f that is not itself a definition line.
func fixMissingPositionalArgs(src []byte, f Failure) ([]byte, bool) {
	m := reMissingPositionalCapture.FindStringSubmatch(f.ErrorMessage)
	if m == nil {
		return src, false
	}

	fn := m[1]

	n := 0
	if _, err := fmt.Sscanf(m[2], "%d", &n); err != nil || n <= 0 {
		return src, false
	}

	callRe := regexp.MustCompile(`(?m)^(\s*)(?:[\w.]+\s*=\s*)?` + regexp.QuoteMeta(fn) + `\(([^)]*)\)`)
	defRe := regexp.MustCompile(`(?m)^\s*def\s+` + regexp.QuoteMeta(fn) + `\b`)

	applied := false

	out := callRe.ReplaceAllFunc(src, func(call []byte) []byte {
		if defRe.Match(call) {
			return call
		}

		applied = true

		placeholders := make([]byte, 0, n*6)
		for i := 0; i < n; i++ {
			placeholders = append(placeholders, []byte(", None")...)
		}

		closeParen := bytes.LastIndexByte(call, ')')
		if closeParen < 0 {
			return call
		}

		inner := bytes.TrimRight(call[:closeParen], " \t")

		result := make([]byte, 0, len(call)+len(placeholders))
		result = append(result, inner...)
		result = append(result, placeholders...)
		result = append(result, call[closeParen:]...)

		return result
	})

	if !applied {
		return src, false
	}

	return out, true
}

// fixIndentation replaces tab characters with four spaces throughout the
// file, for a raw IndentationError.
func fixIndentation(src []byte, f Failure) ([]byte, bool) {
	if !bytes.ContainsRune(src, '\t') {
		return src, false
	}

	return bytes.ReplaceAll(src, []byte("\t"), []byte("    ")), true
}
