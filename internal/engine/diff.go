package engine

import (
	"fmt"
	"strings"
)

// applyUnifiedDiff applies a single-file unified diff (as produced by the
// Patch Oracle Adapter) to original, returning the patched bytes. It
// supports the subset of unified-diff syntax real model-generated patches
// use in practice: one or more "@@ -a,b +c,d @@" hunks against one file,
// each hunk's body made of ' ' (context), '-' (removed), and '+' (added)
// lines. Hunks are applied in order; a hunk whose context doesn't match at
// the expected offset is a patch-application failure, surfaced as an error
// rather than silently skipped.
func applyUnifiedDiff(original []byte, diffText string) ([]byte, error) {
	lines := strings.Split(string(original), "\n")
	hunks, err := parseHunks(diffText)
	if err != nil {
		return nil, err
	}

	if len(hunks) == 0 {
		return nil, fmt.Errorf("diff: no hunks found")
	}

	var out []string

	cursor := 0 // 0-based index into lines, next unconsumed source line

	for _, h := range hunks {
		start := h.oldStart - 1
		if start < cursor || start > len(lines) {
			return nil, fmt.Errorf("diff: hunk out of order or out of range at line %d", h.oldStart)
		}

		out = append(out, lines[cursor:start]...)
		cursor = start

		for _, hl := range h.body {
			switch hl.kind {
			case ' ':
				if cursor >= len(lines) || lines[cursor] != hl.text {
					return nil, fmt.Errorf("diff: context mismatch at line %d", cursor+1)
				}

				out = append(out, lines[cursor])
				cursor++
			case '-':
				if cursor >= len(lines) || lines[cursor] != hl.text {
					return nil, fmt.Errorf("diff: removal mismatch at line %d", cursor+1)
				}

				cursor++
			case '+':
				out = append(out, hl.text)
			}
		}
	}

	out = append(out, lines[cursor:]...)

	return []byte(strings.Join(out, "\n")), nil
}

type hunkLine struct {
	kind byte // ' ', '-', '+'
	text string
}

type hunk struct {
	oldStart int
	body     []hunkLine
}

var hunkHeaderPrefix = "@@ -"

func parseHunks(diffText string) ([]hunk, error) {
	var hunks []hunk

	var current *hunk

	for _, raw := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(raw, "--- "), strings.HasPrefix(raw, "+++ "):
			continue
		case strings.HasPrefix(raw, hunkHeaderPrefix):
			oldStart, err := parseHunkOldStart(raw)
			if err != nil {
				return nil, err
			}

			if current != nil {
				hunks = append(hunks, *current)
			}

			current = &hunk{oldStart: oldStart}
		case current != nil && len(raw) > 0:
			current.body = append(current.body, hunkLine{kind: raw[0], text: raw[1:]})
		case current != nil && len(raw) == 0:
			current.body = append(current.body, hunkLine{kind: ' ', text: ""})
		}
	}

	if current != nil {
		hunks = append(hunks, *current)
	}

	return hunks, nil
}

// parseHunkOldStart extracts "a" from "@@ -a,b +c,d @@" (b/c/d ignored: the
// applier tracks position purely from encountered context/removal lines).
func parseHunkOldStart(header string) (int, error) {
	rest := strings.TrimPrefix(header, hunkHeaderPrefix)

	end := strings.IndexAny(rest, ", ")
	if end < 0 {
		return 0, fmt.Errorf("diff: malformed hunk header %q", header)
	}

	numStr := rest[:end]

	n := 0
	for _, r := range numStr {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("diff: malformed hunk header %q", header)
		}

		n = n*10 + int(r-'0')
	}

	return n, nil
}
