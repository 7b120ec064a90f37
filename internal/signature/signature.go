// Package signature derives a deterministic ErrorSignature from a failure's
// message and surrounding code context, so that two failures observed in
// different sessions (or different processes) hash to the same identity
// whenever they describe "the same problem".
package signature

import (
	"crypto/sha256"
	"encoding/base32"
	"path"
	"regexp"
	"strings"
)

// Signature identifies a normalized error. Two Failures with the same
// Signature are treated as the same problem by every downstream component
// (Learned-Fix Store lookups, Confidence Manager history, Patch Tracker
// ledger keys).
type Signature string

// sigEncoding is a lowercase, unpadded base32 alphabet, so a Signature reads
// as a short stable token usable directly as a JSON map key or filename
// fragment (no '/' or '=' the way a plain hex/base64 digest might require
// escaping in some contexts).
var sigEncoding = base32.NewEncoding("0123456789abcdefghjkmnpqrstvwxyz").WithPadding(base32.NoPadding)

const sigLength = 20 // truncate the 32-byte digest; collision risk is not a concern within one project

// Of computes the Signature for an error message plus the code context it
// occurred in. Both inputs are normalized before hashing so that incidental
// differences (line numbers, whitespace, absolute paths) don't fragment the
// same logical failure into distinct signatures across runs.
func Of(errorMessage, codeContext string) Signature {
	h := sha256.New()
	h.Write([]byte(normalizeMessage(errorMessage)))
	h.Write([]byte{0}) // separator byte so message/context can't collide across the boundary
	h.Write([]byte(normalizeContext(codeContext)))

	digest := h.Sum(nil)

	return Signature(sigEncoding.EncodeToString(digest)[:sigLength])
}

var (
	reDigits     = regexp.MustCompile(`\b\d+\b`)
	reHexAddr    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reAbsPath    = regexp.MustCompile(`(/[\w.\-]+)+\.\w+`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// normalizeMessage strips the parts of an error message that vary between
// otherwise-identical occurrences: line numbers, memory addresses, the
// directory part of absolute file paths (reduced to their base name), and
// incidental whitespace differences.
func normalizeMessage(msg string) string {
	msg = reHexAddr.ReplaceAllString(msg, "0xADDR")
	msg = reAbsPath.ReplaceAllStringFunc(msg, path.Base)
	msg = reDigits.ReplaceAllString(msg, "N")
	msg = reWhitespace.ReplaceAllString(msg, " ")

	return strings.TrimSpace(msg)
}

// normalizeContext does the same for a snippet of surrounding source: line
// numbers and leading indentation don't change "what" the code is.
func normalizeContext(ctx string) string {
	lines := strings.Split(ctx, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimRight(strings.TrimLeft(line, " \t"), " \t")
		if trimmed == "" {
			continue
		}

		out = append(out, trimmed)
	}

	return reDigits.ReplaceAllString(strings.Join(out, "\n"), "N")
}
