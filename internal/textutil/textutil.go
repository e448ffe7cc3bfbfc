// Package textutil provides text normalization and content fingerprinting
// shared by the chunker and the embedding subsystem.
package textutil

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize lowercases the input, strips everything that is not a letter or a
// digit, splits on whitespace and drops single-character tokens. Output is
// stable: re-tokenizing the joined output yields the same tokens.
func Tokenize(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	fields := strings.Fields(b.String())
	out := fields[:0]
	for _, t := range fields {
		if utf8.RuneCountInString(t) > 1 {
			out = append(out, t)
		}
	}
	return out
}

// Fingerprint returns a stable content hash used as the embedding cache key.
func Fingerprint(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}
