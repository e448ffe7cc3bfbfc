package chunker

import (
	"regexp"
	"strings"
)

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

// SplitOversize guarantees no piece exceeds maxChars: it splits at paragraph
// boundaries first, then at sentence boundaries, and hard-cuts only as a
// last resort. Non-empty input always yields at least one piece.
func SplitOversize(s string, maxChars int) []string {
	if len(s) <= maxChars {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	var out []string
	for _, part := range packParts(splitParagraphs(s), "\n\n", maxChars) {
		if len(part) <= maxChars {
			out = append(out, part)
			continue
		}
		for _, sent := range packParts(splitSentences(part), " ", maxChars) {
			if len(sent) <= maxChars {
				out = append(out, sent)
				continue
			}
			out = append(out, hardCut(sent, maxChars)...)
		}
	}
	// Paragraph and sentence splitting both discard all-whitespace parts, so
	// input like a long run of blanks reaches here with nothing packed.
	if len(out) == 0 {
		return hardCut(s, maxChars)
	}
	return out
}

// packParts greedily joins parts with sep without crossing maxChars. Parts
// longer than maxChars pass through alone for the next splitting stage.
func packParts(parts []string, sep string, maxChars int) []string {
	var out []string
	var cur []string
	size := 0
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, sep))
			cur = cur[:0]
			size = 0
		}
	}
	for _, p := range parts {
		if len(p) > maxChars {
			flush()
			out = append(out, p)
			continue
		}
		if size > 0 && size+len(sep)+len(p) > maxChars {
			flush()
		}
		cur = append(cur, p)
		size += len(p)
		if len(cur) > 1 {
			size += len(sep)
		}
	}
	flush()
	return out
}

func splitSentences(s string) []string {
	marked := sentenceEnd.ReplaceAllString(s, "$1\x00")
	parts := strings.Split(marked, "\x00")
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func hardCut(s string, maxChars int) []string {
	var out []string
	for len(s) > maxChars {
		out = append(out, s[:maxChars])
		s = s[maxChars:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
