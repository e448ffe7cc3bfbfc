package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

var paragraphSplit = regexp.MustCompile(`\n[ \t]*\n+`)

// plainSections splits on blank-line paragraph boundaries and greedily packs
// paragraphs up to the chunk target. Text without paragraph structure falls
// back to fixed line blocks.
func plainSections(content string) []section {
	paragraphs := splitParagraphs(content)
	if len(paragraphs) < 2 {
		return lineBlocks(content, fallbackBlockLines)
	}

	var sections []section
	var cur []string
	size := 0
	flush := func() {
		if len(cur) == 0 {
			return
		}
		sections = append(sections, section{
			Label:   fmt.Sprintf("Part %d", len(sections)+1),
			Content: strings.Join(cur, "\n\n"),
		})
		cur = cur[:0]
		size = 0
	}

	for _, p := range paragraphs {
		if size > 0 && size+len(p) > MaxChunkChars {
			flush()
		}
		cur = append(cur, p)
		size += len(p) + 2
	}
	flush()
	return sections
}

func splitParagraphs(content string) []string {
	parts := paragraphSplit.Split(content, -1)
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// tabularSections slices CSV/TSV data into fixed row-count blocks, each
// re-prefixed with the header row so every chunk stands on its own.
func tabularSections(content string) []section {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) == 0 {
		return nil
	}
	header := lines[0]
	rows := lines[1:]
	if len(rows) == 0 {
		return []section{{Label: "Rows 1-1", Content: header}}
	}

	var sections []section
	for start := 0; start < len(rows); start += tabularRowsPerChunk {
		end := min(start+tabularRowsPerChunk, len(rows))
		sections = append(sections, section{
			Label:   fmt.Sprintf("Rows %d-%d", start+1, end),
			Content: header + "\n" + strings.Join(rows[start:end], "\n"),
		})
	}
	return sections
}
