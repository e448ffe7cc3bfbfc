package chunker

import (
	"regexp"
	"strings"
)

// headerPattern matches top-level markdown headers (levels 1-3) at the start
// of a line.
var headerPattern = regexp.MustCompile(`^(#{1,3})\s+(.+?)[ \t]*$`)

// markdownSections splits on header lines at levels 1-3: one section per
// header, plus an Intro section when content precedes the first header.
// Headers inside fenced code blocks are ignored.
func markdownSections(content string) []section {
	lines := strings.Split(content, "\n")

	var sections []section
	var cur []string
	label := "Intro"
	sawHeader := false
	inFence := false
	flush := func() {
		body := strings.Join(cur, "\n")
		// The pre-header Intro only exists if there is actual content.
		if sawHeader || strings.TrimSpace(body) != "" {
			sections = append(sections, section{Label: label, Content: body})
		}
		cur = cur[:0]
	}

	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence {
			if m := headerPattern.FindStringSubmatch(line); m != nil {
				flush()
				label = m[2]
				sawHeader = true
				continue
			}
		}
		cur = append(cur, line)
	}
	flush()

	// No headers: the whole document is its own intro. The oversize splitter
	// still bounds the resulting chunks.
	if !sawHeader {
		return []section{{Label: "Intro", Content: content}}
	}
	return sections
}
