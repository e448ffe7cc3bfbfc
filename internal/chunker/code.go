package chunker

import (
	"regexp"
	"strings"
)

// Code-aware chunking scans for language-specific top-level symbol
// declarations. Matchers are a pluggable table per language family; adding a
// language means adding a table entry. Patterns are only tried at brace
// depth <= 1 so nested symbols never start a section.

var extToFamily = map[string]string{
	"go":    "go",
	"js":    "jsts",
	"jsx":   "jsts",
	"ts":    "jsts",
	"tsx":   "jsts",
	"mjs":   "jsts",
	"py":    "python",
	"rs":    "rust",
	"java":  "clike",
	"c":     "clike",
	"h":     "clike",
	"cpp":   "clike",
	"hpp":   "clike",
	"cc":    "clike",
	"cs":    "clike",
	"kt":    "clike",
	"swift": "clike",
	"rb":    "ruby",
	"php":   "php",
	"sh":    "shell",
	"bash":  "shell",
}

// familyMatchers maps a language family to an ordered list of top-level
// symbol patterns. The last capture group that matched is used as the
// section name.
var familyMatchers = map[string][]*regexp.Regexp{
	"go": {
		regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?(\w+)`),
		regexp.MustCompile(`^type\s+(\w+)\s+(?:struct|interface)\b`),
	},
	"jsts": {
		regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)`),
		regexp.MustCompile(`^(?:export\s+)?(?:abstract\s+)?class\s+(\w+)`),
		regexp.MustCompile(`^(?:export\s+)?interface\s+(\w+)`),
		regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s*)?(?:\(|function\b)`),
	},
	"python": {
		regexp.MustCompile(`^(?:async\s+)?def\s+(\w+)`),
		regexp.MustCompile(`^class\s+(\w+)`),
	},
	"rust": {
		regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?fn\s+(\w+)`),
		regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:struct|enum|trait)\s+(\w+)`),
		regexp.MustCompile(`^impl(?:<[^>]*>)?\s+(\w+)`),
	},
	"clike": {
		regexp.MustCompile(`^(?:public\s+|private\s+|protected\s+|static\s+|final\s+|abstract\s+)*(?:class|struct|interface|enum)\s+(\w+)`),
		regexp.MustCompile(`^(?:[\w:<>\*&\[\]]+\s+)+(\w+)\s*\([^;]*$`),
	},
	"ruby": {
		regexp.MustCompile(`^def\s+([\w?!=.]+)`),
		regexp.MustCompile(`^(?:class|module)\s+(\w+)`),
	},
	"php": {
		regexp.MustCompile(`^(?:public\s+|private\s+|protected\s+|static\s+)*function\s+(\w+)`),
		regexp.MustCompile(`^(?:abstract\s+|final\s+)?(?:class|interface|trait)\s+(\w+)`),
	},
	"shell": {
		regexp.MustCompile(`^(?:function\s+)?([\w-]+)\s*\(\)\s*\{?`),
	},
}

func isCode(ext string) bool {
	_, ok := extToFamily[ext]
	return ok
}

// codeSections groups lines by top-level symbol declaration. Files with
// fewer than two recognizable sections fall back to fixed line blocks once
// they are large enough to need splitting at all.
func codeSections(content, ext string) []section {
	matchers := familyMatchers[extToFamily[ext]]

	lines := strings.Split(content, "\n")
	var sections []section
	var cur []string
	label := "Intro"
	depth := 0

	flush := func() {
		body := strings.Join(cur, "\n")
		if strings.TrimSpace(body) != "" {
			sections = append(sections, section{Label: label, Content: body})
		}
		cur = cur[:0]
	}

	for _, line := range lines {
		if depth <= 1 {
			if name, ok := matchSymbol(matchers, line); ok {
				flush()
				label = name
			}
		}
		cur = append(cur, line)
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth < 0 {
			depth = 0
		}
	}
	flush()

	if len(sections) < 2 && len(content) > codeFallbackMinChars {
		return lineBlocks(content, fallbackBlockLines)
	}
	return sections
}

// matchSymbol tries the matchers in order and returns the last non-empty
// capture group of the first match.
func matchSymbol(matchers []*regexp.Regexp, line string) (string, bool) {
	for _, re := range matchers {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		for i := len(m) - 1; i >= 1; i-- {
			if m[i] != "" {
				return m[i], true
			}
		}
		return truncateLabel(line), true
	}
	return "", false
}

func truncateLabel(line string) string {
	line = strings.TrimSpace(line)
	if len(line) > 60 {
		line = line[:60]
	}
	return line
}
