package index

import (
	"path/filepath"
	"strings"
)

// allowedExtensions is the indexable file allow-list (lowercase, no dot).
var allowedExtensions = map[string]bool{
	"txt": true, "md": true, "markdown": true, "mdx": true,
	"go": true, "py": true, "js": true, "jsx": true, "ts": true, "tsx": true, "mjs": true,
	"java": true, "c": true, "h": true, "cpp": true, "hpp": true, "cc": true,
	"cs": true, "rs": true, "rb": true, "php": true, "sh": true, "bash": true,
	"swift": true, "kt": true, "sql": true, "html": true, "css": true, "xml": true,
	"yaml": true, "yml": true, "json": true, "toml": true,
	"csv": true, "tsv": true,
	"pdf": true, "docx": true, "epub": true,
}

// excludedDirs are directory names never descended into: build artifacts,
// VCS metadata, dependency trees, and the engine's own data directory.
var excludedDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
	"node_modules": true, "vendor": true, "__pycache__": true,
	".venv": true, "venv": true, ".tox": true,
	"dist": true, "build": true, "out": true, "target": true,
	"bin": true, "obj": true, "coverage": true,
	".idea": true, ".vscode": true, ".cache": true, ".gradle": true,
	".annex": true,
}

// Indexable reports whether a file path passes the extension allow-list.
func Indexable(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return allowedExtensions[ext]
}

// ExcludedDir reports whether a directory name should not be descended into.
func ExcludedDir(name string) bool {
	return excludedDirs[name]
}
