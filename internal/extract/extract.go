// Package extract converts binary document formats (PDF, DOCX, EPUB) to
// plain text so the chunker can reuse its plain-text strategy on them.
package extract

import (
	"fmt"
)

// IsBinaryDocument reports whether ext (lowercase, no dot) is a format that
// needs text extraction before chunking.
func IsBinaryDocument(ext string) bool {
	switch ext {
	case "pdf", "docx", "epub":
		return true
	}
	return false
}

// Text extracts the plain text of the document at path.
func Text(path, ext string) (string, error) {
	switch ext {
	case "pdf":
		return pdfText(path)
	case "docx":
		return docxText(path)
	case "epub":
		return epubText(path)
	}
	return "", fmt.Errorf("unsupported binary format: %s", ext)
}
