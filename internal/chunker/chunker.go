// Package chunker turns files into retrievable chunks. A file is dispatched
// to a format-specific segmentation strategy by extension; every resulting
// section is then normalized through the oversize splitter and the noise
// filter, so no chunk exceeds the target size and trivial fragments are
// dropped.
package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kestrelab/annex/internal/extract"
	"github.com/kestrelab/annex/pkg/models"
)

const (
	// MaxChunkChars is the target ceiling for a single chunk.
	MaxChunkChars = 1500
	// MinChunkChars is the noise floor; shorter sections are discarded.
	MinChunkChars = 20
	// MaxFileBytes is a hard cap: larger files are skipped entirely.
	MaxFileBytes = 10 << 20
	// ReadCapBytes truncates reads of large-but-indexable files.
	ReadCapBytes = 1 << 20

	fallbackBlockLines   = 80
	tabularRowsPerChunk  = 50
	codeFallbackMinChars = 2000
)

// section is an intermediate segmentation unit before size normalization.
type section struct {
	Label   string
	Content string
}

// ChunkFile reads path and chunks it according to its extension. Binary
// document formats are routed through text extraction first. The returned
// error means the file was skipped; it never aborts a directory scan.
func ChunkFile(path, relPath, sourceFolder string) ([]models.Chunk, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > MaxFileBytes {
		return nil, fmt.Errorf("file %s exceeds size cap (%d bytes)", path, info.Size())
	}

	ext := fileType(path)
	var content string
	if extract.IsBinaryDocument(ext) {
		content, err = extract.Text(path, ext)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", path, err)
		}
	} else {
		content, err = readCapped(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	return Chunk(content, path, relPath, sourceFolder, info.ModTime()), nil
}

// Chunk segments already-loaded content. Deterministic: identical input
// yields byte-identical chunks.
func Chunk(content, path, relPath, sourceFolder string, mtime time.Time) []models.Chunk {
	ext := fileType(path)

	var sections []section
	switch {
	case isMarkdown(ext):
		sections = markdownSections(content)
	case isCode(ext):
		sections = codeSections(content, ext)
	case ext == "json":
		sections = jsonSections(content)
	case ext == "yaml" || ext == "yml":
		sections = yamlSections(content)
	case ext == "toml":
		sections = tomlSections(content)
	case ext == "csv" || ext == "tsv":
		sections = tabularSections(content)
	default:
		sections = plainSections(content)
	}

	chunks := make([]models.Chunk, 0, len(sections))
	idx := 0
	for _, sec := range sections {
		for _, piece := range SplitOversize(sec.Content, MaxChunkChars) {
			trimmed := strings.TrimSpace(piece)
			if len(trimmed) < MinChunkChars {
				continue
			}
			chunks = append(chunks, models.Chunk{
				ID:           chunkID(sourceFolder, relPath, sec.Label, idx),
				FilePath:     path,
				FileName:     filepath.Base(path),
				Section:      sec.Label,
				Content:      trimmed,
				CharCount:    len(trimmed),
				SourceFolder: sourceFolder,
				FileType:     ext,
				Mtime:        mtime,
			})
			idx++
		}
	}
	if len(chunks) == 0 {
		log.Debug().Str("path", path).Msg("no chunks produced")
	}
	return chunks
}

// chunkID is the deterministic join key between a chunk and its embedding.
func chunkID(sourceFolder, relPath, label string, i int) string {
	h := sha1.Sum([]byte(sourceFolder + "#" + relPath + "#" + label + "#" + fmt.Sprintf("%d", i)))
	return hex.EncodeToString(h[:])
}

func fileType(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

func isMarkdown(ext string) bool {
	return ext == "md" || ext == "markdown" || ext == "mdx"
}

func readCapped(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	b, err := io.ReadAll(io.LimitReader(f, ReadCapBytes))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// lineBlocks slices content into fixed-size blocks of n lines, the shared
// fallback for text with no better structure.
func lineBlocks(content string, n int) []section {
	lines := strings.Split(content, "\n")
	var out []section
	for start := 0; start < len(lines); start += n {
		end := min(start+n, len(lines))
		block := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		out = append(out, section{
			Label:   fmt.Sprintf("Lines %d-%d", start+1, end),
			Content: block,
		})
	}
	return out
}
