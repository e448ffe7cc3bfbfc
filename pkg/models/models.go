package models

import "time"

// Chunk is a retrievable text fragment produced by the chunker.
type Chunk struct {
	ID           string    `json:"id"`
	FilePath     string    `json:"file_path"`
	FileName     string    `json:"file_name"`
	Section      string    `json:"section"`
	Content      string    `json:"content"`
	CharCount    int       `json:"char_count"`
	SourceFolder string    `json:"source_folder"`
	FileType     string    `json:"file_type"`
	Mtime        time.Time `json:"mtime"`
}

// ChunkEmbedding joins a vector to its chunk by id. Embeddings live in their
// own keyed records so a model change never requires re-chunking.
type ChunkEmbedding struct {
	ChunkID string    `json:"chunk_id"`
	Vector  []float32 `json:"vector"`
	Model   string    `json:"model"`
}

// SearchResult is one ranked hit from hybrid search.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// FolderStats is one row per indexed root, recomputed on every (re)index.
type FolderStats struct {
	Path          string    `json:"path"`
	FileCount     int       `json:"file_count"`
	ChunkCount    int       `json:"chunk_count"`
	LastIndexedAt time.Time `json:"last_indexed_at"`
}

// Phase identifies where a reindex currently is.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseScanning  Phase = "scanning"
	PhaseChunking  Phase = "chunking"
	PhaseSaving    Phase = "saving"
	PhaseEmbedding Phase = "embedding"
	PhaseDone      Phase = "done"
	PhaseError     Phase = "error"
)

// Progress is a snapshot of a running reindex, emitted on the engine's
// progress stream. Throttled emission; phase transitions always emit.
type Progress struct {
	Phase            Phase   `json:"phase"`
	FilesProcessed   int     `json:"files_processed"`
	FilesTotal       int     `json:"files_total"`
	ChunksCreated    int     `json:"chunks_created"`
	EmbeddingPercent float64 `json:"embedding_percent"`
	OverallPercent   float64 `json:"overall_percent"`
	Err              string  `json:"error,omitempty"`
}
