// Package store implements the storage collaborator on Postgres with
// pgvector: keyword full-text search, vector similarity, and the persistent
// tier of the embedding cache.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/kestrelab/annex/pkg/models"
)

// Store provides chunk, embedding, cache, and folder-stat persistence.
type Store struct {
	pool *pgxpool.Pool
	dim  int
}

// New connects to the database. dim is the dimensionality of the embeddings
// column; vectors of other sizes are padded or truncated at this boundary.
func New(ctx context.Context, url string, dim int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if dim <= 0 {
		dim = 256
	}
	return &Store{pool: p, dim: dim}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// HasVectorSearch reports whether vector similarity is available.
func (s *Store) HasVectorSearch() bool { return true }

// Migrate applies schema setup.
func (s *Store) Migrate(ctx context.Context) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  id            TEXT PRIMARY KEY,
  file_path     TEXT NOT NULL,
  file_name     TEXT NOT NULL,
  section       TEXT NOT NULL DEFAULT '',
  content       TEXT NOT NULL,
  char_count    INT NOT NULL,
  source_folder TEXT NOT NULL,
  file_type     TEXT NOT NULL DEFAULT '',
  mtime         TIMESTAMP WITH TIME ZONE,
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now(),
  ts            tsvector GENERATED ALWAYS AS (
    setweight(to_tsvector('english', coalesce(file_name,'')), 'A') ||
    setweight(to_tsvector('english', coalesce(section,'')), 'B') ||
    setweight(to_tsvector('english', coalesce(content,'')), 'C')
  ) STORED
);

CREATE INDEX IF NOT EXISTS chunks_file_path_idx ON chunks (file_path);
CREATE INDEX IF NOT EXISTS chunks_source_folder_idx ON chunks (source_folder);
CREATE INDEX IF NOT EXISTS chunks_ts_gin ON chunks USING GIN (ts);

CREATE TABLE IF NOT EXISTS chunk_embeddings (
  chunk_id   TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
  embedding  vector(%d),
  model      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS chunk_embeddings_vec_idx
  ON chunk_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS embedding_cache (
  key          TEXT PRIMARY KEY,
  embedding    REAL[] NOT NULL,
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now(),
  last_used_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS folder_stats (
  path            TEXT PRIMARY KEY,
  file_count      INT NOT NULL DEFAULT 0,
  chunk_count     INT NOT NULL DEFAULT 0,
  last_indexed_at TIMESTAMP WITH TIME ZONE
);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, s.dim))
	return err
}

// UpsertChunks writes a batch of chunks in one round trip.
func (s *Store) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const q = `
		INSERT INTO chunks (id, file_path, file_name, section, content, char_count, source_folder, file_type, mtime)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			file_path     = EXCLUDED.file_path,
			file_name     = EXCLUDED.file_name,
			section       = EXCLUDED.section,
			content       = EXCLUDED.content,
			char_count    = EXCLUDED.char_count,
			source_folder = EXCLUDED.source_folder,
			file_type     = EXCLUDED.file_type,
			mtime         = EXCLUDED.mtime`
	for _, c := range chunks {
		batch.Queue(q, c.ID, c.FilePath, c.FileName, c.Section, c.Content, c.CharCount, c.SourceFolder, c.FileType, c.Mtime)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// DeleteChunksByFile removes a file's chunks; embeddings cascade.
func (s *Store) DeleteChunksByFile(ctx context.Context, path string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE file_path = $1`, path)
	return err
}

// DeleteChunksByFolder removes a root's chunks and its stats row.
func (s *Store) DeleteChunksByFolder(ctx context.Context, folder string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE source_folder = $1`, folder); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM folder_stats WHERE path = $1`, folder)
	return err
}

// DeleteAllChunks clears the whole index.
func (s *Store) DeleteAllChunks(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE chunks CASCADE`)
	return err
}

// UpsertChunkEmbeddings writes a batch of vectors keyed by chunk id.
func (s *Store) UpsertChunkEmbeddings(ctx context.Context, embeddings []models.ChunkEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const q = `
		INSERT INTO chunk_embeddings (chunk_id, embedding, model)
		VALUES ($1,$2,$3)
		ON CONFLICT (chunk_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model     = EXCLUDED.model`
	for _, e := range embeddings {
		batch.Queue(q, e.ChunkID, pgvector.NewVector(s.fit(e.Vector)), e.Model)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// ChunkCount returns the number of persisted chunks.
func (s *Store) ChunkCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n)
	return n, err
}

// UpsertFolderStats replaces the stats row for one indexed root.
func (s *Store) UpsertFolderStats(ctx context.Context, st models.FolderStats) error {
	const q = `
		INSERT INTO folder_stats (path, file_count, chunk_count, last_indexed_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (path) DO UPDATE SET
			file_count      = EXCLUDED.file_count,
			chunk_count     = EXCLUDED.chunk_count,
			last_indexed_at = EXCLUDED.last_indexed_at`
	_, err := s.pool.Exec(ctx, q, st.Path, st.FileCount, st.ChunkCount, st.LastIndexedAt)
	return err
}

// ListFolderStats returns one row per indexed root.
func (s *Store) ListFolderStats(ctx context.Context) ([]models.FolderStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT path, file_count, chunk_count, coalesce(last_indexed_at, 'epoch') FROM folder_stats ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FolderStats
	for rows.Next() {
		var st models.FolderStats
		if err := rows.Scan(&st.Path, &st.FileCount, &st.ChunkCount, &st.LastIndexedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// HybridSearch merges vector similarity and keyword rank into one score per
// chunk. Either signal may be absent: a nil query vector degrades to
// keyword-only, chunks without embeddings rank on keywords alone.
func (s *Store) HybridSearch(ctx context.Context, queryVec []float32, queryText string, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}

	var qv any
	if queryVec != nil {
		v := pgvector.NewVector(s.fit(queryVec))
		qv = v
	}

	const q = `
WITH cand AS (
  SELECT
    c.id, c.file_path, c.file_name, c.section, c.content, c.char_count,
    c.source_folder, c.file_type, coalesce(c.mtime, 'epoch') AS mtime,
    CASE
      WHEN $1::vector IS NULL OR e.embedding IS NULL THEN 0
      ELSE LEAST(GREATEST(1.0 - (e.embedding <=> $1::vector), 0), 1)
    END AS sem,
    LEAST(ts_rank_cd(c.ts, plainto_tsquery('english', $2)), 1) AS lex
  FROM chunks c
  LEFT JOIN chunk_embeddings e ON e.chunk_id = c.id
),
ranked AS (
  SELECT *,
         MAX(sem) OVER() AS max_sem,
         MAX(lex) OVER() AS max_lex
  FROM cand
)
SELECT id, file_path, file_name, section, content, char_count, source_folder, file_type, mtime,
       (0.7 * COALESCE(sem / NULLIF(max_sem, 0), 0) +
        0.3 * COALESCE(lex / NULLIF(max_lex, 0), 0)) AS score
FROM ranked
ORDER BY score DESC
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, qv, queryText, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var c models.Chunk
		var score float64
		if err := rows.Scan(&c.ID, &c.FilePath, &c.FileName, &c.Section, &c.Content,
			&c.CharCount, &c.SourceFolder, &c.FileType, &c.Mtime, &score); err != nil {
			return nil, err
		}
		out = append(out, models.SearchResult{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

// GetCachedEmbedding reads the persistent cache tier and touches the entry
// for eviction ordering.
func (s *Store) GetCachedEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	var vec []float32
	err := s.pool.QueryRow(ctx,
		`UPDATE embedding_cache SET last_used_at = now() WHERE key = $1 RETURNING embedding`, key).Scan(&vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return vec, true, nil
}

// PutCachedEmbedding writes one cache entry; O(1), no eviction on the write
// path.
func (s *Store) PutCachedEmbedding(ctx context.Context, key string, vec []float32) error {
	const q = `
		INSERT INTO embedding_cache (key, embedding)
		VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET
			embedding    = EXCLUDED.embedding,
			last_used_at = now()`
	_, err := s.pool.Exec(ctx, q, key, vec)
	return err
}

// EvictCachedEmbeddings trims the cache to maxEntries, dropping the least
// recently used rows. Called from periodic maintenance.
func (s *Store) EvictCachedEmbeddings(ctx context.Context, maxEntries int) error {
	const q = `
		DELETE FROM embedding_cache
		WHERE key IN (
			SELECT key FROM embedding_cache
			ORDER BY last_used_at DESC
			OFFSET $1
		)`
	_, err := s.pool.Exec(ctx, q, maxEntries)
	return err
}

// fit pads or truncates a vector to the embeddings column dimensionality.
// Fallback vectors (256) and provider vectors can disagree; zero-padding
// keeps same-model comparisons exact and cross-model ones merely useless,
// which they already were.
func (s *Store) fit(vec []float32) []float32 {
	if len(vec) == s.dim {
		return vec
	}
	out := make([]float32, s.dim)
	copy(out, vec)
	return out
}
