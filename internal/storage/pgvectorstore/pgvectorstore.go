// Package pgvectorstore implements the storage collaborators (§6) against
// Postgres + pgvector, generalizing the teacher's internal/store.Store
// (chunk-only vector search) into a schema that also carries graph
// entities, relations, and the persistent extraction cache.
package pgvectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/storage"
)

// Store is a Postgres-backed implementation of VectorStorage,
// GraphStorage, KVStorage, and ExtractionCacheStorage, built around a
// single pgxpool.Pool the way the teacher's Store wraps one.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the given database URL, mirroring teacher's store.New.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Migrate applies the schema: chunks (vector search), entities, relations,
// and the extraction cache, generalizing the teacher's chunks-only DDL.
func (s *Store) Migrate(ctx context.Context, embedDim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  id            TEXT PRIMARY KEY,
  project_id    TEXT NOT NULL,
  document_id   TEXT,
  content       TEXT NOT NULL,
  chunk_index   INT NOT NULL DEFAULT 0,
  embedding     vector(%d),
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now()
);
CREATE INDEX IF NOT EXISTS chunks_project_idx ON chunks (project_id);
CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS entities (
  project_id        TEXT NOT NULL,
  name              TEXT NOT NULL,
  entity_type       TEXT NOT NULL DEFAULT '',
  description       TEXT NOT NULL DEFAULT '',
  source_id         TEXT,
  file_path         TEXT,
  source_chunk_ids  TEXT[] NOT NULL DEFAULT '{}',
  embedding         vector(%d),
  PRIMARY KEY (project_id, name, entity_type)
);
CREATE INDEX IF NOT EXISTS entities_project_idx ON entities (project_id);
CREATE INDEX IF NOT EXISTS entities_embedding_idx ON entities USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS relations (
  project_id   TEXT NOT NULL,
  src_id       TEXT NOT NULL,
  tgt_id       TEXT NOT NULL,
  description  TEXT NOT NULL DEFAULT '',
  keywords     TEXT NOT NULL DEFAULT '',
  weight       DOUBLE PRECISION NOT NULL DEFAULT 0,
  file_path    TEXT,
  PRIMARY KEY (project_id, src_id, tgt_id)
);
CREATE INDEX IF NOT EXISTS relations_project_idx ON relations (project_id);
CREATE INDEX IF NOT EXISTS relations_src_idx ON relations (project_id, src_id);
CREATE INDEX IF NOT EXISTS relations_tgt_idx ON relations (project_id, tgt_id);

CREATE TABLE IF NOT EXISTS extraction_cache (
  project_id    TEXT NOT NULL,
  cache_type    TEXT NOT NULL,
  content_hash  TEXT NOT NULL,
  chunk_id      TEXT,
  result        TEXT NOT NULL,
  tokens_used   INT,
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now(),
  PRIMARY KEY (project_id, cache_type, content_hash)
);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, embedDim, embedDim))
	return err
}

// --- VectorStorage ---

// Query implements storage.VectorStorage, filtered to (type, projectID).
func (s *Store) Query(ctx context.Context, embedding []float32, topK int, filter storage.VectorFilter) ([]storage.VectorSearchResult, error) {
	table := "chunks"
	selectContent := "content"
	selectDoc := "document_id"
	selectIdx := "chunk_index"
	if filter.Type == "entity" {
		table = "entities"
		selectContent = "description"
		selectDoc = "NULL::text"
		selectIdx = "0"
	}

	vec := pgvector.NewVector(embedding)
	args := []any{vec, filter.ProjectID, topK}
	subsetClause := ""
	if len(filter.IDSubset) > 0 {
		subsetClause = " AND id_col = ANY($4)"
		args = append(args, filter.IDSubset)
	}
	q := fmt.Sprintf(`
SELECT id_col, %s, COALESCE(%s, ''), %s,
       1 - (embedding <=> $1) AS score
FROM (SELECT *, %s AS id_col FROM %s WHERE project_id = $2) t
WHERE embedding IS NOT NULL%s
ORDER BY embedding <=> $1
LIMIT $3`, selectContent, selectDoc, selectIdx, idColumn(table), table, subsetClause)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.VectorSearchResult
	for rows.Next() {
		var r storage.VectorSearchResult
		if err := rows.Scan(&r.ID, &r.Content, &r.DocumentID, &r.ChunkIndex, &r.Score); err != nil {
			return nil, err
		}
		r.Type = filter.Type
		out = append(out, r)
	}
	return out, rows.Err()
}

func idColumn(table string) string {
	if table == "entities" {
		return "name"
	}
	return "id"
}

// --- GraphStorage ---

// GetEntities hydrates full Entity records for a set of names.
func (s *Store) GetEntities(ctx context.Context, projectID string, names []string) ([]graphmodel.Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT name, entity_type, description, source_id, file_path, source_chunk_ids
FROM entities
WHERE project_id = $1 AND name = ANY($2)`, projectID, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graphmodel.Entity
	for rows.Next() {
		var e graphmodel.Entity
		var sourceID, filePath *string
		if err := rows.Scan(&e.Name, &e.Type, &e.Description, &sourceID, &filePath, &e.SourceChunkIDs); err != nil {
			return nil, err
		}
		if sourceID != nil {
			e.SourceID = *sourceID
		}
		if filePath != nil {
			e.FilePath = *filePath
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetRelationsForEntity returns every relation touching name, in either
// direction (relations are undirected for traversal purposes).
func (s *Store) GetRelationsForEntity(ctx context.Context, projectID, name string) ([]graphmodel.Relation, error) {
	rows, err := s.pool.Query(ctx, `
SELECT src_id, tgt_id, description, keywords, weight, COALESCE(file_path, '')
FROM relations
WHERE project_id = $1 AND (src_id = $2 OR tgt_id = $2)`, projectID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graphmodel.Relation
	for rows.Next() {
		var r graphmodel.Relation
		if err := rows.Scan(&r.SrcID, &r.TgtID, &r.Description, &r.Keywords, &r.Weight, &r.FilePath); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertEntityDescription replaces the stored description with description,
// inserting a bare entity row when none exists for (projectID, name,
// entityType). The caller holds the entity-name lock for the duration of this call.
func (s *Store) UpsertEntityDescription(ctx context.Context, projectID, name, entityType, description string) error {
	const q = `
INSERT INTO entities (project_id, name, entity_type, description)
VALUES ($1, $2, $3, $4)
ON CONFLICT (project_id, name, entity_type) DO UPDATE SET
  description = EXCLUDED.description`
	_, err := s.pool.Exec(ctx, q, projectID, name, entityType, description)
	return err
}

// --- ExtractionCacheStorage ---

// Get looks up a cache row by its unique key.
func (s *Store) Get(ctx context.Context, projectID string, cacheType graphmodel.CacheType, contentHash string) (*graphmodel.CacheEntry, error) {
	const q = `
SELECT project_id, cache_type, COALESCE(chunk_id, ''), content_hash, result, tokens_used, created_at
FROM extraction_cache
WHERE project_id = $1 AND cache_type = $2 AND content_hash = $3`
	var e graphmodel.CacheEntry
	var ct string
	err := s.pool.QueryRow(ctx, q, projectID, string(cacheType), contentHash).
		Scan(&e.ProjectID, &ct, &e.ChunkID, &e.ContentHash, &e.Result, &e.TokensUsed, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.CacheType = graphmodel.CacheType(ct)
	return &e, nil
}

// Store upserts a cache row, returning its content hash as the cache id
// (the key is already unique and content-addressed).
func (s *Store) Store(ctx context.Context, projectID string, cacheType graphmodel.CacheType, chunkID, contentHash, result string, tokensUsed *int) (string, error) {
	const q = `
INSERT INTO extraction_cache (project_id, cache_type, content_hash, chunk_id, result, tokens_used)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
ON CONFLICT (project_id, cache_type, content_hash) DO UPDATE SET
  result = EXCLUDED.result, tokens_used = EXCLUDED.tokens_used`
	_, err := s.pool.Exec(ctx, q, projectID, string(cacheType), contentHash, chunkID, result, tokensUsed)
	if err != nil {
		return "", err
	}
	return contentHash, nil
}

// DeleteByProject deletes all cache rows for (projectID, cacheType) and
// returns the delete count.
func (s *Store) DeleteByProject(ctx context.Context, projectID string, cacheType graphmodel.CacheType) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM extraction_cache WHERE project_id = $1 AND cache_type = $2`, projectID, string(cacheType))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ContentHash computes the hex-SHA256 used as the cache's content-address.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

var _ storage.VectorStorage = (*Store)(nil)
var _ storage.GraphStorage = (*Store)(nil)
var _ storage.ExtractionCacheStorage = (*Store)(nil)

// kvAdapter adapts the chunks table to KVStorage for chunk-content lookup
// by id, as §6 specifies.
type kvAdapter struct{ pool *pgxpool.Pool }

// KV returns a KVStorage view over this store's chunks table.
func (s *Store) KV() storage.KVStorage { return &kvAdapter{pool: s.pool} }

func (k *kvAdapter) Get(ctx context.Context, key string) (string, error) {
	var content string
	err := k.pool.QueryRow(ctx, `SELECT content FROM chunks WHERE id = $1`, key).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return content, nil
}

func (k *kvAdapter) Keys(ctx context.Context) ([]string, error) {
	rows, err := k.pool.Query(ctx, `SELECT id FROM chunks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var _ storage.KVStorage = (*kvAdapter)(nil)
