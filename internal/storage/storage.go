// Package storage defines the storage collaborator interfaces the
// retrieval core consumes (§6): key-value, vector, graph, and persistent
// extraction-cache storage. Concrete Postgres-backed implementations live
// in internal/storage/pgvectorstore.
package storage

import (
	"context"

	"github.com/seanblong/graphrag-query/internal/graphmodel"
)

// KVStorage provides raw chunk-content lookup by id.
type KVStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Keys(ctx context.Context) ([]string, error)
}

// VectorFilter narrows a vector search to a type, project, and optionally
// a fixed id subset.
type VectorFilter struct {
	Type      string // "chunk" | "entity"
	ProjectID string
	IDSubset  []string // optional
}

// VectorSearchResult is one hit from VectorStorage.Query, ordered
// descending by Score by the storage implementation.
type VectorSearchResult struct {
	ID         string
	Score      float64
	Content    string
	DocumentID string
	ChunkIndex int
	Type       string
}

// VectorStorage performs cosine-similarity search over embedded content.
type VectorStorage interface {
	Query(ctx context.Context, embedding []float32, topK int, filter VectorFilter) ([]VectorSearchResult, error)
}

// GraphStorage reads and writes knowledge-graph entities and relations.
type GraphStorage interface {
	GetEntities(ctx context.Context, projectID string, names []string) ([]graphmodel.Entity, error)
	GetRelationsForEntity(ctx context.Context, projectID, name string) ([]graphmodel.Relation, error)
	// UpsertEntityDescription stores description as the entity's
	// description, replacing the stored one (used by the summarizer
	// write-back path, which passes the already-merged text). The caller is
	// responsible for holding the appropriate entity-name lock.
	UpsertEntityDescription(ctx context.Context, projectID, name, entityType, description string) error
}

// ExtractionCacheStorage is the persistent (L2) cache for keyword
// extraction, query responses, and summarizations.
type ExtractionCacheStorage interface {
	Get(ctx context.Context, projectID string, cacheType graphmodel.CacheType, contentHash string) (*graphmodel.CacheEntry, error)
	Store(ctx context.Context, projectID string, cacheType graphmodel.CacheType, chunkID, contentHash, result string, tokensUsed *int) (string, error)
	DeleteByProject(ctx context.Context, projectID string, cacheType graphmodel.CacheType) (int, error)
}
