// Package querycache implements QueryResponseCache (C9): a content-hash
// keyed cache over the persistent extraction-cache storage, scoped per
// project, that deliberately drops source chunks to bound storage.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/storage"
)

// Entry is the minimal cached value: source chunks are never cached.
type Entry struct {
	Answer       string `json:"answer"`
	Mode         string `json:"mode"`
	TotalSources int    `json:"totalSources"`
}

// Cache is the persistent query-response cache.
type Cache struct {
	Storage storage.ExtractionCacheStorage
}

// New constructs a Cache. Storage may be nil, in which case every
// operation behaves as a permanent miss / no-op store.
func New(s storage.ExtractionCacheStorage) *Cache {
	return &Cache{Storage: s}
}

// Key returns the SHA-256 hex digest of "{query}|{mode}|{topK}|{chunkTopK}".
// It never includes projectID — projectID is a separate storage dimension.
func Key(query string, mode graphmodel.Mode, topK, chunkTopK int) string {
	raw := fmt.Sprintf("%s|%s|%d|%d", query, mode, topK, chunkTopK)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Get looks up a cached response. Storage failures are logged at debug
// and treated as a miss, never propagated.
func (c *Cache) Get(ctx context.Context, projectID, query string, mode graphmodel.Mode, topK, chunkTopK int) (Entry, bool) {
	if c.Storage == nil {
		return Entry{}, false
	}
	key := Key(query, mode, topK, chunkTopK)
	row, err := c.Storage.Get(ctx, projectID, graphmodel.CacheTypeQueryResponse, key)
	if err != nil {
		log.Debug().Err(err).Msg("query response cache lookup failed, treating as miss")
		return Entry{}, false
	}
	if row == nil {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(row.Result), &entry); err != nil {
		log.Debug().Err(err).Msg("query response cache entry unparseable, treating as miss")
		return Entry{}, false
	}
	return entry, true
}

// Store persists a response. Failures are logged at debug and swallowed.
func (c *Cache) Store(ctx context.Context, projectID, query string, mode graphmodel.Mode, topK, chunkTopK int, entry Entry) {
	if c.Storage == nil {
		return
	}
	key := Key(query, mode, topK, chunkTopK)
	body, err := json.Marshal(entry)
	if err != nil {
		log.Debug().Err(err).Msg("query response cache entry unmarshalable, skipping store")
		return
	}
	if _, err := c.Storage.Store(ctx, projectID, graphmodel.CacheTypeQueryResponse, "", key, string(body), nil); err != nil {
		log.Debug().Err(err).Msg("query response cache store failed")
	}
}

// Invalidate deletes every cached response for projectID and returns the
// delete count. Failures return 0 and log a warning.
func (c *Cache) Invalidate(ctx context.Context, projectID string) int {
	if c.Storage == nil {
		return 0
	}
	n, err := c.Storage.DeleteByProject(ctx, projectID, graphmodel.CacheTypeQueryResponse)
	if err != nil {
		log.Warn().Err(err).Str("project_id", projectID).Msg("query response cache invalidation failed")
		return 0
	}
	return n
}
