// Package chunkselect implements ChunkSelector (C6): strategy-based
// selection of the top-K chunks for a query embedding, either by raw
// vector similarity or by similarity boosted with entity/relation
// context.
package chunkselect

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/graphrag-query/internal/storage"
)

// ScoredChunk is one selected chunk with its final score.
type ScoredChunk struct {
	ID         string
	Content    string
	Score      float64
	DocumentID string
	ChunkIndex int
}

// SelectionContext supplies the entity/relation signal the weighted
// strategy boosts scores with. A nil SelectionContext is equivalent to
// the vector strategy (no boost).
type SelectionContext struct {
	EntityNames        []string
	RelationKeywords   []string
	EntityChunkWeights map[string]float64
	EntitySourceChunks map[string][]string // entity name -> source chunk ids
}

const (
	EntityBoost          = 0.30
	EntityPartialBoost   = 0.15
	RelationKeywordBoost = 0.20
	SearchMultiplier     = 2
)

// Selector selects top-K chunks from vector storage.
type Selector interface {
	Select(ctx context.Context, queryEmbedding []float32, projectID string, topK int, selCtx *SelectionContext) ([]ScoredChunk, error)
}

// NewSelector resolves a Selector by configuration string, case-insensitive.
// An unknown strategy logs a warning and defaults to "vector".
func NewSelector(strategy string, vs storage.VectorStorage) Selector {
	switch strings.ToLower(strategy) {
	case "weighted":
		return &WeightedSelector{VectorStorage: vs}
	case "vector", "":
		return &VectorSelector{VectorStorage: vs}
	default:
		log.Warn().Str("strategy", strategy).Msg("unknown chunk selection strategy, defaulting to vector")
		return &VectorSelector{VectorStorage: vs}
	}
}

// VectorSelector selects chunks by descending vector similarity alone.
type VectorSelector struct {
	VectorStorage storage.VectorStorage
}

func (s *VectorSelector) Select(ctx context.Context, queryEmbedding []float32, projectID string, topK int, _ *SelectionContext) ([]ScoredChunk, error) {
	results, err := s.VectorStorage.Query(ctx, queryEmbedding, topK, storage.VectorFilter{Type: "chunk", ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	out := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		out = append(out, ScoredChunk{ID: r.ID, Content: r.Content, Score: r.Score, DocumentID: r.DocumentID, ChunkIndex: r.ChunkIndex})
	}
	return out, nil
}

// WeightedSelector boosts vector similarity with entity/relation-keyword
// signal from a SelectionContext. If graph-storage-derived fields in the
// SelectionContext are unavailable (e.g. the caller degraded gracefully
// after a graph storage failure), it behaves like VectorSelector.
type WeightedSelector struct {
	VectorStorage storage.VectorStorage
}

func (s *WeightedSelector) Select(ctx context.Context, queryEmbedding []float32, projectID string, topK int, selCtx *SelectionContext) ([]ScoredChunk, error) {
	candidates, err := s.VectorStorage.Query(ctx, queryEmbedding, topK*SearchMultiplier, storage.VectorFilter{Type: "chunk", ProjectID: projectID})
	if err != nil {
		return nil, err
	}

	if selCtx == nil {
		selCtx = &SelectionContext{}
	}

	entityChunkIDs := make(map[string]struct{})
	for _, ids := range selCtx.EntitySourceChunks {
		for _, id := range ids {
			entityChunkIDs[id] = struct{}{}
		}
	}

	scored := make([]ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		boost := 0.0
		lower := strings.ToLower(c.Content)

		if _, ok := entityChunkIDs[c.ID]; ok {
			boost += EntityBoost
		} else {
			for _, name := range selCtx.EntityNames {
				if name != "" && strings.Contains(lower, strings.ToLower(name)) {
					boost += EntityPartialBoost
					break
				}
			}
		}

		for _, kw := range selCtx.RelationKeywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				boost += RelationKeywordBoost
				break
			}
		}

		if w, ok := selCtx.EntityChunkWeights[c.ID]; ok {
			boost += w
		}

		finalScore := c.Score * (1 + boost)
		scored = append(scored, ScoredChunk{ID: c.ID, Content: c.Content, Score: finalScore, DocumentID: c.DocumentID, ChunkIndex: c.ChunkIndex})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
