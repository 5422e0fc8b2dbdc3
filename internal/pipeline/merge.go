package pipeline

import (
	"context"

	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/merge"
)

// MergeStage orders the truncated per-type lists per MergeOrder and fuses
// them round-robin under its own MaxTokens, which is the hard cap for the
// merged context even when TruncateStage's per-type budgets summed to
// more (or less) than MaxTokens.
type MergeStage struct {
	Merger    *merge.Merger
	Order     graphmodel.MergeOrder
	MaxTokens int
}

func (s *MergeStage) Name() string { return "Merge" }

func (s *MergeStage) ShouldSkip(pctx *Context) bool { return false }

func (s *MergeStage) Run(ctx context.Context, pctx *Context) error {
	sources := s.orderedSources(pctx)
	result := s.Merger.Merge(sources, s.MaxTokens)
	pctx.MergedItems = result.IncludedItems
	pctx.FinalContext = result.MergedContext
	return nil
}

func (s *MergeStage) orderedSources(pctx *Context) [][]graphmodel.ContextItem {
	switch s.Order {
	case graphmodel.MergeOrderChunkEntityRelation:
		return [][]graphmodel.ContextItem{pctx.TruncatedChunks, pctx.TruncatedEntities, pctx.TruncatedRelations}
	case graphmodel.MergeOrderRelationEntityChunk:
		return [][]graphmodel.ContextItem{pctx.TruncatedRelations, pctx.TruncatedEntities, pctx.TruncatedChunks}
	case graphmodel.MergeOrderEntityRelationChunk:
		fallthrough
	default:
		return [][]graphmodel.ContextItem{pctx.TruncatedEntities, pctx.TruncatedRelations, pctx.TruncatedChunks}
	}
}
