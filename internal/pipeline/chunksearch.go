package pipeline

import (
	"context"
	"strings"

	"github.com/seanblong/graphrag-query/internal/chunkselect"
	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/keywords"
	"github.com/seanblong/graphrag-query/internal/llm"
)

// KeywordSource resolves the keywords for a query, shared by
// ChunkSearchStage and EntitySearchStage so extraction runs once.
type KeywordSource interface {
	Extract(ctx context.Context, query, projectID string) graphmodel.KeywordResult
}

var _ KeywordSource = (*keywords.Extractor)(nil)

// ChunkSearchStage embeds the query (optionally augmented with low-level
// keywords) and selects top chunkTopK chunks.
type ChunkSearchStage struct {
	Keywords          KeywordSource
	KeywordExtraction bool
	Embedder          llm.Embedder
	Selector          chunkselect.Selector

	SelectionContextFunc func(pctx *Context) *chunkselect.SelectionContext
}

func (s *ChunkSearchStage) Name() string { return "ChunkSearch" }

func (s *ChunkSearchStage) ShouldSkip(pctx *Context) bool { return false }

func (s *ChunkSearchStage) Run(ctx context.Context, pctx *Context) error {
	input := pctx.Query
	if s.KeywordExtraction && s.Keywords != nil {
		if !pctx.KeywordsResolved {
			pctx.Keywords = s.Keywords.Extract(ctx, pctx.Query, pctx.Param.ProjectID)
			pctx.KeywordsResolved = true
		}
		if len(pctx.Keywords.LowLevelKeywords) > 0 {
			input = pctx.Query + " " + strings.Join(pctx.Keywords.LowLevelKeywords, " ")
		}
	}

	embedding, err := s.Embedder.EmbedSingle(ctx, input)
	if err != nil {
		return err
	}

	var selCtx *chunkselect.SelectionContext
	if s.SelectionContextFunc != nil {
		selCtx = s.SelectionContextFunc(pctx)
	}

	chunkTopK := pctx.Param.ChunkTopK
	results, err := s.Selector.Select(ctx, embedding, pctx.Param.ProjectID, chunkTopK, selCtx)
	if err != nil {
		return err
	}

	candidates := make([]graphmodel.SourceChunk, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, graphmodel.SourceChunk{
			ChunkID:        r.ID,
			Content:        r.Content,
			RelevanceScore: r.Score,
			DocumentID:     r.DocumentID,
			ChunkIndex:     r.ChunkIndex,
			Type:           graphmodel.ChunkTypeChunk,
		})
	}
	pctx.ChunkCandidates = candidates
	return nil
}
