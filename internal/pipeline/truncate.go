package pipeline

import (
	"context"
	"fmt"

	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/tokens"
)

// TruncateStage splits a shared token budget across chunk/entity/relation
// ratios and greedily includes candidates, in input order, up to each
// type's allotment.
type TruncateStage struct {
	Estimator     *tokens.Estimator
	MaxTokens     int
	ChunkRatio    float64
	EntityRatio   float64
	RelationRatio float64
}

func (s *TruncateStage) Name() string { return "Truncate" }

func (s *TruncateStage) ShouldSkip(pctx *Context) bool { return false }

func (s *TruncateStage) Run(ctx context.Context, pctx *Context) error {
	chunkBudget, entityBudget, relationBudget := tokens.BudgetAllocation(s.MaxTokens, s.ChunkRatio, s.EntityRatio, s.RelationRatio)

	chunkItems, chunkSources, chunkTokens := s.truncateChunks(pctx.ChunkCandidates, chunkBudget)
	entityItems, entitySources, entityTokens := s.truncateEntities(pctx.EntityCandidates, entityBudget)
	relationItems, relationSources, relationTokens := s.truncateRelations(pctx.RelationCandidates, relationBudget)

	pctx.TruncatedChunks = chunkItems
	pctx.TruncatedEntities = entityItems
	pctx.TruncatedRelations = relationItems
	pctx.ChunkTokens = chunkTokens
	pctx.EntityTokens = entityTokens
	pctx.RelationTokens = relationTokens

	all := make([]graphmodel.SourceChunk, 0, len(chunkSources)+len(entitySources)+len(relationSources))
	all = append(all, chunkSources...)
	all = append(all, entitySources...)
	all = append(all, relationSources...)
	pctx.AllSources = all
	return nil
}

func formatChunk(c graphmodel.SourceChunk) string {
	if c.DocumentID != "" {
		return fmt.Sprintf("[%s] %s", c.DocumentID, c.Content)
	}
	return c.Content
}

func formatEntity(e graphmodel.Entity) string {
	s := e.Name
	if e.Type != "" {
		s += fmt.Sprintf(" (%s)", e.Type)
	}
	if e.Description != "" {
		s += ": " + e.Description
	}
	return s
}

func formatRelation(r graphmodel.Relation) string {
	s := fmt.Sprintf("%s -> %s", r.SrcID, r.TgtID)
	if r.Description != "" {
		s += ": " + r.Description
	}
	return s
}

func (s *TruncateStage) truncateChunks(candidates []graphmodel.SourceChunk, budget int) ([]graphmodel.ContextItem, []graphmodel.SourceChunk, int) {
	var items []graphmodel.ContextItem
	var sources []graphmodel.SourceChunk
	total := 0
	for _, c := range candidates {
		content := formatChunk(c)
		t := s.Estimator.Estimate(content)
		if total+t > budget {
			break
		}
		items = append(items, graphmodel.ContextItem{Content: content, Type: graphmodel.ContextItemChunk, SourceID: c.ChunkID, Tokens: t})
		c.Type = graphmodel.ChunkTypeChunk
		sources = append(sources, c)
		total += t
	}
	return items, sources, total
}

func (s *TruncateStage) truncateEntities(candidates []graphmodel.Entity, budget int) ([]graphmodel.ContextItem, []graphmodel.SourceChunk, int) {
	var items []graphmodel.ContextItem
	var sources []graphmodel.SourceChunk
	total := 0
	for _, e := range candidates {
		content := formatEntity(e)
		t := s.Estimator.Estimate(content)
		if total+t > budget {
			break
		}
		items = append(items, graphmodel.ContextItem{Content: content, Type: graphmodel.ContextItemEntity, SourceID: e.Name, FilePath: e.FilePath, Tokens: t})
		sources = append(sources, graphmodel.SourceChunk{ChunkID: e.Name, Content: content, SourceID: e.Name, Type: graphmodel.ChunkTypeEntity})
		total += t
	}
	return items, sources, total
}

func (s *TruncateStage) truncateRelations(candidates []graphmodel.Relation, budget int) ([]graphmodel.ContextItem, []graphmodel.SourceChunk, int) {
	var items []graphmodel.ContextItem
	var sources []graphmodel.SourceChunk
	total := 0
	for _, r := range candidates {
		content := formatRelation(r)
		t := s.Estimator.Estimate(content)
		if total+t > budget {
			break
		}
		key := r.NormalizedPairKey()
		items = append(items, graphmodel.ContextItem{Content: content, Type: graphmodel.ContextItemRelation, SourceID: key, FilePath: r.FilePath, Tokens: t})
		sources = append(sources, graphmodel.SourceChunk{ChunkID: key, Content: content, SourceID: key, Type: graphmodel.ChunkTypeRelation})
		total += t
	}
	return items, sources, total
}
