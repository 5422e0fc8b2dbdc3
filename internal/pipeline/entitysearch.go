package pipeline

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/llm"
	"github.com/seanblong/graphrag-query/internal/storage"
)

// EntitySearchStage embeds the query (augmented with high-level keywords
// when available), selects top entityTopK entities by vector similarity
// over entity descriptions, then fans out one goroutine per entity to
// fetch its 1-hop relations, deduplicating the union by normalized pair
// key.
type EntitySearchStage struct {
	Keywords          KeywordSource
	KeywordExtraction bool
	Embedder          llm.Embedder
	VectorStorage     storage.VectorStorage
	GraphStorage      storage.GraphStorage
}

func (s *EntitySearchStage) Name() string { return "EntitySearch" }

func (s *EntitySearchStage) ShouldSkip(pctx *Context) bool { return false }

func (s *EntitySearchStage) Run(ctx context.Context, pctx *Context) error {
	input := pctx.Query
	if s.KeywordExtraction && s.Keywords != nil {
		if !pctx.KeywordsResolved {
			pctx.Keywords = s.Keywords.Extract(ctx, pctx.Query, pctx.Param.ProjectID)
			pctx.KeywordsResolved = true
		}
		if len(pctx.Keywords.HighLevelKeywords) > 0 {
			input = pctx.Query + " " + strings.Join(pctx.Keywords.HighLevelKeywords, " ")
		}
	}

	embedding, err := s.Embedder.EmbedSingle(ctx, input)
	if err != nil {
		return err
	}

	topK := pctx.Param.TopK
	hits, err := s.VectorStorage.Query(ctx, embedding, topK, storage.VectorFilter{Type: "entity", ProjectID: pctx.Param.ProjectID})
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		pctx.EntityCandidates = nil
		pctx.RelationCandidates = nil
		return nil
	}

	names := make([]string, 0, len(hits))
	for _, h := range hits {
		names = append(names, h.ID)
	}
	entities, err := s.GraphStorage.GetEntities(ctx, pctx.Param.ProjectID, names)
	if err != nil {
		return err
	}
	pctx.EntityCandidates = entities

	var (
		mu   sync.Mutex
		rels []graphmodel.Relation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(entities))
	for _, e := range entities {
		name := e.Name
		g.Go(func() error {
			found, err := s.GraphStorage.GetRelationsForEntity(gctx, pctx.Param.ProjectID, name)
			if err != nil {
				return err
			}
			mu.Lock()
			rels = append(rels, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	pctx.RelationCandidates = graphmodel.DedupeRelations(rels)
	return nil
}
