// Package query implements ModeExecutors (C8): one executor per retrieval
// mode, the public Engine that dispatches between them, and the response
// cache integration.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/seanblong/graphrag-query/internal/chunkselect"
	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/llm"
	"github.com/seanblong/graphrag-query/internal/lockregistry"
	"github.com/seanblong/graphrag-query/internal/merge"
	"github.com/seanblong/graphrag-query/internal/pipeline"
	"github.com/seanblong/graphrag-query/internal/querycache"
	"github.com/seanblong/graphrag-query/internal/storage"
	"github.com/seanblong/graphrag-query/internal/tokens"
)

// ErrInvalidArgument is returned for empty core inputs.
var ErrInvalidArgument = errors.New("query: invalid argument")

const systemPrompt = `You are a helpful assistant answering questions using only the provided context. If the context does not contain the answer, say so.`

// Budget carries the token-budget ratios applied by TruncateStage.
type Budget struct {
	MaxTokens     int
	ChunkRatio    float64
	EntityRatio   float64
	RelationRatio float64
}

// Config wires every collaborator the Engine needs, independent of mode.
type Config struct {
	Estimator         *tokens.Estimator
	Keywords          pipeline.KeywordSource
	KeywordExtraction bool
	Embedder          llm.Embedder
	LLM               llm.Client
	Selector          chunkselect.Selector
	VectorStorage     storage.VectorStorage
	GraphStorage      storage.GraphStorage
	Cache             *querycache.Cache

	// Summarizer and Locks are optional: when either is nil, resolved
	// entities are used as-is and no write-back occurs.
	Summarizer           pipeline.DescriptionSummarizer
	Locks                *lockregistry.Registry
	DescriptionSeparator string

	Budget         Budget
	MixHops        int
	ContextHeaders bool
}

// Result is the public outcome of a Query call, returned for every mode.
type Result struct {
	Answer       string
	Sources      []graphmodel.SourceChunk
	Mode         graphmodel.Mode
	TotalSources int
}

// Engine is the public query entry point: it dispatches by mode, consults
// the response cache, and holds no per-query state between calls.
type Engine struct {
	cfg Config
}

// New constructs an Engine from a fully wired Config.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Context is the same typed pipeline context every stage shares.
type Context = pipeline.Context

// Query resolves param.Mode's pipeline, consulting the response cache
// first and storing on a cache miss.
func (e *Engine) Query(ctx context.Context, projectID, query string, param graphmodel.QueryParam) (Result, error) {
	if projectID == "" || query == "" {
		return Result{}, ErrInvalidArgument
	}
	param.ProjectID = projectID

	cacheable := e.cfg.Cache != nil && !param.OnlyNeedContext && !param.OnlyNeedPrompt
	if cacheable {
		if entry, ok := e.cfg.Cache.Get(ctx, projectID, query, param.Mode, param.TopK, param.ChunkTopK); ok {
			return Result{Answer: entry.Answer, Mode: graphmodel.Mode(entry.Mode), TotalSources: entry.TotalSources}, nil
		}
	}

	pctx := &Context{Query: query, Param: param, Mode: param.Mode}

	var err error
	switch param.Mode {
	case graphmodel.ModeNaive:
		err = e.runNaive(ctx, pctx)
	case graphmodel.ModeLocal:
		err = e.runLocal(ctx, pctx)
	case graphmodel.ModeGlobal:
		err = e.runGlobal(ctx, pctx)
	case graphmodel.ModeHybrid:
		err = e.runHybrid(ctx, pctx)
	case graphmodel.ModeMix:
		err = e.runMix(ctx, pctx)
	default:
		return Result{}, fmt.Errorf("query: unknown mode %q", param.Mode)
	}
	if err != nil {
		return Result{}, err
	}

	result, err := e.finalize(ctx, pctx)
	if err != nil {
		return Result{}, err
	}

	if cacheable {
		e.cfg.Cache.Store(ctx, projectID, query, param.Mode, param.TopK, param.ChunkTopK, querycache.Entry{
			Answer: result.Answer, Mode: string(result.Mode), TotalSources: result.TotalSources,
		})
	}
	return result, nil
}

// InvalidateCache deletes every cached response for projectID.
func (e *Engine) InvalidateCache(ctx context.Context, projectID string) int {
	if e.cfg.Cache == nil {
		return 0
	}
	return e.cfg.Cache.Invalidate(ctx, projectID)
}

func (e *Engine) finalize(ctx context.Context, pctx *Context) (Result, error) {
	total := len(pctx.AllSources)

	if pctx.Param.OnlyNeedContext {
		return Result{Answer: pctx.FinalContext, Sources: pctx.AllSources, Mode: pctx.Mode, TotalSources: total}, nil
	}
	if pctx.Param.OnlyNeedPrompt {
		return Result{Answer: pctx.FinalPrompt, Sources: pctx.AllSources, Mode: pctx.Mode, TotalSources: total}, nil
	}

	resp, err := e.cfg.LLM.Apply(ctx, pctx.FinalPrompt, systemPrompt, llm.CallOptions{
		OperationType: llm.OperationQueryResponse,
		History:       toHistoryTurns(pctx.Param.ConversationHistory),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Answer: resp.Text, Sources: pctx.AllSources, Mode: pctx.Mode, TotalSources: total}, nil
}

func toHistoryTurns(turns []graphmodel.ConversationTurn) []llm.HistoryTurn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]llm.HistoryTurn, len(turns))
	for i, t := range turns {
		out[i] = llm.HistoryTurn{Role: t.Role, Content: t.Content}
	}
	return out
}

func (e *Engine) chunkSearchStage() *pipeline.ChunkSearchStage {
	return &pipeline.ChunkSearchStage{
		Keywords:          e.cfg.Keywords,
		KeywordExtraction: e.cfg.KeywordExtraction,
		Embedder:          e.cfg.Embedder,
		Selector:          e.cfg.Selector,
	}
}

func (e *Engine) entitySearchStage() *pipeline.EntitySearchStage {
	return &pipeline.EntitySearchStage{
		Keywords:          e.cfg.Keywords,
		KeywordExtraction: e.cfg.KeywordExtraction,
		Embedder:          e.cfg.Embedder,
		VectorStorage:     e.cfg.VectorStorage,
		GraphStorage:      e.cfg.GraphStorage,
	}
}

func (e *Engine) mergeStage(order graphmodel.MergeOrder) *pipeline.MergeStage {
	return &pipeline.MergeStage{Merger: merge.New(e.cfg.Estimator), Order: order, MaxTokens: e.cfg.Budget.MaxTokens}
}

// condenseStage returns a DescriptionCondenseStage, or nil when the
// summarizer or the lock registry is not wired; the mode executors below
// leave a nil stage out of their stage list.
func (e *Engine) condenseStage() *pipeline.DescriptionCondenseStage {
	if e.cfg.Summarizer == nil || e.cfg.Locks == nil {
		return nil
	}
	sep := e.cfg.DescriptionSeparator
	if sep == "" {
		sep = " | "
	}
	return &pipeline.DescriptionCondenseStage{
		Summarizer:   e.cfg.Summarizer,
		GraphStorage: e.cfg.GraphStorage,
		Locks:        e.cfg.Locks,
		Separator:    sep,
	}
}

// runNaive keeps the context chunk-only, capping chunkTopK at 5 (NAIVE's
// cheapest mode never needs the full configured chunkTopK).
func (e *Engine) runNaive(ctx context.Context, pctx *Context) error {
	if pctx.Param.ChunkTopK == 0 || pctx.Param.ChunkTopK > 5 {
		pctx.Param.ChunkTopK = 5
	}

	p := &pipeline.Pipeline{Stages: []pipeline.Stage{
		e.chunkSearchStage(),
		&pipeline.TruncateStage{Estimator: e.cfg.Estimator, MaxTokens: e.cfg.Budget.MaxTokens, ChunkRatio: 0.90, EntityRatio: 0.05, RelationRatio: 0.05},
		e.mergeStage(graphmodel.MergeOrderChunkEntityRelation),
		&pipeline.ContextBuilderStage{GroupByType: false, Headers: e.cfg.ContextHeaders},
	}}
	return p.Run(ctx, pctx)
}

func (e *Engine) runLocal(ctx context.Context, pctx *Context) error {
	p := &pipeline.Pipeline{Stages: []pipeline.Stage{
		e.chunkSearchStage(),
		&pipeline.TruncateStage{Estimator: e.cfg.Estimator, MaxTokens: e.cfg.Budget.MaxTokens, ChunkRatio: 0.90, EntityRatio: 0.05, RelationRatio: 0.05},
		e.mergeStage(graphmodel.MergeOrderChunkEntityRelation),
		&pipeline.ContextBuilderStage{GroupByType: false, Headers: e.cfg.ContextHeaders},
	}}
	return p.Run(ctx, pctx)
}

func (e *Engine) runGlobal(ctx context.Context, pctx *Context) error {
	stages := []pipeline.Stage{e.entitySearchStage()}
	if cs := e.condenseStage(); cs != nil {
		stages = append(stages, cs)
	}
	stages = append(stages,
		&pipeline.TruncateStage{Estimator: e.cfg.Estimator, MaxTokens: e.cfg.Budget.MaxTokens, ChunkRatio: 0.10, EntityRatio: e.cfg.Budget.EntityRatio, RelationRatio: e.cfg.Budget.RelationRatio},
		e.mergeStage(graphmodel.MergeOrderEntityRelationChunk),
		&pipeline.ContextBuilderStage{GroupByType: true, Headers: e.cfg.ContextHeaders},
	)
	p := &pipeline.Pipeline{Stages: stages}
	return p.Run(ctx, pctx)
}

// runHybrid resolves keywords once, then fans ChunkSearch and EntitySearch
// out concurrently; with keywords already resolved both legs write disjoint
// Context fields, so no lock is needed beyond errgroup's join.
func (e *Engine) runHybrid(ctx context.Context, pctx *Context) error {
	if e.cfg.KeywordExtraction && e.cfg.Keywords != nil && !pctx.KeywordsResolved {
		pctx.Keywords = e.cfg.Keywords.Extract(ctx, pctx.Query, pctx.Param.ProjectID)
		pctx.KeywordsResolved = true
	}
	g, gctx := errgroup.WithContext(ctx)
	chunkStage := e.chunkSearchStage()
	entityStage := e.entitySearchStage()
	g.Go(func() error { return chunkStage.Run(gctx, pctx) })
	g.Go(func() error { return entityStage.Run(gctx, pctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	stages := []pipeline.Stage{}
	if cs := e.condenseStage(); cs != nil {
		stages = append(stages, cs)
	}
	stages = append(stages,
		&pipeline.TruncateStage{Estimator: e.cfg.Estimator, MaxTokens: e.cfg.Budget.MaxTokens, ChunkRatio: e.cfg.Budget.ChunkRatio, EntityRatio: e.cfg.Budget.EntityRatio, RelationRatio: e.cfg.Budget.RelationRatio},
		e.mergeStage(graphmodel.MergeOrderChunkEntityRelation),
		&pipeline.ContextBuilderStage{GroupByType: true, Headers: e.cfg.ContextHeaders},
	)
	p := &pipeline.Pipeline{Stages: stages}
	return p.Run(ctx, pctx)
}

// runMix resolves entity vector seeds, then fans the BFS graph expansion
// out concurrently with ChunkSearch (the two legs are independent), joins,
// hydrates the expanded entity set, and merges it with the seed-level
// relations before the sequential Truncate/Merge/ContextBuilder tail.
func (e *Engine) runMix(ctx context.Context, pctx *Context) error {
	entityStage := e.entitySearchStage()
	if err := entityStage.Run(ctx, pctx); err != nil {
		return err
	}

	seeds := make([]string, 0, len(pctx.EntityCandidates))
	for _, ent := range pctx.EntityCandidates {
		seeds = append(seeds, ent.Name)
	}

	hops := e.cfg.MixHops
	if hops <= 0 {
		hops = 1
	}

	var (
		expandedIDs  []string
		expandedRels []graphmodel.Relation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, rels, err := pipeline.ExpandGraph(gctx, e.cfg.GraphStorage, pctx.Param.ProjectID, seeds, hops)
		expandedIDs, expandedRels = ids, rels
		return err
	})
	chunkStage := e.chunkSearchStage()
	g.Go(func() error { return chunkStage.Run(gctx, pctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	if len(expandedIDs) > 0 {
		hydrated, err := e.cfg.GraphStorage.GetEntities(ctx, pctx.Param.ProjectID, expandedIDs)
		if err != nil {
			return err
		}
		pctx.EntityCandidates = dedupeEntities(append(pctx.EntityCandidates, hydrated...))
	}
	pctx.RelationCandidates = graphmodel.DedupeRelations(append(pctx.RelationCandidates, expandedRels...))

	stages := []pipeline.Stage{}
	if cs := e.condenseStage(); cs != nil {
		stages = append(stages, cs)
	}
	stages = append(stages,
		&pipeline.TruncateStage{Estimator: e.cfg.Estimator, MaxTokens: e.cfg.Budget.MaxTokens, ChunkRatio: e.cfg.Budget.ChunkRatio, EntityRatio: e.cfg.Budget.EntityRatio, RelationRatio: e.cfg.Budget.RelationRatio},
		e.mergeStage(graphmodel.MergeOrderEntityRelationChunk),
		&pipeline.ContextBuilderStage{GroupByType: true, Headers: e.cfg.ContextHeaders},
	)
	p := &pipeline.Pipeline{Stages: stages}
	return p.Run(ctx, pctx)
}

func dedupeEntities(entities []graphmodel.Entity) []graphmodel.Entity {
	seen := make(map[string]struct{}, len(entities))
	out := make([]graphmodel.Entity, 0, len(entities))
	for _, ent := range entities {
		key := strings.ToLower(ent.Name) + "::" + ent.TypeKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ent)
	}
	return out
}
