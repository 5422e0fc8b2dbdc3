package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/seanblong/graphrag-query/internal/chunkselect"
	"github.com/seanblong/graphrag-query/internal/config"
	"github.com/seanblong/graphrag-query/internal/keywords"
	"github.com/seanblong/graphrag-query/internal/llm"
	"github.com/seanblong/graphrag-query/internal/lockregistry"
	"github.com/seanblong/graphrag-query/internal/querycache"
	"github.com/seanblong/graphrag-query/internal/storage/pgvectorstore"
	"github.com/seanblong/graphrag-query/internal/summarize"
	"github.com/seanblong/graphrag-query/internal/tokens"
)

// Built bundles an Engine with collaborators it was wired from: the
// store, already migrated by NewFromConfig, which callers (cmd/api,
// cmd/query) close on exit, and the summarizer the Engine writes
// condensed descriptions back with.
type Built struct {
	Engine     *Engine
	Store      *pgvectorstore.Store
	Summarizer *summarize.Summarizer
}

// NewFromConfig wires an Engine (and its collaborators) the same way for
// every entry point: one LLM client, one store connection, one keyword
// extractor and chunk selector, reused across every query.
func NewFromConfig(ctx context.Context, cfg config.Specification) (*Built, error) {
	store, err := pgvectorstore.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	client, err := newLLMClient(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create LLM client: %w", err)
	}

	if err := store.Migrate(ctx, client.Dim()); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	estimator := tokens.New()
	kw := keywords.New(cfg.Query.KeywordExtraction, client, store)
	selector := chunkselect.NewSelector(cfg.Query.ChunkSelectionStrategy, store)
	cache := querycache.New(store)
	summarizer := summarize.New(estimator, client, store, cfg.Description.SummarizationThreshold, cfg.Description.MaxTokens, cfg.Description.Separator)
	locks := lockregistry.New()

	engine := New(Config{
		Estimator:            estimator,
		Keywords:             kw,
		KeywordExtraction:    cfg.Query.KeywordExtraction,
		Embedder:             client,
		LLM:                  client,
		Selector:             selector,
		VectorStorage:        store,
		GraphStorage:         store,
		Cache:                cache,
		Summarizer:           summarizer,
		Locks:                locks,
		DescriptionSeparator: cfg.Description.Separator,
		Budget: Budget{
			MaxTokens:     cfg.Query.ContextMaxTokens,
			ChunkRatio:    cfg.Query.ChunkBudgetRatio,
			EntityRatio:   cfg.Query.EntityBudgetRatio,
			RelationRatio: cfg.Query.RelationBudgetRatio,
		},
		MixHops:        cfg.Query.MixHops,
		ContextHeaders: cfg.Query.ContextHeaders,
	})

	return &Built{Engine: engine, Store: store, Summarizer: summarizer}, nil
}

// llmDimEmbedder is the subset of llm.Client every provider implements;
// genai and stub both satisfy Client, Embedder, and Dim().
type llmDimEmbedder interface {
	llm.Client
	llm.Embedder
	Dim() int
}

func newLLMClient(ctx context.Context, cfg config.Specification) (llmDimEmbedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "vertexai", "google":
		return llm.NewGenAIClient(ctx, &llm.Config{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.SummaryModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
		})
	case "stub", "":
		return llm.NewStub(cfg.Dim), nil
	default:
		return nil, fmt.Errorf("unsupported provider for the query engine: %s", cfg.Provider)
	}
}
