package pipeline

import (
	"context"
	"testing"

	"github.com/seanblong/graphrag-query/internal/chunkselect"
	"github.com/seanblong/graphrag-query/internal/graphmodel"
)

type fakeKeywordSource struct {
	result graphmodel.KeywordResult
}

func (f *fakeKeywordSource) Extract(ctx context.Context, query, projectID string) graphmodel.KeywordResult {
	return f.result
}

type fakeEmbedder struct {
	lastInput string
	vector    []float32
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	f.lastInput = text
	return f.vector, nil
}

type fakeSelector struct {
	chunks []chunkselect.ScoredChunk
}

func (f *fakeSelector) Select(ctx context.Context, embedding []float32, projectID string, topK int, selCtx *chunkselect.SelectionContext) ([]chunkselect.ScoredChunk, error) {
	return f.chunks, nil
}

// TestChunkSearchStageLowLevelKeywordAugmentation reproduces the LOCAL-mode
// embedding input from the MIT abbreviation scenario: the query is
// augmented with low-level keywords only.
func TestChunkSearchStageLowLevelKeywordAugmentation(t *testing.T) {
	kw := &fakeKeywordSource{result: graphmodel.KeywordResult{
		HighLevelKeywords: []string{"ai safety", "policy"},
		LowLevelKeywords:  []string{"mit"},
	}}
	embedder := &fakeEmbedder{vector: []float32{0.1}}
	selector := &fakeSelector{chunks: []chunkselect.ScoredChunk{{ID: "c1", Content: "hello"}}}

	stage := &ChunkSearchStage{
		Keywords:          kw,
		KeywordExtraction: true,
		Embedder:          embedder,
		Selector:          selector,
	}

	pctx := &Context{Query: "What is MIT's stance on AI safety?", Param: graphmodel.QueryParam{ChunkTopK: 5}}
	if err := stage.Run(context.Background(), pctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "What is MIT's stance on AI safety? mit"
	if embedder.lastInput != want {
		t.Fatalf("embedding input = %q, want %q", embedder.lastInput, want)
	}
	if len(pctx.ChunkCandidates) != 1 || pctx.ChunkCandidates[0].ChunkID != "c1" {
		t.Fatalf("ChunkCandidates = %+v", pctx.ChunkCandidates)
	}
	if pctx.ChunkCandidates[0].Type != graphmodel.ChunkTypeChunk {
		t.Fatalf("Type = %v, want chunk", pctx.ChunkCandidates[0].Type)
	}
}

func TestChunkSearchStageNoKeywordExtractionUsesRawQuery(t *testing.T) {
	embedder := &fakeEmbedder{}
	selector := &fakeSelector{}
	stage := &ChunkSearchStage{KeywordExtraction: false, Embedder: embedder, Selector: selector}
	pctx := &Context{Query: "plain query", Param: graphmodel.QueryParam{ChunkTopK: 5}}
	if err := stage.Run(context.Background(), pctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder.lastInput != "plain query" {
		t.Fatalf("embedding input = %q, want raw query", embedder.lastInput)
	}
}

func TestChunkSearchStageReusesResolvedKeywords(t *testing.T) {
	kw := &fakeKeywordSource{result: graphmodel.KeywordResult{LowLevelKeywords: []string{"ignored"}}}
	embedder := &fakeEmbedder{}
	selector := &fakeSelector{}
	stage := &ChunkSearchStage{Keywords: kw, KeywordExtraction: true, Embedder: embedder, Selector: selector}

	pctx := &Context{
		Query:            "q",
		KeywordsResolved: true,
		Keywords:         graphmodel.KeywordResult{LowLevelKeywords: []string{"precomputed"}},
		Param:            graphmodel.QueryParam{ChunkTopK: 5},
	}
	if err := stage.Run(context.Background(), pctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder.lastInput != "q precomputed" {
		t.Fatalf("embedding input = %q, want reuse of precomputed keywords", embedder.lastInput)
	}
}
