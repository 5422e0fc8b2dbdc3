package pipeline

import (
	"context"
	"testing"

	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/merge"
	"github.com/seanblong/graphrag-query/internal/tokens"
)

func fallbackEstimator() *tokens.Estimator {
	return tokens.NewForTest()
}

// TestMergeStageHardCapOverridesTruncateBudgets reproduces the documented
// precedence: MergeStage's own MaxTokens bounds the merged context even
// when Truncate's per-type budgets summed to a larger number.
func TestMergeStageHardCapOverridesTruncateBudgets(t *testing.T) {
	est := fallbackEstimator()
	item := func(content string) graphmodel.ContextItem {
		return graphmodel.ContextItem{Content: content, Type: graphmodel.ContextItemChunk, Tokens: est.Estimate(content)}
	}

	pctx := &Context{
		TruncatedChunks: []graphmodel.ContextItem{item("aaaaaaaaaa"), item("bbbbbbbbbb"), item("cccccccccc")},
	}
	// Truncate's own chunk budget would have allowed all three (9 tokens
	// worth of content, well under a generous per-type allotment), but
	// MergeStage is configured with a much smaller hard cap.
	stage := &MergeStage{
		Merger:    merge.New(est),
		Order:     graphmodel.MergeOrderChunkEntityRelation,
		MaxTokens: 5,
	}

	if err := stage.Run(context.Background(), pctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pctx.MergedItems) >= len(pctx.TruncatedChunks) {
		t.Fatalf("MergeStage should have truncated below Truncate's candidate count; got %d items", len(pctx.MergedItems))
	}
}

func TestMergeStageOrdering(t *testing.T) {
	est := fallbackEstimator()
	mkItem := func(t graphmodel.ContextItemType, content string) graphmodel.ContextItem {
		return graphmodel.ContextItem{Content: content, Type: t, Tokens: est.Estimate(content)}
	}
	pctx := &Context{
		TruncatedEntities:  []graphmodel.ContextItem{mkItem(graphmodel.ContextItemEntity, "e")},
		TruncatedRelations: []graphmodel.ContextItem{mkItem(graphmodel.ContextItemRelation, "r")},
		TruncatedChunks:    []graphmodel.ContextItem{mkItem(graphmodel.ContextItemChunk, "c")},
	}
	stage := &MergeStage{Merger: merge.New(est), Order: graphmodel.MergeOrderEntityRelationChunk, MaxTokens: 1000}
	if err := stage.Run(context.Background(), pctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pctx.MergedItems) != 3 {
		t.Fatalf("len(MergedItems) = %d, want 3", len(pctx.MergedItems))
	}
	wantOrder := []graphmodel.ContextItemType{graphmodel.ContextItemEntity, graphmodel.ContextItemRelation, graphmodel.ContextItemChunk}
	for i, want := range wantOrder {
		if pctx.MergedItems[i].Type != want {
			t.Fatalf("MergedItems[%d].Type = %v, want %v", i, pctx.MergedItems[i].Type, want)
		}
	}
}
