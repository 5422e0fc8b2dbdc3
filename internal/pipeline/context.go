// Package pipeline implements PipelineStages (C7): a composable,
// sequential chain of stages sharing a per-query Context, plus the BFS
// graph expansion helper (C11) used by the MIX mode executor.
package pipeline

import (
	"github.com/seanblong/graphrag-query/internal/graphmodel"
)

// Context is the mutable, per-query record threaded through pipeline
// stages. It lives only for the duration of one query and must not be
// shared across concurrent queries; concurrent stages within the same
// query (e.g. HYBRID's two legs) must write to disjoint fields and be
// joined before any later stage reads them.
type Context struct {
	Query   string
	Param   graphmodel.QueryParam

	// Populated by keyword extraction, reused by the stages that follow
	// it so it is computed at most once per query.
	Keywords         graphmodel.KeywordResult
	KeywordsResolved bool

	// Not set or read by any stage in this package: chunk and entity vector
	// search embed different input text, so each of those stages computes
	// its own embedding on every run.
	QueryEmbedding []float32

	ChunkCandidates    []graphmodel.SourceChunk
	EntityCandidates   []graphmodel.Entity
	RelationCandidates []graphmodel.Relation

	TruncatedChunks    []graphmodel.ContextItem
	TruncatedEntities  []graphmodel.ContextItem
	TruncatedRelations []graphmodel.ContextItem

	ChunkTokens    int
	EntityTokens   int
	RelationTokens int

	MergedItems []graphmodel.ContextItem

	FinalContext string
	FinalPrompt  string

	AllSources []graphmodel.SourceChunk
	Mode       graphmodel.Mode
}

// TotalTokens returns the sum of the three per-type counters, per
// invariant 4 of the data model (§3).
func (c *Context) TotalTokens() int {
	return c.ChunkTokens + c.EntityTokens + c.RelationTokens
}
