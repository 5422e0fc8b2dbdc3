// Package merge implements round-robin fusion of multiple ranked context
// sources under a shared token budget.
package merge

import (
	"strings"

	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/tokens"
)

const separator = "\n\n"

// Result is the outcome of a Merge call.
type Result struct {
	MergedContext  string
	IncludedItems  []graphmodel.ContextItem
	TotalTokens    int
	ItemsIncluded  int
	ItemsTruncated int
}

// Empty returns the zero-value MergeResult for empty sources or a
// non-positive budget.
func Empty() Result { return Result{} }

// Merger round-robin interleaves ranked lists of ContextItem under a
// shared token budget.
type Merger struct {
	estimator *tokens.Estimator
}

// New constructs a Merger using estimator for separator token accounting.
func New(estimator *tokens.Estimator) *Merger {
	return &Merger{estimator: estimator}
}

// Merge interleaves sources round-robin: for each pass, every source in
// its given order contributes the item at its cursor if it still fits
// within maxTokens; items that don't fit are skipped (cursor still
// advances) so smaller later items can still land. The pass repeats until
// no cursor advances further.
func (m *Merger) Merge(sources [][]graphmodel.ContextItem, maxTokens int) Result {
	total := 0
	for _, s := range sources {
		total += len(s)
	}
	if total == 0 || maxTokens <= 0 {
		return Empty()
	}

	sepTokens := m.estimator.Estimate(separator)
	cursors := make([]int, len(sources))
	var merged strings.Builder
	var included []graphmodel.ContextItem
	totalTokens := 0

	for {
		advanced := false
		for si, src := range sources {
			c := cursors[si]
			if c >= len(src) {
				continue
			}
			advanced = true
			item := src[c]
			cursors[si]++

			needed := item.Tokens
			if merged.Len() > 0 {
				needed += sepTokens
			}
			if totalTokens+needed > maxTokens {
				continue
			}
			if merged.Len() > 0 {
				merged.WriteString(separator)
			}
			merged.WriteString(item.Content)
			included = append(included, item)
			totalTokens += needed
		}
		if !advanced {
			break
		}
	}

	return Result{
		MergedContext:  merged.String(),
		IncludedItems:  included,
		TotalTokens:    totalTokens,
		ItemsIncluded:  len(included),
		ItemsTruncated: total - len(included),
	}
}
