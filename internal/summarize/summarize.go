// Package summarize implements DescriptionSummarizer (C10): merging
// accumulated entity descriptions into one, via direct or map-reduce LLM
// summarization, cached by content hash.
package summarize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/llm"
	"github.com/seanblong/graphrag-query/internal/storage"
	"github.com/seanblong/graphrag-query/internal/tokens"
)

const systemPrompt = `You are merging multiple descriptions of the same entity into a single coherent description. Do not add facts that are not present in the inputs.`

const batchSize = 5
const directLimit = 10

// Summarizer merges entity descriptions once their combined size passes
// a token threshold, consulting a cache before invoking the LLM.
type Summarizer struct {
	Estimator *tokens.Estimator
	LLM       llm.Client
	L2        storage.ExtractionCacheStorage

	Threshold int
	MaxTokens int
	Separator string
}

// New constructs a Summarizer. L2 may be nil, in which case summaries are
// never cached beyond a single call.
func New(estimator *tokens.Estimator, client llm.Client, l2 storage.ExtractionCacheStorage, threshold, maxTokens int, separator string) *Summarizer {
	return &Summarizer{Estimator: estimator, LLM: client, L2: l2, Threshold: threshold, MaxTokens: maxTokens, Separator: separator}
}

// NeedsSummarization reports whether the combined estimated token count of
// descriptions exceeds the configured threshold.
func (s *Summarizer) NeedsSummarization(descriptions []string) bool {
	if len(descriptions) <= 1 {
		return false
	}
	total := 0
	for _, d := range descriptions {
		total += s.Estimator.Estimate(d)
	}
	return total > s.Threshold
}

// Summarize merges descriptions into one. When len(descriptions) <= 1 or
// the combined size is already within budget, it passes the concatenation
// through unchanged. Otherwise it summarizes directly (<= 10 descriptions)
// or via map-reduce in batches of 5, checking the cache first.
func (s *Summarizer) Summarize(ctx context.Context, entityName, entityType, projectID string, descriptions []string) (string, error) {
	if len(descriptions) <= 1 {
		if len(descriptions) == 1 {
			return descriptions[0], nil
		}
		return "", nil
	}
	if !s.NeedsSummarization(descriptions) {
		return strings.Join(descriptions, s.Separator), nil
	}

	hash := contentHash(entityName, descriptions)
	if s.L2 != nil {
		if entry, err := s.L2.Get(ctx, projectID, graphmodel.CacheTypeSummarization, hash); err == nil && entry != nil {
			return entry.Result, nil
		} else if err != nil {
			log.Debug().Err(err).Msg("summarization cache lookup failed, proceeding without it")
		}
	}

	result, err := s.summarizeUncached(ctx, entityName, entityType, descriptions)
	if err != nil {
		return "", err
	}

	if s.L2 != nil {
		if _, err := s.L2.Store(ctx, projectID, graphmodel.CacheTypeSummarization, "", hash, result, nil); err != nil {
			log.Debug().Err(err).Msg("summarization cache store failed")
		}
	}
	return result, nil
}

func (s *Summarizer) summarizeUncached(ctx context.Context, entityName, entityType string, descriptions []string) (string, error) {
	if len(descriptions) <= directLimit {
		return s.direct(ctx, entityName, entityType, descriptions)
	}
	return s.mapReduce(ctx, entityName, entityType, descriptions)
}

func (s *Summarizer) direct(ctx context.Context, entityName, entityType string, descriptions []string) (string, error) {
	prompt := buildPrompt(entityName, entityType, descriptions)
	resp, err := s.LLM.Apply(ctx, prompt, systemPrompt, llm.CallOptions{OperationType: llm.OperationSummarization})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// mapReduce splits descriptions into batches of batchSize, summarizes
// each in parallel, then recurses on the batch results until they fit
// within the direct limit, followed by a final reduction.
func (s *Summarizer) mapReduce(ctx context.Context, entityName, entityType string, descriptions []string) (string, error) {
	batches := chunk(descriptions, batchSize)
	results := make([]string, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(batches))
	var mu sync.Mutex
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			summary, err := s.direct(gctx, entityName, entityType, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = summary
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if len(results) <= directLimit {
		return s.direct(ctx, entityName, entityType, results)
	}
	return s.mapReduce(ctx, entityName, entityType, results)
}

func chunk(items []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

func buildPrompt(entityName, entityType string, descriptions []string) string {
	var b strings.Builder
	b.WriteString("Entity: ")
	b.WriteString(entityName)
	if entityType != "" {
		b.WriteString(" (")
		b.WriteString(entityType)
		b.WriteString(")")
	}
	b.WriteString("\n\nDescriptions:\n")
	for _, d := range descriptions {
		b.WriteString("- ")
		b.WriteString(d)
		b.WriteString("\n")
	}
	return b.String()
}

func contentHash(entityName string, descriptions []string) string {
	sum := sha256.New()
	sum.Write([]byte(entityName))
	for _, d := range descriptions {
		sum.Write([]byte(d))
	}
	return hex.EncodeToString(sum.Sum(nil))
}
