// Package keywords implements KeywordExtractor (C4): extracting
// {high-level, low-level} keywords from a query via an LLM, with tiered
// L1 (in-memory) / L2 (persistent) caching.
package keywords

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/llm"
	"github.com/seanblong/graphrag-query/internal/storage"
)

// SystemPrompt instructs the LLM to return the two wire-stable keyword
// sections.
const SystemPrompt = `You are a keyword extraction assistant. Given the user's query, extract two kinds of keywords and respond with exactly this format:
HIGH_LEVEL_KEYWORDS: k1, k2, k3
LOW_LEVEL_KEYWORDS: e1, e2, e3

High-level keywords capture overarching themes or relationships. Low-level keywords identify specific entities or details. If a section has no keywords, write "none" for that section.`

var (
	highLevelPattern = regexp.MustCompile(`(?i)HIGH_LEVEL_KEYWORDS:\s*(.*)`)
	lowLevelPattern  = regexp.MustCompile(`(?i)LOW_LEVEL_KEYWORDS:\s*(.*)`)
)

const (
	l1TTL          = 5 * time.Minute
	l1MaxEntries   = 1000
	l1LowWaterMark = 500
)

type l1Entry struct {
	result    graphmodel.KeywordResult
	expiresAt time.Time
}

// Extractor extracts and caches keywords for a query.
type Extractor struct {
	Enabled bool
	LLM     llm.Client
	L2      storage.ExtractionCacheStorage

	mu sync.Mutex
	l1 map[string]l1Entry
}

// New constructs an Extractor. L2 may be nil, in which case only the L1
// cache is consulted and extraction results are never persisted beyond
// the process.
func New(enabled bool, client llm.Client, l2 storage.ExtractionCacheStorage) *Extractor {
	return &Extractor{
		Enabled: enabled,
		LLM:     client,
		L2:      l2,
		l1:      make(map[string]l1Entry),
	}
}

func queryHash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

func cacheKey(projectID, hash string) string {
	if projectID == "" {
		projectID = "global"
	}
	return projectID + ":" + hash
}

// GetCached looks up a previously extracted KeywordResult without
// invoking the LLM. It checks L1 then L2.
func (e *Extractor) GetCached(ctx context.Context, queryHashHex, projectID string) (graphmodel.KeywordResult, bool) {
	key := cacheKey(projectID, queryHashHex)
	if r, ok := e.getL1(key); ok {
		return r, true
	}
	if e.L2 == nil {
		return graphmodel.KeywordResult{}, false
	}
	entry, err := e.L2.Get(ctx, projectID, graphmodel.CacheTypeKeywordExtraction, queryHashHex)
	if err != nil {
		log.Debug().Err(err).Msg("keyword L2 cache lookup failed, treating as miss")
		return graphmodel.KeywordResult{}, false
	}
	if entry == nil {
		return graphmodel.KeywordResult{}, false
	}
	result := parseKeywordResult(entry.Result)
	result.QueryHash = queryHashHex
	e.putL1(key, result)
	return result, true
}

// Extract resolves the keywords for query, consulting L1 then L2 before
// invoking the LLM. Extraction failures are swallowed and reported as an
// empty KeywordResult; they are never propagated to the caller.
func (e *Extractor) Extract(ctx context.Context, query, projectID string) graphmodel.KeywordResult {
	if !e.Enabled {
		return graphmodel.KeywordResult{}
	}

	hash := queryHash(query)
	if cached, ok := e.GetCached(ctx, hash, projectID); ok {
		return cached
	}

	if e.LLM == nil {
		return graphmodel.KeywordResult{QueryHash: hash}
	}

	resp, err := e.LLM.Apply(ctx, query, SystemPrompt, llm.CallOptions{OperationType: llm.OperationKeywordExtraction})
	if err != nil {
		log.Warn().Err(err).Msg("keyword extraction LLM call failed, returning empty result")
		return graphmodel.KeywordResult{QueryHash: hash}
	}

	result := parseKeywordResult(resp.Text)
	result.QueryHash = hash

	key := cacheKey(projectID, hash)
	e.putL1(key, result)
	if e.L2 != nil {
		tokens := resp.TokensUsed
		if _, err := e.L2.Store(ctx, projectID, graphmodel.CacheTypeKeywordExtraction, "", hash, resp.Text, &tokens); err != nil {
			log.Debug().Err(err).Msg("keyword L2 cache store failed, proceeding without persistence")
		}
	}
	return result
}

func parseKeywordResult(text string) graphmodel.KeywordResult {
	return graphmodel.KeywordResult{
		HighLevelKeywords: parseSection(highLevelPattern, text),
		LowLevelKeywords:  parseSection(lowLevelPattern, text),
	}
}

func parseSection(pattern *regexp.Regexp, text string) []string {
	m := pattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return nil
	}
	line := strings.TrimSpace(m[1])
	// Only take up to the end of line, in case the pattern matched
	// across a multi-line response.
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if strings.EqualFold(line, "none") || line == "" {
		return nil
	}
	parts := strings.Split(line, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || p == "none" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (e *Extractor) getL1(key string) (graphmodel.KeywordResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.l1[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return graphmodel.KeywordResult{}, false
	}
	return entry.result, true
}

func (e *Extractor) putL1(key string, result graphmodel.KeywordResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.l1[key] = l1Entry{result: result, expiresAt: time.Now().Add(l1TTL)}
	if len(e.l1) >= l1MaxEntries {
		e.evictLocked()
	}
}

// evictLocked removes all expired entries, then — if still over the
// low-water mark — removes the oldest-expiring entries until at
// l1LowWaterMark. Caller must hold e.mu.
func (e *Extractor) evictLocked() {
	now := time.Now()
	for k, v := range e.l1 {
		if now.After(v.expiresAt) {
			delete(e.l1, k)
		}
	}
	if len(e.l1) <= l1LowWaterMark {
		return
	}
	all := make([]l1EvictCandidate, 0, len(e.l1))
	for k, v := range e.l1 {
		all = append(all, l1EvictCandidate{key: k, exp: v.expiresAt})
	}
	sortByExpiry(all)
	for _, entry := range all {
		if len(e.l1) <= l1LowWaterMark {
			break
		}
		delete(e.l1, entry.key)
	}
}

// l1EvictCandidate is a (key, expiry) pair considered for eviction once
// the L1 cache is over its low-water mark.
type l1EvictCandidate struct {
	key string
	exp time.Time
}

func sortByExpiry(all []l1EvictCandidate) {
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].exp.Before(all[j-1].exp); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
}
