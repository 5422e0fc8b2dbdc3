// Package tokens implements the retrieval core's token accounting:
// estimating, truncating, and splitting text to a budget.
package tokens

import (
	"errors"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// ErrInvalidArgument is returned for malformed inputs such as an overlap
// that is not smaller than the requested budget.
var ErrInvalidArgument = errors.New("tokens: invalid argument")

var sentenceBoundary = regexp.MustCompile(`(?:[.!?])\s+`)

// Estimator counts tokens in text and truncates/splits it to a budget.
// It prefers a cl100k_base-compatible BPE tokenizer and falls back to a
// character-based heuristic when one isn't available.
type Estimator struct {
	enc         *tiktoken.Tiktoken
	usingNative bool
	once        sync.Once
}

// New constructs an Estimator. Tokenizer availability is probed once, on
// first use, not at construction — this lets tests build an Estimator
// without requiring the tiktoken BPE data to be reachable.
func New() *Estimator {
	return &Estimator{}
}

// NewForTest returns an Estimator with native tokenizer probing already
// marked done, so Estimate always takes the character-heuristic fallback
// path. Used by other packages' tests that need deterministic token
// counts without depending on the tiktoken BPE data being reachable.
func NewForTest() *Estimator {
	e := &Estimator{}
	e.once.Do(func() {})
	return e
}

func (e *Estimator) init() {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("cl100k_base tokenizer unavailable, falling back to character heuristic")
			e.usingNative = false
			return
		}
		e.enc = enc
		e.usingNative = true
	})
}

// Estimate returns the token count of text.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	e.init()
	if e.usingNative {
		return len(e.enc.Encode(text, nil, nil))
	}
	return int(math.Ceil(float64(len(text)) / 4.0))
}

// TruncateToLimit truncates text so that Estimate(result) <= maxTokens,
// appending "..." only when truncation actually occurred (and reserving
// one token of the budget for it).
func (e *Estimator) TruncateToLimit(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if e.Estimate(text) <= maxTokens {
		return text
	}
	e.init()
	const ellipsis = "..."
	budget := maxTokens - 1
	if budget <= 0 {
		return ellipsis
	}
	if e.usingNative {
		ids := e.enc.Encode(text, nil, nil)
		if len(ids) <= budget {
			return text + ellipsis
		}
		truncated := e.enc.Decode(ids[:budget])
		return truncated + ellipsis
	}
	maxChars := budget * 4
	if maxChars >= len(text) {
		return text + ellipsis
	}
	return text[:maxChars] + ellipsis
}

// ChunkText splits text into an ordered sequence of chunks, each within
// maxTokens, preferring sentence-boundary splits. overlap tokens of the
// previous chunk are reused at the start of the next.
func (e *Estimator) ChunkText(text string, maxTokens, overlap int) ([]string, error) {
	if overlap >= maxTokens {
		return nil, ErrInvalidArgument
	}
	if text == "" {
		return nil, nil
	}
	e.init()

	sentences := splitSentences(text)
	var chunks []string
	var current strings.Builder
	var currentTokens int

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(current.String()))
		current.Reset()
		currentTokens = 0
	}

	carryOverlap := func(prev string) {
		if overlap <= 0 || prev == "" {
			return
		}
		tail := e.lastTokens(prev, overlap)
		if tail == "" {
			return
		}
		current.WriteString(tail)
		currentTokens = e.Estimate(tail)
	}

	for _, sentence := range sentences {
		st := e.Estimate(sentence)
		if st > maxTokens {
			// A single sentence exceeds the budget: recurse into a
			// token/character split of just this sentence.
			flush()
			pieces := e.splitOversized(sentence, maxTokens)
			for i, p := range pieces {
				if i > 0 && overlap > 0 {
					carryOverlap(pieces[i-1])
					current.WriteString(p)
					chunks = append(chunks, strings.TrimSpace(current.String()))
					current.Reset()
					currentTokens = 0
					continue
				}
				chunks = append(chunks, strings.TrimSpace(p))
			}
			continue
		}
		if currentTokens+st > maxTokens {
			prev := current.String()
			flush()
			carryOverlap(prev)
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
		currentTokens += st
	}
	flush()
	return chunks, nil
}

// splitOversized splits a single too-long sentence into token- or
// character-based pieces, each within maxTokens.
func (e *Estimator) splitOversized(sentence string, maxTokens int) []string {
	if !e.usingNative {
		maxChars := maxTokens * 4
		var pieces []string
		for len(sentence) > 0 {
			if len(sentence) <= maxChars {
				pieces = append(pieces, sentence)
				break
			}
			pieces = append(pieces, sentence[:maxChars])
			sentence = sentence[maxChars:]
		}
		return pieces
	}
	ids := e.enc.Encode(sentence, nil, nil)
	var pieces []string
	for len(ids) > 0 {
		n := maxTokens
		if n > len(ids) {
			n = len(ids)
		}
		pieces = append(pieces, e.enc.Decode(ids[:n]))
		ids = ids[n:]
	}
	return pieces
}

// lastTokens returns the final n tokens worth of text from s.
func (e *Estimator) lastTokens(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	if e.usingNative {
		ids := e.enc.Encode(s, nil, nil)
		if len(ids) <= n {
			return s
		}
		return e.enc.Decode(ids[len(ids)-n:])
	}
	maxChars := n * 4
	if maxChars >= len(s) {
		return s
	}
	return s[len(s)-maxChars:]
}

func splitSentences(text string) []string {
	locs := sentenceBoundary.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	var out []string
	start := 0
	for _, loc := range locs {
		out = append(out, text[start:loc[1]])
		start = loc[1]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return trimEmpty(out)
}

func trimEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// BudgetAllocation splits maxTokens across chunk/entity/relation ratios.
// Ratios that do not sum to ~1.0 (±0.01) are logged as a warning but the
// allocation still proceeds using the ratios as given.
func BudgetAllocation(maxTokens int, chunkRatio, entityRatio, relationRatio float64) (chunkTokens, entityTokens, relationTokens int) {
	sum := chunkRatio + entityRatio + relationRatio
	if math.Abs(sum-1.0) > 0.01 {
		log.Warn().Float64("sum", sum).Msg("budget ratios do not sum to 1.0, proceeding anyway")
	}
	chunkTokens = int(math.Round(float64(maxTokens) * chunkRatio))
	entityTokens = int(math.Round(float64(maxTokens) * entityRatio))
	relationTokens = maxTokens - chunkTokens - entityTokens
	if relationTokens < 0 {
		relationTokens = 0
	}
	return chunkTokens, entityTokens, relationTokens
}
