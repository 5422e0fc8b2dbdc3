// Package llm defines the LLM and embedding collaborators the retrieval
// core consumes, plus a genai-backed implementation and a stub for tests.
package llm

import "context"

// OperationType tags an LLM call for token-usage accounting.
type OperationType string

const (
	OperationKeywordExtraction OperationType = "KEYWORD_EXTRACTION"
	OperationSummarization     OperationType = "SUMMARIZATION"
	OperationQueryResponse     OperationType = "QUERY_RESPONSE"
)

// CallOptions carries optional per-call metadata.
type CallOptions struct {
	OperationType OperationType
	History       []HistoryTurn
}

// HistoryTurn is one turn of prior conversation supplied to the LLM.
type HistoryTurn struct {
	Role    string
	Content string
}

// Response is the LLM's answer plus token usage, when the backend reports
// it.
type Response struct {
	Text       string
	TokensUsed int
}

// Client is the LLM collaborator: apply(userPrompt, systemPrompt, ...).
type Client interface {
	Apply(ctx context.Context, userPrompt, systemPrompt string, opts CallOptions) (Response, error)
}

// Embedder is the embedding collaborator.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}
