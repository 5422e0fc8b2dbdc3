package llm

import "context"

// Stub is a deterministic Client+Embedder for tests, mirroring the
// teacher's StubClient.
type Stub struct {
	EmbedDim  int
	ApplyFunc func(ctx context.Context, userPrompt, systemPrompt string, opts CallOptions) (Response, error)
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

// NewStub constructs a Stub embedding to the given dimension.
func NewStub(dim int) *Stub {
	return &Stub{EmbedDim: dim}
}

func (s *Stub) Apply(ctx context.Context, userPrompt, systemPrompt string, opts CallOptions) (Response, error) {
	if s.ApplyFunc != nil {
		return s.ApplyFunc(ctx, userPrompt, systemPrompt, opts)
	}
	return Response{Text: "stub answer"}, nil
}

func (s *Stub) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if s.EmbedFunc != nil {
		return s.EmbedFunc(ctx, text)
	}
	return make([]float32, s.EmbedDim), nil
}

// Dim returns the embedding dimension.
func (s *Stub) Dim() int { return s.EmbedDim }
