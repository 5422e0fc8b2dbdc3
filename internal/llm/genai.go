package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Config holds provider configuration for the genai-backed client,
// generalizing the teacher's ai.ClientConfig to the retrieval core's
// needs (model, project, location, dimension).
type Config struct {
	APIKey     string
	EmbedModel string
	ChatModel  string
	Dim        int
	ProjectID  string
	Location   string
}

// GenAIClient implements Client and Embedder against the Google Gemini
// API, mirroring the teacher's VertexAIClient.
type GenAIClient struct {
	cfg    *Config
	client *genai.Client
}

// NewGenAIClient constructs a GenAIClient, defaulting models and location
// the same way the teacher's NewVertexAIClient does.
func NewGenAIClient(ctx context.Context, cfg *Config) (*GenAIClient, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-005"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gemini-2.0-flash"
	}
	if cfg.Dim == 0 {
		cfg.Dim = 768
	}
	if cfg.Location == "" && strings.TrimSpace(cfg.APIKey) == "" {
		cfg.Location = "us-central1"
	}

	cc := genai.ClientConfig{Backend: genai.BackendVertexAI}
	if strings.TrimSpace(cfg.APIKey) != "" {
		cc.APIKey = cfg.APIKey
	}
	if strings.TrimSpace(cfg.ProjectID) != "" {
		cc.Project = cfg.ProjectID
	}
	if strings.TrimSpace(cfg.Location) != "" {
		cc.Location = cfg.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GenAIClient{cfg: cfg, client: client}, nil
}

// EmbedSingle embeds a single piece of text.
func (c *GenAIClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	cfg := genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}

	res, err := c.client.Models.EmbedContent(ctx, c.cfg.EmbedModel, genai.Text(text), &cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return res.Embeddings[0].Values, nil
}

// Apply calls the chat model with a user prompt, an optional system
// prompt, and optional conversation history.
func (c *GenAIClient) Apply(ctx context.Context, userPrompt, systemPrompt string, opts CallOptions) (Response, error) {
	temp := float32(0.2)
	cfg := genai.GenerateContentConfig{Temperature: &temp}
	if systemPrompt != "" {
		sys := genai.Text(systemPrompt)
		cfg.SystemInstruction = sys[0]
	}

	full := userPrompt
	if len(opts.History) > 0 {
		var b strings.Builder
		for _, turn := range opts.History {
			b.WriteString(turn.Role)
			b.WriteString(": ")
			b.WriteString(turn.Content)
			b.WriteString("\n")
		}
		b.WriteString(userPrompt)
		full = b.String()
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.ChatModel, genai.Text(full), &cfg)
	if err != nil {
		return Response{}, fmt.Errorf("%s call failed: %w", opts.OperationType, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Response{}, errors.New("no response returned")
	}

	text := strings.TrimSpace(string(resp.Candidates[0].Content.Parts[0].Text))
	// Provider-reported usage metadata is not read, so TokensUsed stays zero
	// for this client; no caller estimates the usage in its place.
	return Response{Text: text}, nil
}

// Dim returns the embedding dimension.
func (c *GenAIClient) Dim() int { return c.cfg.Dim }
