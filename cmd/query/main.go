package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/seanblong/graphrag-query/internal/config"
	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/query"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("graphrag-query", pflag.ExitOnError)

	projectID := fs.String("project", "", "Project ID to query")
	queryText := fs.String("query", "", "Natural-language question")
	mode := fs.String("mode", string(graphmodel.ModeHybrid), "Retrieval mode (naive|local|global|hybrid|mix)")
	topK := fs.Int("top-k", 0, "Override entity/relation retrieval width (0 = config default)")
	chunkTopK := fs.Int("chunk-top-k", 0, "Override chunk retrieval width (0 = config default)")
	onlyContext := fs.Bool("only-context", false, "Print the assembled context instead of calling the LLM")
	onlyPrompt := fs.Bool("only-prompt", false, "Print the assembled prompt instead of calling the LLM")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	if *projectID == "" || *queryText == "" {
		fs.Usage()
		log.Fatal("--project and --query are required")
	}

	ctx := context.Background()
	built, err := query.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to wire the query engine: %v", err)
	}
	defer built.Store.Close()

	param := graphmodel.QueryParam{
		Mode:            graphmodel.Mode(*mode),
		TopK:            *topK,
		ChunkTopK:       *chunkTopK,
		OnlyNeedContext: *onlyContext,
		OnlyNeedPrompt:  *onlyPrompt,
	}
	if param.TopK == 0 {
		param.TopK = cfg.Query.TopK
	}
	if param.ChunkTopK == 0 {
		param.ChunkTopK = cfg.Query.ChunkTopK
	}

	result, err := built.Engine.Query(ctx, *projectID, *queryText, param)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
}
