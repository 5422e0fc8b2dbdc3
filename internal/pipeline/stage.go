package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Stage is one composable step of a retrieval pipeline.
type Stage interface {
	Name() string
	// ShouldSkip reports whether this stage should pass through without
	// doing work for this query's Context.
	ShouldSkip(ctx *Context) bool
	Run(ctx context.Context, pctx *Context) error
}

// Exception wraps a stage failure with the stage's name, per spec.md
// §4.7 ("Stage failure aborts the pipeline with PipelineException").
type Exception struct {
	StageName string
	Cause     error
}

func (e *Exception) Error() string {
	return fmt.Sprintf("pipeline stage %q failed: %v", e.StageName, e.Cause)
}

func (e *Exception) Unwrap() error { return e.Cause }

// Pipeline is an ordered list of stages executed sequentially against a
// shared Context. Stage failure aborts the pipeline immediately; the
// partial Context is never reused by the caller.
type Pipeline struct {
	Stages []Stage
}

// Run executes every stage in declaration order. A skipped stage emits a
// debug log and passes through unmodified.
func (p *Pipeline) Run(ctx context.Context, pctx *Context) error {
	for _, stage := range p.Stages {
		if stage.ShouldSkip(pctx) {
			log.Debug().Str("stage", stage.Name()).Msg("skipping pipeline stage")
			continue
		}
		if err := stage.Run(ctx, pctx); err != nil {
			return &Exception{StageName: stage.Name(), Cause: err}
		}
	}
	return nil
}
