package pipeline

import (
	"context"
	"strings"

	"github.com/seanblong/graphrag-query/internal/lockregistry"
	"github.com/seanblong/graphrag-query/internal/storage"
	"github.com/seanblong/graphrag-query/internal/summarize"
)

// DescriptionSummarizer is the subset of summarize.Summarizer this stage
// needs, so tests can substitute a fake.
type DescriptionSummarizer interface {
	NeedsSummarization(descriptions []string) bool
	Summarize(ctx context.Context, entityName, entityType, projectID string, descriptions []string) (string, error)
}

var _ DescriptionSummarizer = (*summarize.Summarizer)(nil)

// DescriptionCondenseStage collapses an entity's accumulated description
// (ingestion appends new fragments separated by Separator) down to one
// coherent description whenever it grows past the summarizer's threshold,
// writing the condensed form back under the entity's name lock.
type DescriptionCondenseStage struct {
	Summarizer   DescriptionSummarizer
	GraphStorage storage.GraphStorage
	Locks        *lockregistry.Registry
	Separator    string
}

func (s *DescriptionCondenseStage) Name() string { return "DescriptionCondense" }

func (s *DescriptionCondenseStage) ShouldSkip(pctx *Context) bool {
	return s.Summarizer == nil || len(pctx.EntityCandidates) == 0
}

func (s *DescriptionCondenseStage) Run(ctx context.Context, pctx *Context) error {
	for i, ent := range pctx.EntityCandidates {
		parts := strings.Split(ent.Description, s.Separator)
		if !s.Summarizer.NeedsSummarization(parts) {
			continue
		}

		condensed, err := s.Summarizer.Summarize(ctx, ent.Name, ent.Type, pctx.Param.ProjectID, parts)
		if err != nil {
			return err
		}

		lock := s.Locks.GetLock(strings.ToLower(ent.Name))
		lock.Lock()
		writeErr := s.GraphStorage.UpsertEntityDescription(ctx, pctx.Param.ProjectID, ent.Name, ent.Type, condensed)
		lock.Unlock()
		if writeErr != nil {
			return writeErr
		}

		pctx.EntityCandidates[i].Description = condensed
	}
	return nil
}
