package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/seanblong/graphrag-query/internal/graphmodel"
	"github.com/seanblong/graphrag-query/internal/storage"
)

// ExpandGraph performs a BFS from seedIDs out to hops relation-hops,
// fetching each frontier's relations in parallel and deduplicating by
// normalized pair key. It returns the visited id set (as a slice, order
// unspecified) and the deduplicated relations discovered along the way.
func ExpandGraph(ctx context.Context, gs storage.GraphStorage, projectID string, seedIDs []string, hops int) ([]string, []graphmodel.Relation, error) {
	visited := make(map[string]struct{}, len(seedIDs))
	frontier := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if _, ok := visited[id]; !ok {
			visited[id] = struct{}{}
			frontier = append(frontier, id)
		}
	}

	relSeen := make(map[string]graphmodel.Relation)

	for i := 0; i < hops && len(frontier) > 0; i++ {
		var (
			mu      sync.Mutex
			batches = make([][]graphmodel.Relation, len(frontier))
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(len(frontier))
		for idx, id := range frontier {
			idx, id := idx, id
			g.Go(func() error {
				rels, err := gs.GetRelationsForEntity(gctx, projectID, id)
				if err != nil {
					return err
				}
				mu.Lock()
				batches[idx] = rels
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}

		var next []string
		for _, rels := range batches {
			for _, r := range rels {
				key := r.NormalizedPairKey()
				if _, ok := relSeen[key]; !ok {
					relSeen[key] = r
				}
				for _, endpoint := range [2]string{r.SrcID, r.TgtID} {
					if _, ok := visited[endpoint]; !ok {
						visited[endpoint] = struct{}{}
						next = append(next, endpoint)
					}
				}
			}
		}
		frontier = next
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	rels := make([]graphmodel.Relation, 0, len(relSeen))
	for _, r := range relSeen {
		rels = append(rels, r)
	}
	return ids, rels, nil
}
