package adjudication

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome or failure of one run in a batch.
type BatchItem struct {
	RunID   string
	Outcome *Outcome
	Err     error
}

// Batch adjudicates runIDs with at most workers in flight and returns one
// item per run in input order. A failed run does not stop the batch; only
// cancellation of ctx does.
func (s *Service) Batch(ctx context.Context, runIDs []string, workers int) ([]BatchItem, error) {
	if workers < 1 {
		workers = 1
	}
	items := make([]BatchItem, len(runIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, id := range runIDs {
		items[i].RunID = id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := s.Adjudicate(gctx, id)
			items[i].Outcome, items[i].Err = out, err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return items, err
	}
	if err := ctx.Err(); err != nil {
		return items, err
	}
	s.logger.DebugContext(ctx, "batch adjudicated", "runs", len(runIDs), "workers", workers)
	return items, nil
}
