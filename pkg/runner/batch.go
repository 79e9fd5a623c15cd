package runner

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/pagehand/pkg/types"
)

// OpenFunc opens a page for the task at index. events must reach the
// engine driving the page. The returned close func releases it.
type OpenFunc func(ctx context.Context, index int, events types.EventSink) (Hand, func() error, error)

// RunAll runs every runner on its own page, at most limit at a time. The
// summaries are indexed like runners; a runner whose page could not be
// opened has a nil summary. The first failure is returned after all runs
// finish.
func RunAll(ctx context.Context, runners []*Runner, limit int, open OpenFunc) ([]*ExecutionSummary, error) {
	summaries := make([]*ExecutionSummary, len(runners))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, r := range runners {
		g.Go(func() error {
			hand, release, err := open(ctx, i, r.EventSink())
			if err != nil {
				return fmt.Errorf("task %d: failed to open page: %w", i+1, err)
			}
			defer func() {
				if cerr := release(); cerr != nil {
					r.logger.Warnf("Failed to release page of task %d: %v", i+1, cerr)
				}
			}()

			summary, err := r.Run(ctx, hand)
			summaries[i] = summary
			if err != nil {
				return fmt.Errorf("task %d: %w", i+1, err)
			}
			return nil
		})
	}
	return summaries, g.Wait()
}
