package engine

import (
	"context"

	"github.com/roach88/upkeep/internal/store"
)

// processBatch drains the batch inside one transaction. Seeds are dequeued
// in (rank, type, id, field) order; each recomputation may discover
// downstream seeds, which join the same batch. The loop ends when the
// queue is empty or the step quota trips.
func (e *Engine) processBatch(ctx context.Context, tx *store.Tx, b *batch) (BatchStats, error) {
	if len(b.pending) == 0 {
		return b.stats, nil
	}
	e.logger.Debug("propagation batch started",
		"batch", b.token,
		"seeds", len(b.pending),
	)
	for {
		s, ok := b.next(e.registry)
		if !ok {
			break
		}
		b.steps++
		if b.steps > e.maxSteps {
			return b.stats, NewStepsExceeded(b.token, b.steps, e.maxSteps)
		}
		if err := e.recompute(ctx, tx, b, s); err != nil {
			return b.stats, err
		}
	}
	e.logger.Info("propagation batch finished",
		"batch", b.token,
		"steps", b.steps,
		"recomputed", b.stats.Recomputed,
		"changed", b.stats.Changed,
		"failed", b.stats.Failed,
	)
	return b.stats, nil
}
