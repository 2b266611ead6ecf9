package engine

import (
	"github.com/roach88/upkeep/internal/schema"
)

// seed is one pending recomputation: the named maintained field on one
// record. Seeds are value keys; a map of them deduplicates multi-path
// discovery for free.
type seed struct {
	spec *schema.FieldSpec
	id   int64
}

// batch is the bookkeeping for one propagation run. Created per mutation
// (immediate mode) or per flush (deferred mode), discarded after use.
// Never shared across units of work.
type batch struct {
	token   string
	pending map[seed]struct{}
	// visited holds every seed already dequeued. At most one
	// recomputation per (record, field) per batch, however many paths
	// rediscover it.
	visited map[seed]struct{}
	steps   int
	stats   BatchStats
}

func newBatch(token string, seeds []seed) *batch {
	b := &batch{
		token:   token,
		pending: make(map[seed]struct{}, len(seeds)),
		visited: make(map[seed]struct{}),
	}
	b.stats.Token = token
	b.add(seeds)
	return b
}

// add schedules seeds that have not already been processed this batch.
func (b *batch) add(seeds []seed) {
	for _, s := range seeds {
		if _, done := b.visited[s]; done {
			continue
		}
		b.pending[s] = struct{}{}
	}
}

// next dequeues the lowest pending seed by (rank, type, id, field) and
// marks it visited. ok is false when nothing is pending.
//
// Linear scan: batches are small and the total order must hold even as
// discovered seeds join mid-run, so a scan beats maintaining a heap.
func (b *batch) next(reg *schema.Registry) (seed, bool) {
	var (
		best  seed
		found bool
	)
	for s := range b.pending {
		if !found || seedLess(reg, s, best) {
			best = s
			found = true
		}
	}
	if !found {
		return seed{}, false
	}
	delete(b.pending, best)
	b.visited[best] = struct{}{}
	return best, true
}

// seedLess orders seeds by (dependency rank, record type, record id,
// field name), ascending. Lowest record identity wins among peers.
func seedLess(reg *schema.Registry, a, b seed) bool {
	ra := reg.Rank(a.spec.Type, a.spec.Name)
	rb := reg.Rank(b.spec.Type, b.spec.Name)
	if ra != rb {
		return ra < rb
	}
	if a.spec.Type != b.spec.Type {
		return a.spec.Type < b.spec.Type
	}
	if a.id != b.id {
		return a.id < b.id
	}
	return a.spec.Name < b.spec.Name
}

// BatchStats summarizes one propagation run, for Flush callers and logs.
type BatchStats struct {
	// Token identifies the batch in the audit log. Empty when the run
	// had nothing to do.
	Token string
	// Recomputed counts generator invocations that returned a value.
	Recomputed int
	// Changed counts recomputations that wrote a new value.
	Changed int
	// Failed counts generator failures (stale markers written).
	Failed int
}
