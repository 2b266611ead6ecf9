package engine

import (
	"context"
	"fmt"

	"github.com/roach88/upkeep/internal/record"
	"github.com/roach88/upkeep/internal/schema"
	"github.com/roach88/upkeep/internal/store"
)

// txView serves generator reads from the executing transaction. Generators
// see maintained fields at their current stored values; scheduling order
// guarantees upstream fields were recomputed before a dependent generator
// reads them.
type txView struct {
	tx    *store.Tx
	graph *schema.Graph
}

func (v *txView) Record(ctx context.Context, ref record.Ref) (record.Record, bool, error) {
	return v.tx.GetRecord(ctx, ref.Type, ref.ID)
}

// Related resolves rel against the schema so generators name relations the
// way the owning type sees them, in either direction.
func (v *txView) Related(ctx context.Context, ref record.Ref, rel string) ([]record.Record, error) {
	step, ok := v.graph.Step(ref.Type, rel)
	if !ok {
		return nil, fmt.Errorf("type %s has no relation %q", ref.Type, rel)
	}
	return v.tx.RelatedRecords(ctx, ref.ID, step.Edge.Key(), step.Inverted)
}
