package engine

import (
	"context"
	"fmt"

	"github.com/roach88/upkeep/internal/pathsql"
	"github.com/roach88/upkeep/internal/schema"
	"github.com/roach88/upkeep/internal/store"
)

// seedsForAttrs finds the maintained fields affected by changes to the
// named attributes on one record. Owners along non-empty dependent paths
// are resolved against the link table inside the current transaction, so
// discovery sees the mutation that triggered it.
func (e *Engine) seedsForAttrs(ctx context.Context, tx *store.Tx, typ string, id int64, attrs []string) ([]seed, error) {
	var seeds []seed
	for _, attr := range attrs {
		for _, b := range e.registry.AttrBindings(typ, attr) {
			if len(b.Path) == 0 {
				seeds = append(seeds, seed{spec: b.Spec, id: id})
				continue
			}
			owners, err := e.owners(ctx, tx, b.Path, id)
			if err != nil {
				return nil, fmt.Errorf("owners of %s: %w", b.Spec.QualifiedName(), err)
			}
			for _, owner := range owners {
				seeds = append(seeds, seed{spec: b.Spec, id: owner})
			}
		}
	}
	return seeds, nil
}

// seedsForLink finds the maintained fields affected by creating or removing
// one link of edge. Both directions of the same call: membership changes
// invalidate any field whose dependent path crosses the edge, from either
// side.
func (e *Engine) seedsForLink(ctx context.Context, tx *store.Tx, edge schema.RelationEdge, src, dst int64) ([]seed, error) {
	var seeds []seed
	for _, b := range e.registry.EdgeBindings(edge) {
		// The affected owners reach the link through the step's source
		// side. The prefix walks backward from that endpoint.
		endpoint := src
		if b.Step.Inverted {
			endpoint = dst
		}
		if len(b.Prefix) == 0 {
			seeds = append(seeds, seed{spec: b.Spec, id: endpoint})
			continue
		}
		owners, err := e.owners(ctx, tx, b.Prefix, endpoint)
		if err != nil {
			return nil, fmt.Errorf("owners of %s: %w", b.Spec.QualifiedName(), err)
		}
		for _, owner := range owners {
			seeds = append(seeds, seed{spec: b.Spec, id: owner})
		}
	}
	return seeds, nil
}

// seedsForNewRecord schedules every maintained field a freshly created
// record owns, so initial values are computed in the same batch.
func (e *Engine) seedsForNewRecord(typ string, id int64) []seed {
	specs := e.registry.SpecsFor(typ)
	seeds := make([]seed, 0, len(specs))
	for _, spec := range specs {
		seeds = append(seeds, seed{spec: spec, id: id})
	}
	return seeds
}

func (e *Engine) owners(ctx context.Context, tx *store.Tx, path schema.ResolvedPath, triggerID int64) ([]int64, error) {
	query, params, err := pathsql.Owners(path, triggerID)
	if err != nil {
		return nil, err
	}
	return tx.QueryIDs(ctx, query, params)
}
