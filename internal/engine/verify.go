package engine

import (
	"context"
	"sort"

	"github.com/roach88/upkeep/internal/record"
	"github.com/roach88/upkeep/internal/schema"
	"github.com/roach88/upkeep/internal/store"
)

// Divergence is one maintained field whose stored value disagrees with a
// fresh run of its generator, or whose state needs attention (stale marker,
// generator failure). Values are canonical JSON; empty means absent.
type Divergence struct {
	Ref      record.Ref `json:"ref"`
	Field    string     `json:"field"`
	Stored   string     `json:"stored,omitempty"`
	Computed string     `json:"computed,omitempty"`
	Stale    bool       `json:"stale,omitempty"`
	Failure  string     `json:"failure,omitempty"`
}

// Verify recomputes every maintained field in the store fresh, against
// current data, and reports each field that diverges from its stored
// value, fails to compute, or carries a stale marker. Nothing is written;
// the sweep runs in one transaction that is always rolled back.
//
// Generators read sibling maintained fields at their stored values, the
// same way propagation does. An empty result means the consistency
// invariant holds record by record.
func (e *Engine) Verify(ctx context.Context) ([]Divergence, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	specsByType := make(map[string][]*schema.FieldSpec)
	for _, spec := range e.registry.AllSpecs() {
		specsByType[spec.Type] = append(specsByType[spec.Type], spec)
	}
	types := make([]string, 0, len(specsByType))
	for typ := range specsByType {
		types = append(types, typ)
	}
	sort.Strings(types)

	view := &txView{tx: tx, graph: e.registry.Graph()}
	var out []Divergence
	for _, typ := range types {
		specs := specsByType[typ]
		sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

		recs, err := tx.RecordsOfType(ctx, typ)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			for _, spec := range specs {
				d, flagged, err := e.checkField(ctx, tx, view, rec, spec)
				if err != nil {
					return nil, err
				}
				if flagged {
					out = append(out, d)
				}
			}
		}
	}
	return out, nil
}

func (e *Engine) checkField(ctx context.Context, tx *store.Tx, view *txView, rec record.Record, spec *schema.FieldSpec) (Divergence, bool, error) {
	d := Divergence{Ref: rec.Ref(), Field: spec.Name}

	stored, had := rec.Attrs[spec.Name]
	if had {
		data, err := record.MarshalCanonical(stored)
		if err != nil {
			return Divergence{}, false, err
		}
		d.Stored = string(data)
	}
	if _, stale, err := tx.IsStale(ctx, rec.ID, spec.Name); err != nil {
		return Divergence{}, false, err
	} else if stale {
		d.Stale = true
	}

	fn, _ := e.catalog.Get(spec.Generator.Fn)
	fresh, genErr := fn(ctx, view, rec, spec.Generator.Args)
	if genErr != nil {
		d.Failure = genErr.Error()
		return d, true, nil
	}
	data, err := record.MarshalCanonical(fresh)
	if err != nil {
		return Divergence{}, false, err
	}
	d.Computed = string(data)

	flagged := !had || d.Stored != d.Computed || d.Stale
	return d, flagged, nil
}
