package engine

import (
	"context"
	"fmt"

	"github.com/roach88/upkeep/internal/record"
	"github.com/roach88/upkeep/internal/store"
)

// recompute runs one seed: invoke the generator, compare against the
// stored value, persist the outcome, and schedule downstream seeds when
// the value changed.
//
// A generator failure is not a batch failure. The field keeps its stored
// value, gains a stale marker, and propagation past it stops; the rest of
// the batch continues.
func (e *Engine) recompute(ctx context.Context, tx *store.Tx, b *batch, s seed) error {
	spec := s.spec
	rec, ok, err := tx.GetRecord(ctx, spec.Type, s.id)
	if err != nil {
		return fmt.Errorf("recompute %s/%d.%s: %w", spec.Type, s.id, spec.Name, err)
	}
	if !ok {
		// Deleted earlier in this batch. Nothing to maintain, nothing to log.
		e.logger.Debug("seed skipped, record gone",
			"batch", b.token,
			"record", record.Ref{Type: spec.Type, ID: s.id},
			"field", spec.Name,
		)
		return nil
	}

	old, hadOld := rec.Attrs[spec.Name]
	var oldJSON string
	if hadOld {
		data, err := record.MarshalCanonical(old)
		if err != nil {
			return fmt.Errorf("recompute %s: marshal stored value: %w", spec.QualifiedName(), err)
		}
		oldJSON = string(data)
	}

	fn, _ := e.catalog.Get(spec.Generator.Fn)
	view := &txView{tx: tx, graph: e.registry.Graph()}
	value, genErr := fn(ctx, view, rec, spec.Generator.Args)
	if genErr != nil {
		return e.recordFailure(ctx, tx, b, s, oldJSON, genErr)
	}
	b.stats.Recomputed++

	data, err := record.MarshalCanonical(value)
	if err != nil {
		// A generator returning an unmarshalable value is a failure like
		// any other: stored value stays, field goes stale.
		return e.recordFailure(ctx, tx, b, s, oldJSON, fmt.Errorf("value not canonicalizable: %w", err))
	}
	newJSON := string(data)

	if hadOld && oldJSON == newJSON {
		if err := e.clearStale(ctx, tx, s); err != nil {
			return err
		}
		if err := tx.AppendLog(ctx, store.LogEntry{
			BatchToken: b.token,
			Seq:        e.clock.Next(),
			RecordType: spec.Type,
			RecordID:   s.id,
			Field:      spec.Name,
			OldValue:   oldJSON,
			NewValue:   newJSON,
			Changed:    false,
		}); err != nil {
			return fmt.Errorf("recompute %s: %w", spec.QualifiedName(), err)
		}
		e.logger.Debug("field unchanged",
			"batch", b.token,
			"record", rec.Ref(),
			"field", spec.Name,
		)
		return nil
	}

	attrs := rec.Attrs.Clone()
	attrs[spec.Name] = value
	if _, err := tx.UpdateAttrs(ctx, s.id, attrs); err != nil {
		return fmt.Errorf("recompute %s: write: %w", spec.QualifiedName(), err)
	}
	if err := e.clearStale(ctx, tx, s); err != nil {
		return err
	}
	if err := tx.AppendLog(ctx, store.LogEntry{
		BatchToken: b.token,
		Seq:        e.clock.Next(),
		RecordType: spec.Type,
		RecordID:   s.id,
		Field:      spec.Name,
		OldValue:   oldJSON,
		NewValue:   newJSON,
		Changed:    true,
	}); err != nil {
		return fmt.Errorf("recompute %s: %w", spec.QualifiedName(), err)
	}
	b.stats.Changed++
	e.logger.Debug("field updated",
		"batch", b.token,
		"record", rec.Ref(),
		"field", spec.Name,
		"old", oldJSON,
		"new", newJSON,
	)

	// The maintained field may itself be watched by other fields.
	downstream, err := e.seedsForAttrs(ctx, tx, spec.Type, s.id, []string{spec.Name})
	if err != nil {
		return err
	}
	b.add(downstream)
	return nil
}

// recordFailure marks the field stale and logs the failed attempt. The
// stored value stays untouched and nothing propagates downstream.
func (e *Engine) recordFailure(ctx context.Context, tx *store.Tx, b *batch, s seed, oldJSON string, genErr error) error {
	spec := s.spec
	b.stats.Failed++
	e.logger.Warn("generator failed",
		"batch", b.token,
		"record", record.Ref{Type: spec.Type, ID: s.id},
		"field", spec.Name,
		"generator", spec.Generator.Fn,
		"error", genErr,
	)
	if err := tx.MarkStale(ctx, store.StaleField{
		RecordType: spec.Type,
		RecordID:   s.id,
		Field:      spec.Name,
		Reason:     genErr.Error(),
		Seq:        e.clock.Next(),
	}); err != nil {
		return fmt.Errorf("recompute %s: mark stale: %w", spec.QualifiedName(), err)
	}
	if err := tx.AppendLog(ctx, store.LogEntry{
		BatchToken: b.token,
		Seq:        e.clock.Next(),
		RecordType: spec.Type,
		RecordID:   s.id,
		Field:      spec.Name,
		OldValue:   oldJSON,
		Changed:    false,
		Failure:    genErr.Error(),
	}); err != nil {
		return fmt.Errorf("recompute %s: %w", spec.QualifiedName(), err)
	}
	return nil
}

// clearStale drops a stale marker after any successful recomputation,
// whether or not the value moved.
func (e *Engine) clearStale(ctx context.Context, tx *store.Tx, s seed) error {
	if _, err := tx.ClearStale(ctx, s.id, s.spec.Name); err != nil {
		return fmt.Errorf("recompute %s: clear stale: %w", s.spec.QualifiedName(), err)
	}
	return nil
}
