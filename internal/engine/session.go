package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/upkeep/internal/record"
	"github.com/roach88/upkeep/internal/schema"
	"github.com/roach88/upkeep/internal/store"
)

// Session is one unit of work: a store transaction plus the propagation
// state riding along with it. Mutations, the recomputations they trigger,
// and the audit rows they write all commit or roll back together.
//
// A session is single-goroutine. Open with Engine.Begin, finish with
// Commit or Rollback.
type Session struct {
	engine *Engine
	tx     *store.Tx
	mode   Mode

	// queue holds seeds accumulated in deferred mode until Flush.
	queue []seed

	// aborted is the first post-write failure. Once set, the session
	// refuses further work and Commit rolls back: a mutation whose
	// propagation never ran must not become durable.
	aborted error
	closed  bool
}

// Begin opens a session in immediate mode.
func (e *Engine) Begin(ctx context.Context) (*Session, error) {
	return e.BeginWithMode(ctx, ModeImmediate)
}

// BeginWithMode opens a session with an explicit starting mode.
func (e *Engine) BeginWithMode(ctx context.Context, mode Mode) (*Session, error) {
	if err := ValidateMode(string(mode)); err != nil {
		return nil, err
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{engine: e, tx: tx, mode: NormalizeMode(string(mode))}, nil
}

// Mode returns the session's current propagation mode.
func (s *Session) Mode() Mode {
	return s.mode
}

// WithMode runs fn with the propagation mode switched, restoring the
// previous mode on every exit path. Nests.
func (s *Session) WithMode(mode Mode, fn func() error) error {
	if err := ValidateMode(string(mode)); err != nil {
		return err
	}
	prev := s.mode
	s.mode = NormalizeMode(string(mode))
	defer func() { s.mode = prev }()
	return fn()
}

func (s *Session) usable() error {
	if s.closed {
		return fmt.Errorf("session is closed")
	}
	if s.aborted != nil {
		return fmt.Errorf("session aborted by earlier failure: %w", s.aborted)
	}
	return nil
}

// Err reports the failure that poisoned the session, if any. A poisoned
// session rejects further mutations and rolls back on Commit.
func (s *Session) Err() error {
	return s.aborted
}

// fail poisons the session after a post-write failure.
func (s *Session) fail(err error) error {
	if s.aborted == nil {
		s.aborted = err
	}
	return err
}

// dispatch routes freshly discovered seeds according to the current mode:
// run now, queue for Flush, or drop.
func (s *Session) dispatch(ctx context.Context, seeds []seed) error {
	switch s.mode {
	case ModeDisabled:
		return nil
	case ModeDeferred:
		s.queue = append(s.queue, seeds...)
		return nil
	default:
		if len(seeds) == 0 {
			return nil
		}
		b := newBatch(s.engine.tokens.Generate(), seeds)
		if _, err := s.engine.processBatch(ctx, s.tx, b); err != nil {
			return s.fail(err)
		}
		return nil
	}
}

// Flush drains the deferred queue in one batch, regardless of the current
// mode, and returns its stats. A session with nothing queued returns zero
// stats without consuming a batch token.
func (s *Session) Flush(ctx context.Context) (BatchStats, error) {
	if err := s.usable(); err != nil {
		return BatchStats{}, err
	}
	if len(s.queue) == 0 {
		return BatchStats{}, nil
	}
	seeds := s.queue
	s.queue = nil
	b := newBatch(s.engine.tokens.Generate(), seeds)
	stats, err := s.engine.processBatch(ctx, s.tx, b)
	if err != nil {
		return stats, s.fail(err)
	}
	return stats, nil
}

// Commit flushes any deferred work, then commits the transaction. A failed
// batch, now or earlier in the session, aborts instead: the transaction
// rolls back and the error carries PROPAGATION_ABORTED.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("session is closed")
	}
	if s.aborted != nil {
		return s.abort(s.aborted)
	}
	if _, err := s.Flush(ctx); err != nil {
		return s.abort(err)
	}
	s.closed = true
	if err := s.tx.Commit(); err != nil {
		return err
	}
	return nil
}

func (s *Session) abort(cause error) error {
	s.closed = true
	s.queue = nil
	if err := s.tx.Rollback(); err != nil {
		s.engine.logger.Error("rollback failed during abort", "error", err)
	}
	return NewPropagationAborted(batchTokenOf(cause), cause)
}

func batchTokenOf(err error) string {
	var pe *PropagationError
	if errors.As(err, &pe) {
		return pe.BatchToken
	}
	return ""
}

// Rollback discards the session. Safe to call after Commit, so callers can
// defer it unconditionally.
func (s *Session) Rollback() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.queue = nil
	return s.tx.Rollback()
}

// CreateRecord inserts a record and schedules initial computation of every
// maintained field its type owns. Attributes must be declared on the type
// and carry values of the declared kind; maintained field names are
// rejected with ILLEGAL_DIRECT_WRITE.
func (s *Session) CreateRecord(ctx context.Context, typ string, attrs record.Object) (record.Ref, error) {
	if err := s.usable(); err != nil {
		return record.Ref{}, err
	}
	rt, ok := s.engine.registry.Graph().Type(typ)
	if !ok {
		return record.Ref{}, NewInvalidMutation("unknown record type %q", typ)
	}
	if err := s.checkAttrs(rt, typ, 0, attrs); err != nil {
		return record.Ref{}, err
	}

	id, err := s.tx.InsertRecord(ctx, typ, attrs)
	if err != nil {
		return record.Ref{}, s.fail(err)
	}
	ref := record.Ref{Type: typ, ID: id}
	s.engine.logger.Debug("record created", "record", ref)

	// A new record has no links yet, so its own maintained fields are the
	// whole affected set.
	if err := s.dispatch(ctx, s.engine.seedsForNewRecord(typ, id)); err != nil {
		return ref, err
	}
	return ref, nil
}

// UpdateRecord merges attrs into a record. Keys whose value equals the
// stored one are skipped and trigger nothing; the rest are written and
// their dependent maintained fields scheduled.
func (s *Session) UpdateRecord(ctx context.Context, ref record.Ref, attrs record.Object) error {
	if err := s.usable(); err != nil {
		return err
	}
	rt, ok := s.engine.registry.Graph().Type(ref.Type)
	if !ok {
		return NewInvalidMutation("unknown record type %q", ref.Type)
	}
	if err := s.checkAttrs(rt, ref.Type, ref.ID, attrs); err != nil {
		return err
	}
	rec, ok, err := s.tx.GetRecord(ctx, ref.Type, ref.ID)
	if err != nil {
		return err
	}
	if !ok {
		return NewUnknownRecord(ref.Type, ref.ID)
	}

	merged := rec.Attrs.Clone()
	var changed []string
	for _, name := range attrs.SortedKeys() {
		next := attrs[name]
		if prev, had := merged[name]; had {
			same, err := record.Equal(prev, next)
			if err != nil {
				return err
			}
			if same {
				continue
			}
		}
		merged[name] = next
		changed = append(changed, name)
	}
	if len(changed) == 0 {
		return nil
	}

	if _, err := s.tx.UpdateAttrs(ctx, ref.ID, merged); err != nil {
		return s.fail(err)
	}
	s.engine.logger.Debug("record updated", "record", ref, "attrs", changed)
	return s.onRecordChanged(ctx, ref, changed)
}

// OnRecordChanged notifies the engine that the named attributes changed
// through a write path outside this session's mutators. The record must
// already hold its new values; dependent maintained fields are scheduled
// according to the current mode.
func (s *Session) OnRecordChanged(ctx context.Context, ref record.Ref, changedAttrs ...string) error {
	if err := s.usable(); err != nil {
		return err
	}
	rt, ok := s.engine.registry.Graph().Type(ref.Type)
	if !ok {
		return NewInvalidMutation("unknown record type %q", ref.Type)
	}
	for _, name := range changedAttrs {
		if s.engine.registry.IsMaintained(ref.Type, name) {
			return NewIllegalDirectWrite(ref.Type, ref.ID, name)
		}
		if _, declared := rt.Attrs[name]; !declared {
			return NewInvalidMutation("type %s has no attribute %q", ref.Type, name)
		}
	}
	if _, ok, err := s.tx.GetRecord(ctx, ref.Type, ref.ID); err != nil {
		return err
	} else if !ok {
		return NewUnknownRecord(ref.Type, ref.ID)
	}
	return s.onRecordChanged(ctx, ref, changedAttrs)
}

func (s *Session) onRecordChanged(ctx context.Context, ref record.Ref, changedAttrs []string) error {
	seeds, err := s.engine.seedsForAttrs(ctx, s.tx, ref.Type, ref.ID, changedAttrs)
	if err != nil {
		return s.fail(err)
	}
	return s.dispatch(ctx, seeds)
}

// DeleteRecord removes a record. Seeds are collected while the record and
// its links still exist, because finding the dependents of a vanished
// record needs the link rows the delete cascades away; recomputation then
// runs against the post-delete state.
func (s *Session) DeleteRecord(ctx context.Context, ref record.Ref) error {
	if err := s.usable(); err != nil {
		return err
	}
	rec, ok, err := s.tx.GetRecord(ctx, ref.Type, ref.ID)
	if err != nil {
		return err
	}
	if !ok {
		return NewUnknownRecord(ref.Type, ref.ID)
	}

	seeds, err := s.onRecordDeleted(ctx, rec)
	if err != nil {
		return err
	}
	if _, err := s.tx.DeleteRecord(ctx, ref.ID); err != nil {
		return s.fail(err)
	}
	s.engine.logger.Debug("record deleted", "record", ref)
	return s.dispatch(ctx, seeds)
}

// onRecordDeleted collects the seeds a record's disappearance triggers.
// Every dependent path reaching this record crosses one of its incident
// links, so the link-level bindings cover attribute watchers too. Seeds on
// the record itself are dropped; there is nothing left to maintain.
func (s *Session) onRecordDeleted(ctx context.Context, rec record.Record) ([]seed, error) {
	links, err := s.tx.IncidentLinks(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	var seeds []seed
	for _, l := range links {
		edge, ok := s.engine.edge(l.Rel)
		if !ok {
			return nil, fmt.Errorf("stored link relation %q is not in the schema", l.Rel)
		}
		ls, err := s.engine.seedsForLink(ctx, s.tx, edge, l.Src, l.Dst)
		if err != nil {
			return nil, err
		}
		for _, sd := range ls {
			if sd.spec.Type == rec.Type && sd.id == rec.ID {
				continue
			}
			seeds = append(seeds, sd)
		}
	}
	return seeds, nil
}

// Link connects src to dst across the relation named from src's side.
// To-one cardinality on either side replaces the existing link there,
// scheduling recomputation for the displaced neighbour's dependents.
// Linking an already-linked pair is a no-op.
func (s *Session) Link(ctx context.Context, src record.Ref, rel string, dst record.Ref) error {
	if err := s.usable(); err != nil {
		return err
	}
	step, err := s.resolveStep(ctx, src, rel, dst)
	if err != nil {
		return err
	}

	// Normalize the endpoints to the edge's declared direction; link rows
	// are always stored forward.
	edge := step.Edge
	fs, fd := src.ID, dst.ID
	if step.Inverted {
		fs, fd = dst.ID, src.ID
	}

	var seeds []seed
	replaced := false
	if !edge.ForwardMany() {
		displaced, found, err := s.collectDisplaced(ctx, edge, fs, fd, false)
		if err != nil {
			return err
		}
		if found {
			replaced = true
			seeds = append(seeds, displaced...)
			if _, err := s.tx.DeleteLinksFrom(ctx, fs, edge.Key()); err != nil {
				return s.fail(err)
			}
		}
	}
	if !edge.ReverseMany() {
		displaced, found, err := s.collectDisplaced(ctx, edge, fd, fs, true)
		if err != nil {
			return err
		}
		if found {
			replaced = true
			seeds = append(seeds, displaced...)
			if _, err := s.tx.DeleteLinksTo(ctx, fd, edge.Key()); err != nil {
				return s.fail(err)
			}
		}
	}

	inserted, err := s.tx.InsertLink(ctx, fs, edge.Key(), fd)
	if err != nil {
		return s.fail(err)
	}
	if !inserted && !replaced {
		return nil
	}
	if inserted {
		s.engine.logger.Debug("link created", "rel", edge.Key(), "src", fs, "dst", fd)
		added, err := s.engine.seedsForLink(ctx, s.tx, edge, fs, fd)
		if err != nil {
			return s.fail(err)
		}
		seeds = append(seeds, added...)
	}
	return s.dispatch(ctx, seeds)
}

// collectDisplaced gathers seeds for the links a to-one replace is about
// to remove. anchor is the endpoint keeping its position; keep is the
// record staying linked to it. found reports whether anything will be
// displaced.
func (s *Session) collectDisplaced(ctx context.Context, edge schema.RelationEdge, anchor, keep int64, inverted bool) ([]seed, bool, error) {
	olds, err := s.tx.RelatedIDs(ctx, anchor, edge.Key(), inverted)
	if err != nil {
		return nil, false, err
	}
	var seeds []seed
	found := false
	for _, old := range olds {
		if old == keep {
			continue
		}
		found = true
		osrc, odst := anchor, old
		if inverted {
			osrc, odst = old, anchor
		}
		ls, err := s.engine.seedsForLink(ctx, s.tx, edge, osrc, odst)
		if err != nil {
			return nil, false, err
		}
		seeds = append(seeds, ls...)
	}
	return seeds, found, nil
}

// Unlink removes the link between src and dst across the relation named
// from src's side. Removing a link that does not exist is a no-op.
func (s *Session) Unlink(ctx context.Context, src record.Ref, rel string, dst record.Ref) error {
	if err := s.usable(); err != nil {
		return err
	}
	step, err := s.resolveStep(ctx, src, rel, dst)
	if err != nil {
		return err
	}
	edge := step.Edge
	fs, fd := src.ID, dst.ID
	if step.Inverted {
		fs, fd = dst.ID, src.ID
	}

	existed, err := s.tx.DeleteLink(ctx, fs, edge.Key(), fd)
	if err != nil {
		return s.fail(err)
	}
	if !existed {
		return nil
	}
	s.engine.logger.Debug("link removed", "rel", edge.Key(), "src", fs, "dst", fd)
	seeds, err := s.engine.seedsForLink(ctx, s.tx, edge, fs, fd)
	if err != nil {
		return s.fail(err)
	}
	return s.dispatch(ctx, seeds)
}

// resolveStep validates a link mutation: the relation must exist on src's
// type, dst must be of the type the relation points at, and both records
// must exist.
func (s *Session) resolveStep(ctx context.Context, src record.Ref, rel string, dst record.Ref) (schema.PathStep, error) {
	step, ok := s.engine.registry.Graph().Step(src.Type, rel)
	if !ok {
		return schema.PathStep{}, NewInvalidMutation("type %s has no relation %q", src.Type, rel)
	}
	if step.TargetType() != dst.Type {
		return schema.PathStep{}, NewInvalidMutation("relation %s.%s links to %s, not %s", src.Type, rel, step.TargetType(), dst.Type)
	}
	if _, ok, err := s.tx.GetRecord(ctx, src.Type, src.ID); err != nil {
		return schema.PathStep{}, err
	} else if !ok {
		return schema.PathStep{}, NewUnknownRecord(src.Type, src.ID)
	}
	if _, ok, err := s.tx.GetRecord(ctx, dst.Type, dst.ID); err != nil {
		return schema.PathStep{}, err
	} else if !ok {
		return schema.PathStep{}, NewUnknownRecord(dst.Type, dst.ID)
	}
	return step, nil
}

// Record reads one record inside the session's transaction.
func (s *Session) Record(ctx context.Context, ref record.Ref) (record.Record, bool, error) {
	if s.closed {
		return record.Record{}, false, fmt.Errorf("session is closed")
	}
	return s.tx.GetRecord(ctx, ref.Type, ref.ID)
}

// Related reads the records across one relation, named from ref's side.
func (s *Session) Related(ctx context.Context, ref record.Ref, rel string) ([]record.Record, error) {
	if s.closed {
		return nil, fmt.Errorf("session is closed")
	}
	step, ok := s.engine.registry.Graph().Step(ref.Type, rel)
	if !ok {
		return nil, NewInvalidMutation("type %s has no relation %q", ref.Type, rel)
	}
	return s.tx.RelatedRecords(ctx, ref.ID, step.Edge.Key(), step.Inverted)
}

// ReadField reads one attribute. Maintained fields come back through the
// same path as plain attributes, with one exception: a field carrying a
// stale marker is recomputed fresh for this read, without persisting. If
// the generator fails again the stored value is returned as-is.
func (s *Session) ReadField(ctx context.Context, ref record.Ref, field string) (record.Value, bool, error) {
	if s.closed {
		return nil, false, fmt.Errorf("session is closed")
	}
	rec, ok, err := s.tx.GetRecord(ctx, ref.Type, ref.ID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, NewUnknownRecord(ref.Type, ref.ID)
	}
	stored, present := rec.Attrs[field]

	spec, maintained := s.engine.registry.Lookup(ref.Type, field)
	if !maintained {
		return stored, present, nil
	}
	if _, stale, err := s.tx.IsStale(ctx, ref.ID, field); err != nil {
		return nil, false, err
	} else if !stale {
		return stored, present, nil
	}

	fn, _ := s.engine.catalog.Get(spec.Generator.Fn)
	view := &txView{tx: s.tx, graph: s.engine.registry.Graph()}
	fresh, genErr := fn(ctx, view, rec, spec.Generator.Args)
	if genErr != nil {
		s.engine.logger.Warn("stale read fallback kept stored value",
			"record", ref,
			"field", field,
			"error", genErr,
		)
		return stored, present, nil
	}
	return fresh, true, nil
}

// checkAttrs validates incoming attribute writes against the type's
// declaration. recordID is zero for creates.
func (s *Session) checkAttrs(rt schema.RecordType, typ string, recordID int64, attrs record.Object) error {
	for _, name := range attrs.SortedKeys() {
		if s.engine.registry.IsMaintained(typ, name) {
			return NewIllegalDirectWrite(typ, recordID, name)
		}
		declared, ok := rt.Attrs[name]
		if !ok {
			return NewInvalidMutation("type %s has no attribute %q", typ, name)
		}
		switch attrs[name].(type) {
		case nil, record.Null:
			// Absence is expressed by omitting the key; stored attrs are
			// canonical JSON, which has no null.
			return NewInvalidMutation("attribute %s.%s may not be null; omit absent attributes", typ, name)
		}
		if !valueFits(declared, attrs[name]) {
			return NewInvalidMutation("attribute %s.%s wants %s, got %s", typ, name, declared, valueKind(attrs[name]))
		}
	}
	return nil
}

func valueFits(at schema.AttrType, v record.Value) bool {
	switch v.(type) {
	case record.String:
		return at == schema.AttrString
	case record.Int:
		return at == schema.AttrInt
	case record.Bool:
		return at == schema.AttrBool
	case record.Array:
		return at == schema.AttrArray
	case record.Object:
		return at == schema.AttrObject
	default:
		return false
	}
}

func valueKind(v record.Value) string {
	switch v.(type) {
	case nil, record.Null:
		return "null"
	case record.String:
		return "string"
	case record.Int:
		return "int"
	case record.Bool:
		return "bool"
	case record.Array:
		return "array"
	case record.Object:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
