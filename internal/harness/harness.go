package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/upkeep/internal/compiler"
	"github.com/roach88/upkeep/internal/engine"
	"github.com/roach88/upkeep/internal/genfunc"
	"github.com/roach88/upkeep/internal/record"
	"github.com/roach88/upkeep/internal/store"
	"github.com/roach88/upkeep/internal/testutil"
)

// runner holds one scenario's execution state: the engine, the single
// session every step runs in, and the handle bindings.
type runner struct {
	store  *store.Store
	engine *engine.Engine
	sess   *engine.Session
	refs   map[string]record.Ref
	names  map[record.Ref]string
}

// Run executes a scenario against a fresh in-memory store and returns its
// result. Runs are fully deterministic: sequence numbers come from a
// clock starting at zero, batch tokens from a counting generator, and
// record ids from an empty database, so the same scenario always produces
// the same trace.
//
// All steps run inside one session that commits after the last step; a
// deferred-mode scenario without an explicit flush step is flushed by the
// commit. An expected batch failure (expect_error on steps_exceeded and
// kin) rolls the session back instead, leaving the store empty.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	eng, err := buildEngine(st, scenario)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	sess, err := eng.BeginWithMode(ctx, engine.NormalizeMode(scenario.Mode))
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	defer sess.Rollback()

	r := &runner{
		store:  st,
		engine: eng,
		sess:   sess,
		refs:   map[string]record.Ref{},
		names:  map[record.Ref]string{},
	}

	result := NewResult()
	r.executeSteps(ctx, scenario.Steps, result)

	if result.Aborted {
		if err := sess.Rollback(); err != nil {
			return nil, fmt.Errorf("rollback: %w", err)
		}
	} else {
		if err := sess.Commit(ctx); err != nil {
			result.AddError("commit: %v", err)
			result.Aborted = true
		}
	}

	if err := r.collectTrace(ctx, result); err != nil {
		return nil, err
	}
	evaluateAssertions(ctx, r, scenario.Assertions, result)
	return result, nil
}

// buildEngine compiles the scenario's schema and assembles an engine with
// deterministic clock and batch tokens.
func buildEngine(st *store.Store, scenario *Scenario) (*engine.Engine, error) {
	compiled, err := compiler.LoadFile(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	cat := genfunc.Builtins()
	reg, err := compiled.Build(cat)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	opts := []engine.Option{
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithTokenGenerator(testutil.NewSequenceTokenGenerator("batch")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if scenario.MaxSteps > 0 {
		opts = append(opts, engine.WithMaxSteps(scenario.MaxSteps))
	}
	eng, err := engine.New(context.Background(), st, reg, cat, opts...)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return eng, nil
}

// executeSteps runs the mutation sequence, stopping at the first step
// whose outcome does not match its declaration.
func (r *runner) executeSteps(ctx context.Context, steps []Step, result *Result) {
	for i, step := range steps {
		err := r.executeStep(ctx, step)

		switch {
		case step.ExpectError == "" && err == nil:
			continue
		case step.ExpectError == "" && err != nil:
			result.AddError("steps[%d] %s: %v", i, step.Op, err)
		case err == nil:
			result.AddError("steps[%d] %s: expected %s, but the step succeeded", i, step.Op, step.ExpectError)
		case !errorMatchesCode(err, step.ExpectError):
			result.AddError("steps[%d] %s: expected %s, got: %v", i, step.Op, step.ExpectError, err)
		default:
			// The declared failure happened. A validation failure leaves
			// the session usable; a batch failure poisons it, in which
			// case the scenario must end here.
			if r.sess.Err() == nil {
				continue
			}
			if i != len(steps)-1 {
				result.AddError("steps[%d] %s: session aborted, steps after it cannot run", i, step.Op)
			}
			result.Aborted = true
		}
		return
	}
}

func (r *runner) executeStep(ctx context.Context, step Step) error {
	switch step.Op {
	case OpCreate:
		attrs, err := convertAttrs(step.Attrs)
		if err != nil {
			return err
		}
		ref, err := r.sess.CreateRecord(ctx, step.Type, attrs)
		if err != nil {
			return err
		}
		r.refs[step.As] = ref
		r.names[ref] = step.As
		return nil

	case OpUpdate:
		attrs, err := convertAttrs(step.Attrs)
		if err != nil {
			return err
		}
		ref, err := r.resolve(step.Record)
		if err != nil {
			return err
		}
		return r.sess.UpdateRecord(ctx, ref, attrs)

	case OpDelete:
		ref, err := r.resolve(step.Record)
		if err != nil {
			return err
		}
		return r.sess.DeleteRecord(ctx, ref)

	case OpLink, OpUnlink:
		src, err := r.resolve(step.Record)
		if err != nil {
			return err
		}
		dst, err := r.resolve(step.To)
		if err != nil {
			return err
		}
		if step.Op == OpLink {
			return r.sess.Link(ctx, src, step.Rel, dst)
		}
		return r.sess.Unlink(ctx, src, step.Rel, dst)

	case OpFlush:
		_, err := r.sess.Flush(ctx)
		return err

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func (r *runner) resolve(handle string) (record.Ref, error) {
	ref, ok := r.refs[handle]
	if !ok {
		return record.Ref{}, fmt.Errorf("handle %q is not bound", handle)
	}
	return ref, nil
}

// handleFor names a record for trace output: the scenario handle when the
// record was created by a step, type/id otherwise.
func (r *runner) handleFor(typ string, id int64) string {
	if name, ok := r.names[record.Ref{Type: typ, ID: id}]; ok {
		return name
	}
	return fmt.Sprintf("%s/%d", typ, id)
}

// collectTrace reads the committed audit log into the result. An aborted
// scenario committed nothing and keeps an empty trace.
func (r *runner) collectTrace(ctx context.Context, result *Result) error {
	if result.Aborted {
		return nil
	}
	rows, err := r.store.ReadLog(ctx, store.LogFilter{})
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	for _, row := range rows {
		result.Trace = append(result.Trace, TraceEvent{
			Batch:   row.BatchToken,
			Seq:     row.Seq,
			Record:  r.handleFor(row.RecordType, row.RecordID),
			Field:   row.Field,
			Old:     row.OldValue,
			New:     row.NewValue,
			Changed: row.Changed,
			Failure: row.Failure,
		})
	}
	return nil
}

// convertAttrs turns YAML-decoded values into record values. Null is
// rejected here with a position, before the engine sees the write.
func convertAttrs(raw map[string]interface{}) (record.Object, error) {
	attrs := make(record.Object, len(raw))
	for key, val := range raw {
		v, err := record.FromGo(val)
		if err != nil {
			return nil, fmt.Errorf("attr %q: %w", key, err)
		}
		attrs[key] = v
	}
	return attrs, nil
}

// errorMatchesCode maps scenario error codes onto the engine's error
// predicates.
func errorMatchesCode(err error, code string) bool {
	switch code {
	case "ILLEGAL_DIRECT_WRITE":
		return engine.IsIllegalDirectWrite(err)
	case "INVALID_MUTATION":
		return engine.IsInvalidMutation(err)
	case "UNKNOWN_RECORD":
		return engine.IsUnknownRecord(err)
	case "STEPS_EXCEEDED":
		return engine.IsStepsExceeded(err)
	case "SCHEMA_MISMATCH":
		return engine.IsSchemaMismatch(err)
	case "PROPAGATION_ABORTED":
		return engine.IsPropagationAborted(err)
	default:
		return false
	}
}

// knownErrorCodes guards scenario files against typos in expect_error.
var knownErrorCodes = map[string]bool{
	"ILLEGAL_DIRECT_WRITE": true,
	"INVALID_MUTATION":     true,
	"UNKNOWN_RECORD":       true,
	"STEPS_EXCEEDED":       true,
	"SCHEMA_MISMATCH":      true,
	"PROPAGATION_ABORTED":  true,
}

// splitQualified parses "handle.field" references in assertions.
func splitQualified(s string) (handle, field string, ok bool) {
	handle, field, ok = strings.Cut(s, ".")
	if !ok || handle == "" || field == "" {
		return "", "", false
	}
	return handle, field, true
}
