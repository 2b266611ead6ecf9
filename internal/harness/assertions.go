package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/upkeep/internal/record"
)

// AssertionError describes one failed assertion with the expected and
// observed outcomes spelled out, so a failing scenario is debuggable from
// the test output alone.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual:   %s", e.Actual)
	return buf.String()
}

// evaluateAssertions checks every assertion against the committed store
// and the collected trace, recording each failure on the result. All
// assertions run even after one fails.
func evaluateAssertions(ctx context.Context, r *runner, assertions []Assertion, result *Result) {
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFieldEquals:
			err = r.assertFieldEquals(ctx, a)
		case AssertFieldAbsent:
			err = r.assertFieldAbsent(ctx, a)
		case AssertStale:
			err = r.assertStale(ctx, a)
		case AssertRecomputeCount:
			err = assertRecomputeCount(result.Trace, a)
		case AssertRecomputeOrder:
			err = assertRecomputeOrder(result.Trace, a)
		case AssertConsistent:
			err = r.assertConsistent(ctx)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			result.AddError("assertions[%d]: %v", i, err)
		}
	}
}

// assertFieldEquals compares the stored attribute against the expected
// value. Stored state is what committed; the read-time fallback for stale
// fields is deliberately not consulted here.
func (r *runner) assertFieldEquals(ctx context.Context, a Assertion) error {
	rec, err := r.lookupRecord(ctx, a)
	if err != nil {
		return err
	}
	want, err := record.FromGo(a.Value)
	if err != nil {
		return fmt.Errorf("expected value for %s.%s: %w", a.Record, a.Field, err)
	}
	got, ok := rec.Attrs[a.Field]
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s = %s", a.Record, a.Field, renderValue(want)),
			Actual:   "field is absent",
		}
	}
	same, err := record.Equal(want, got)
	if err != nil {
		return err
	}
	if !same {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s = %s", a.Record, a.Field, renderValue(want)),
			Actual:   renderValue(got),
		}
	}
	return nil
}

func (r *runner) assertFieldAbsent(ctx context.Context, a Assertion) error {
	rec, err := r.lookupRecord(ctx, a)
	if err != nil {
		return err
	}
	if got, ok := rec.Attrs[a.Field]; ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s absent", a.Record, a.Field),
			Actual:   renderValue(got),
		}
	}
	return nil
}

func (r *runner) assertStale(ctx context.Context, a Assertion) error {
	ref, err := r.resolve(a.Record)
	if err != nil {
		return err
	}
	sf, marked, err := r.store.IsStale(ctx, ref.ID, a.Field)
	if err != nil {
		return err
	}
	switch {
	case a.Stale && !marked:
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s marked stale", a.Record, a.Field),
			Actual:   "no stale marker",
		}
	case !a.Stale && marked:
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s not stale", a.Record, a.Field),
			Actual:   fmt.Sprintf("marked stale: %s", sf.Reason),
		}
	}
	return nil
}

// assertRecomputeCount counts trace rows for one record field. Every
// recomputation writes exactly one row, changed or not, so the count is
// the number of times the generator ran.
func assertRecomputeCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Record == a.Record && ev.Field == a.Field {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s recomputed %d times", a.Record, a.Field, a.Count),
			Actual:   fmt.Sprintf("%d trace rows", n),
		}
	}
	return nil
}

// assertRecomputeOrder checks that the first recomputation of each listed
// field appears in the given order.
func assertRecomputeOrder(trace []TraceEvent, a Assertion) error {
	first := make(map[string]int)
	for i, ev := range trace {
		key := ev.Record + "." + ev.Field
		if _, seen := first[key]; !seen {
			first[key] = i
		}
	}

	prevPos := -1
	prevName := ""
	for _, name := range a.Fields {
		pos, seen := first[name]
		if !seen {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s recomputed", name),
				Actual:   "no trace row for it",
			}
		}
		if pos <= prevPos {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s after %s", name, prevName),
				Actual:   fmt.Sprintf("%s at row %d, %s at row %d", name, pos+1, prevName, prevPos+1),
			}
		}
		prevPos, prevName = pos, name
	}
	return nil
}

// assertConsistent sweeps every maintained field and reports divergence
// between stored and freshly computed values.
func (r *runner) assertConsistent(ctx context.Context) error {
	divs, err := r.engine.Verify(ctx)
	if err != nil {
		return err
	}
	if len(divs) == 0 {
		return nil
	}
	d := divs[0]
	return &AssertionError{
		Type:     AssertConsistent,
		Expected: "every maintained field matches its recomputed value",
		Actual: fmt.Sprintf("%d divergent, first %s stored=%q computed=%q",
			len(divs), r.handleFor(d.Ref.Type, d.Ref.ID)+"."+d.Field, d.Stored, d.Computed),
	}
}

func (r *runner) lookupRecord(ctx context.Context, a Assertion) (record.Record, error) {
	ref, err := r.resolve(a.Record)
	if err != nil {
		return record.Record{}, err
	}
	rec, ok, err := r.store.GetRecord(ctx, ref.Type, ref.ID)
	if err != nil {
		return record.Record{}, err
	}
	if !ok {
		return record.Record{}, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("record %s exists", a.Record),
			Actual:   "not in the store",
		}
	}
	return rec, nil
}

// renderValue formats a value for assertion messages using its canonical
// JSON form.
func renderValue(v record.Value) string {
	data, err := record.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
