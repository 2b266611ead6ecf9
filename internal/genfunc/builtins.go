package genfunc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/upkeep/internal/record"
)

// Builtins returns a catalogue pre-loaded with the stock generators:
//
//	element_count   count one element's atoms in a formula attr
//	count_related   count linked records, optionally filtered by a bool attr
//	sum_related     sum an int attr over linked records
//	max_related     max of an int attr over linked records
//	attr_through    read an attr at the end of a relation path
//	concat_related  join a string attr over linked records
//	constant        return a fixed value from the args
func Builtins() *Catalog {
	c := NewCatalog()
	for name, fn := range map[string]Func{
		"element_count":  elementCount,
		"count_related":  countRelated,
		"sum_related":    sumRelated,
		"max_related":    maxRelated,
		"attr_through":   attrThrough,
		"concat_related": concatRelated,
		"constant":       constant,
	} {
		if err := c.Register(name, fn); err != nil {
			panic(err)
		}
	}
	return c
}

// elementCount parses the record's formula attr (arg "attr", default
// "formula") and counts atoms of the element named by arg "element". A
// missing attr counts as zero; an unparseable formula is an error.
func elementCount(_ context.Context, _ View, rec record.Record, args record.Object) (record.Value, error) {
	element, err := requiredString(args, "element")
	if err != nil {
		return nil, err
	}
	attr, err := optionalString(args, "attr", "formula")
	if err != nil {
		return nil, err
	}

	raw, ok := rec.Attr(attr)
	if !ok {
		return record.Int(0), nil
	}
	formula, ok := raw.(record.String)
	if !ok {
		return nil, fmt.Errorf("attr %q on %s is not a string", attr, rec.Ref())
	}
	counts, err := parseFormula(string(formula))
	if err != nil {
		return nil, fmt.Errorf("parse formula %q: %w", string(formula), err)
	}
	return record.Int(counts[element]), nil
}

// countRelated counts the records linked through arg "relation". With arg
// "where" set, only records whose named bool attr is true are counted.
func countRelated(ctx context.Context, view View, rec record.Record, args record.Object) (record.Value, error) {
	rel, err := requiredString(args, "relation")
	if err != nil {
		return nil, err
	}
	where, err := optionalString(args, "where", "")
	if err != nil {
		return nil, err
	}

	related, err := view.Related(ctx, rec.Ref(), rel)
	if err != nil {
		return nil, err
	}
	n := int64(0)
	for _, r := range related {
		if where != "" {
			v, ok := r.Attr(where)
			if !ok {
				continue
			}
			b, isBool := v.(record.Bool)
			if !isBool {
				return nil, fmt.Errorf("attr %q on %s is not a bool", where, r.Ref())
			}
			if !bool(b) {
				continue
			}
		}
		n++
	}
	return record.Int(n), nil
}

// sumRelated sums the int attr named by arg "attr" over the records linked
// through arg "relation". Records without the attr are skipped.
func sumRelated(ctx context.Context, view View, rec record.Record, args record.Object) (record.Value, error) {
	rel, attr, err := relationAttrArgs(args)
	if err != nil {
		return nil, err
	}
	related, err := view.Related(ctx, rec.Ref(), rel)
	if err != nil {
		return nil, err
	}
	sum := int64(0)
	for _, r := range related {
		v, ok := r.Attr(attr)
		if !ok {
			continue
		}
		n, isInt := v.(record.Int)
		if !isInt {
			return nil, fmt.Errorf("attr %q on %s is not an int", attr, r.Ref())
		}
		sum += int64(n)
	}
	return record.Int(sum), nil
}

// maxRelated returns the maximum of the int attr named by arg "attr" over
// the records linked through arg "relation". Records without the attr are
// skipped; with no values at all the result is zero.
func maxRelated(ctx context.Context, view View, rec record.Record, args record.Object) (record.Value, error) {
	rel, attr, err := relationAttrArgs(args)
	if err != nil {
		return nil, err
	}
	related, err := view.Related(ctx, rec.Ref(), rel)
	if err != nil {
		return nil, err
	}
	best := int64(0)
	seen := false
	for _, r := range related {
		v, ok := r.Attr(attr)
		if !ok {
			continue
		}
		n, isInt := v.(record.Int)
		if !isInt {
			return nil, fmt.Errorf("attr %q on %s is not an int", attr, r.Ref())
		}
		if !seen || int64(n) > best {
			best = int64(n)
			seen = true
		}
	}
	return record.Int(best), nil
}

// attrThrough walks the dotted relation path in arg "path" and returns the
// attr named by arg "attr" from the first record (by type then id) at the
// terminus that carries it. With no such record the arg "default" value is
// returned if present, otherwise an error.
func attrThrough(ctx context.Context, view View, rec record.Record, args record.Object) (record.Value, error) {
	pathStr, err := requiredString(args, "path")
	if err != nil {
		return nil, err
	}
	attr, err := requiredString(args, "attr")
	if err != nil {
		return nil, err
	}

	segments := []string{}
	if pathStr != "" {
		segments = strings.Split(pathStr, ".")
	}
	current := []record.Record{rec}
	for _, rel := range segments {
		var next []record.Record
		for _, cur := range current {
			related, err := view.Related(ctx, cur.Ref(), rel)
			if err != nil {
				return nil, err
			}
			next = append(next, related...)
		}
		current = next
	}

	sort.Slice(current, func(i, j int) bool {
		if current[i].Type != current[j].Type {
			return current[i].Type < current[j].Type
		}
		return current[i].ID < current[j].ID
	})
	for _, r := range current {
		if v, ok := r.Attr(attr); ok {
			return v, nil
		}
	}
	if def, ok := args["default"]; ok {
		return def, nil
	}
	return nil, fmt.Errorf("no record with attr %q at end of path %q", attr, pathStr)
}

// concatRelated joins the string attr named by arg "attr" over the records
// linked through arg "relation", separated by arg "sep" (default ","). The
// id ordering of Related makes the result deterministic.
func concatRelated(ctx context.Context, view View, rec record.Record, args record.Object) (record.Value, error) {
	rel, attr, err := relationAttrArgs(args)
	if err != nil {
		return nil, err
	}
	sep, err := optionalString(args, "sep", ",")
	if err != nil {
		return nil, err
	}
	related, err := view.Related(ctx, rec.Ref(), rel)
	if err != nil {
		return nil, err
	}
	var parts []string
	for _, r := range related {
		v, ok := r.Attr(attr)
		if !ok {
			continue
		}
		s, isStr := v.(record.String)
		if !isStr {
			return nil, fmt.Errorf("attr %q on %s is not a string", attr, r.Ref())
		}
		parts = append(parts, string(s))
	}
	return record.String(strings.Join(parts, sep)), nil
}

// constant returns the arg "value" unchanged. Mostly useful in tests and
// as a placeholder while a schema is being developed.
func constant(_ context.Context, _ View, _ record.Record, args record.Object) (record.Value, error) {
	v, ok := args["value"]
	if !ok {
		return nil, fmt.Errorf("missing required arg %q", "value")
	}
	return v, nil
}

func relationAttrArgs(args record.Object) (rel, attr string, err error) {
	rel, err = requiredString(args, "relation")
	if err != nil {
		return "", "", err
	}
	attr, err = requiredString(args, "attr")
	if err != nil {
		return "", "", err
	}
	return rel, attr, nil
}
