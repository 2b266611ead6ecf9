package compiler

import (
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/upkeep/internal/record"
	"github.com/roach88/upkeep/internal/schema"
)

// Schema is the compiled form of a declarative schema file: the raw inputs
// a registry is built from. Compilation extracts structure and fails fast
// on malformed CUE; semantic validation (unknown types, collisions, cycles)
// happens in the schema package, which accumulates violations.
type Schema struct {
	Types  []schema.RecordType
	Edges  []schema.RelationEdge
	Fields []schema.FieldSpec
}

// CompileSchema parses a CUE value into a Schema. Uses the CUE SDK's Go
// API directly.
//
// The CUE value should be the schema struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`schema: { types: ... }`)
//	s, err := CompileSchema(v.LookupPath(cue.ParsePath("schema")))
func CompileSchema(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	s := &Schema{}
	var err error

	s.Types, err = parseTypes(v)
	if err != nil {
		return nil, err
	}
	s.Edges, err = parseRelations(v)
	if err != nil {
		return nil, err
	}
	s.Fields, err = parseMaintained(v)
	if err != nil {
		return nil, err
	}

	// CUE field iteration order is not specified; sort so compiled output
	// is deterministic across runs.
	sort.Slice(s.Types, func(i, j int) bool { return s.Types[i].Name < s.Types[j].Name })
	sort.Slice(s.Edges, func(i, j int) bool { return s.Edges[i].Key() < s.Edges[j].Key() })
	sort.Slice(s.Fields, func(i, j int) bool {
		return s.Fields[i].QualifiedName() < s.Fields[j].QualifiedName()
	})
	return s, nil
}

// Build assembles a sealed registry from the compiled schema against the
// given generator catalogue. Schema-level violations come back as the
// schema package's accumulated error types.
func (s *Schema) Build(catalog schema.GeneratorCatalog) (*schema.Registry, error) {
	graph, err := schema.NewGraph(s.Types, s.Edges)
	if err != nil {
		return nil, err
	}
	registry := schema.NewRegistry(graph, catalog)
	for _, spec := range s.Fields {
		if err := registry.Register(spec); err != nil {
			return nil, err
		}
	}
	if err := registry.Seal(); err != nil {
		return nil, err
	}
	return registry, nil
}

// parseTypes extracts record type declarations:
//
//	types: compound: attrs: {formula: string, name: string}
func parseTypes(v cue.Value) ([]schema.RecordType, error) {
	typesVal := v.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return nil, &CompileError{
			Field:   "types",
			Message: "at least one record type is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var types []schema.RecordType
	for iter.Next() {
		rt := schema.RecordType{
			Name:  iter.Label(),
			Attrs: make(map[string]schema.AttrType),
		}

		attrsVal := iter.Value().LookupPath(cue.ParsePath("attrs"))
		if attrsVal.Exists() {
			attrIter, err := attrsVal.Fields()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for attrIter.Next() {
				at, err := attrType(attrIter.Value())
				if err != nil {
					return nil, err
				}
				rt.Attrs[attrIter.Label()] = at
			}
		}

		types = append(types, rt)
	}
	return types, nil
}

// parseRelations extracts relation edges, nested by owning type:
//
//	relations: compound: atoms: {to: "atom", cardinality: "one_to_many", reverse: "compound"}
func parseRelations(v cue.Value) ([]schema.RelationEdge, error) {
	relsVal := v.LookupPath(cue.ParsePath("relations"))
	if !relsVal.Exists() {
		return nil, nil
	}

	fromIter, err := relsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var edges []schema.RelationEdge
	for fromIter.Next() {
		from := fromIter.Label()
		nameIter, err := fromIter.Value().Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for nameIter.Next() {
			body := nameIter.Value()
			context := fmt.Sprintf("relations.%s.%s", from, nameIter.Label())

			to, err := stringField(body, "to", context)
			if err != nil {
				return nil, err
			}
			cardinality, err := stringField(body, "cardinality", context)
			if err != nil {
				return nil, err
			}
			reverse, err := stringField(body, "reverse", context)
			if err != nil {
				return nil, err
			}

			edges = append(edges, schema.RelationEdge{
				Name:        nameIter.Label(),
				From:        from,
				To:          to,
				Cardinality: schema.Cardinality(cardinality),
				Reverse:     reverse,
			})
		}
	}
	return edges, nil
}

// parseMaintained extracts maintained field declarations, nested by owning
// type:
//
//	maintained: compound: num_carbon_atoms: {
//		generator: {fn: "element_count", args: {element: "C"}}
//		depends_on: [{path: "", attrs: ["formula"]}]
//	}
func parseMaintained(v cue.Value) ([]schema.FieldSpec, error) {
	mVal := v.LookupPath(cue.ParsePath("maintained"))
	if !mVal.Exists() {
		return nil, nil
	}

	typeIter, err := mVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []schema.FieldSpec
	for typeIter.Next() {
		owner := typeIter.Label()
		fieldIter, err := typeIter.Value().Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for fieldIter.Next() {
			body := fieldIter.Value()
			context := fmt.Sprintf("maintained.%s.%s", owner, fieldIter.Label())
			builder := schema.Field(owner, fieldIter.Label())

			genVal := body.LookupPath(cue.ParsePath("generator"))
			if !genVal.Exists() {
				return nil, &CompileError{
					Field:   context + ".generator",
					Message: "generator is required",
					Pos:     body.Pos(),
				}
			}
			fn, err := stringField(genVal, "fn", context+".generator")
			if err != nil {
				return nil, err
			}
			var args record.Object
			argsVal := genVal.LookupPath(cue.ParsePath("args"))
			if argsVal.Exists() {
				av, err := cueToValue(argsVal, context+".generator.args")
				if err != nil {
					return nil, err
				}
				obj, ok := av.(record.Object)
				if !ok {
					return nil, &CompileError{
						Field:   context + ".generator.args",
						Message: "generator args must be a struct",
						Pos:     argsVal.Pos(),
					}
				}
				args = obj
			}
			builder.Generator(fn, args)

			depVal := body.LookupPath(cue.ParsePath("depends_on"))
			if !depVal.Exists() {
				return nil, &CompileError{
					Field:   context + ".depends_on",
					Message: "at least one dependency is required",
					Pos:     body.Pos(),
				}
			}
			depIter, err := depVal.List()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for depIter.Next() {
				dv := depIter.Value()

				path := ""
				if pv := dv.LookupPath(cue.ParsePath("path")); pv.Exists() {
					path, err = pv.String()
					if err != nil {
						return nil, formatCUEError(err)
					}
				}

				attrsVal := dv.LookupPath(cue.ParsePath("attrs"))
				if !attrsVal.Exists() {
					return nil, &CompileError{
						Field:   context + ".depends_on",
						Message: "dependency attrs are required",
						Pos:     dv.Pos(),
					}
				}
				attrIter, err := attrsVal.List()
				if err != nil {
					return nil, formatCUEError(err)
				}
				var attrs []string
				for attrIter.Next() {
					attr, err := attrIter.Value().String()
					if err != nil {
						return nil, formatCUEError(err)
					}
					attrs = append(attrs, attr)
				}
				builder.DependsOn(path, attrs...)
			}

			fields = append(fields, builder.Spec())
		}
	}
	return fields, nil
}

// attrType converts a CUE type declaration to an attribute type. Floats
// are forbidden.
func attrType(v cue.Value) (schema.AttrType, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return schema.AttrString, nil
	case cue.IntKind:
		return schema.AttrInt, nil
	case cue.BoolKind:
		return schema.AttrBool, nil
	case cue.ListKind:
		return schema.AttrArray, nil
	case cue.StructKind:
		return schema.AttrObject, nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float attribute types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// cueToValue converts a concrete CUE value into a record value. Floats and
// nulls are forbidden.
func cueToValue(v cue.Value, context string) (record.Value, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return record.String(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return record.Int(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return record.Bool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := record.Array{}
		for iter.Next() {
			elem, err := cueToValue(iter.Value(), context)
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := record.Object{}
		for iter.Next() {
			elem, err := cueToValue(iter.Value(), context)
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   context,
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	case cue.NullKind:
		return nil, &CompileError{
			Field:   context,
			Message: "null values are forbidden",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   context,
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

func stringField(v cue.Value, path, context string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   context + "." + path,
			Message: path + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
