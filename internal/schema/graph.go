package schema

import (
	"fmt"
	"sort"
)

// Graph is the relation graph model: every record type plus every relation
// edge, indexed in both directions. Read-only after NewGraph returns.
type Graph struct {
	types map[string]RecordType
	// forward[type][name] is the edge declared on type under name.
	forward map[string]map[string]RelationEdge
	// reverse[type][name] is the edge reachable from type through its
	// reverse name.
	reverse map[string]map[string]RelationEdge
	edges   []RelationEdge
}

// NewGraph validates the declared types and edges and builds the
// two-directional index. All violations are accumulated into a single
// *InvalidSchemaError.
func NewGraph(types []RecordType, edges []RelationEdge) (*Graph, error) {
	var violations []ValidationError

	g := &Graph{
		types:   make(map[string]RecordType, len(types)),
		forward: make(map[string]map[string]RelationEdge),
		reverse: make(map[string]map[string]RelationEdge),
	}

	for _, rt := range types {
		if rt.Name == "" {
			violations = append(violations, ValidationError{
				Field: "type", Message: "record type name is empty", Code: ErrCodeEmptyName,
			})
			continue
		}
		if _, dup := g.types[rt.Name]; dup {
			violations = append(violations, ValidationError{
				Field: "type." + rt.Name, Message: "record type declared twice", Code: ErrCodeDuplicateType,
			})
			continue
		}
		for attr, at := range rt.Attrs {
			if attr == "" {
				violations = append(violations, ValidationError{
					Field: "type." + rt.Name, Message: "attribute name is empty", Code: ErrCodeEmptyName,
				})
			}
			if !ValidAttrTypes[at] {
				violations = append(violations, ValidationError{
					Field:   fmt.Sprintf("type.%s.%s", rt.Name, attr),
					Message: fmt.Sprintf("invalid attr type %q, must be one of: string, int, bool, array, object", at),
					Code:    ErrCodeBadAttrType,
				})
			}
		}
		g.types[rt.Name] = rt
		g.forward[rt.Name] = make(map[string]RelationEdge)
		g.reverse[rt.Name] = make(map[string]RelationEdge)
	}

	for _, e := range edges {
		violations = append(violations, g.addEdge(e)...)
	}

	if len(violations) > 0 {
		return nil, &InvalidSchemaError{Violations: violations}
	}
	return g, nil
}

func (g *Graph) addEdge(e RelationEdge) []ValidationError {
	var violations []ValidationError
	field := "relation." + e.Key()

	if e.Name == "" || e.Reverse == "" {
		code := ErrCodeEmptyName
		if e.Name != "" {
			code = ErrCodeMissingReverse
		}
		violations = append(violations, ValidationError{
			Field: field, Message: "relation requires both a name and a reverse name", Code: code,
		})
		return violations
	}
	if !ValidCardinalities[e.Cardinality] {
		violations = append(violations, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid cardinality %q", e.Cardinality),
			Code:    ErrCodeBadCardinality,
		})
	}

	from, fromOK := g.types[e.From]
	to, toOK := g.types[e.To]
	if !fromOK {
		violations = append(violations, ValidationError{
			Field: field, Message: fmt.Sprintf("unknown source type %q", e.From), Code: ErrCodeUnknownType,
		})
	}
	if !toOK {
		violations = append(violations, ValidationError{
			Field: field, Message: fmt.Sprintf("unknown target type %q", e.To), Code: ErrCodeUnknownType,
		})
	}
	if !fromOK || !toOK {
		return violations
	}

	if _, exists := from.Attrs[e.Name]; exists {
		violations = append(violations, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("relation name %q collides with an attribute on %s", e.Name, e.From),
			Code:    ErrCodeNameCollision,
		})
	}
	if _, exists := to.Attrs[e.Reverse]; exists {
		violations = append(violations, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("reverse name %q collides with an attribute on %s", e.Reverse, e.To),
			Code:    ErrCodeNameCollision,
		})
	}
	if _, taken := g.forward[e.From][e.Name]; taken {
		violations = append(violations, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("relation name %q already used on %s", e.Name, e.From),
			Code:    ErrCodeDuplicateRelation,
		})
	}
	if _, taken := g.reverse[e.From][e.Name]; taken {
		violations = append(violations, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("relation name %q already exposed on %s as a reverse", e.Name, e.From),
			Code:    ErrCodeDuplicateRelation,
		})
	}
	if _, taken := g.forward[e.To][e.Reverse]; taken {
		violations = append(violations, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("reverse name %q already used on %s", e.Reverse, e.To),
			Code:    ErrCodeDuplicateRelation,
		})
	}
	if _, taken := g.reverse[e.To][e.Reverse]; taken {
		violations = append(violations, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("reverse name %q already exposed on %s as a reverse", e.Reverse, e.To),
			Code:    ErrCodeDuplicateRelation,
		})
	}

	if len(violations) > 0 {
		return violations
	}

	g.forward[e.From][e.Name] = e
	g.reverse[e.To][e.Reverse] = e
	g.edges = append(g.edges, e)
	return nil
}

// Type returns the declared record type.
func (g *Graph) Type(name string) (RecordType, bool) {
	rt, ok := g.types[name]
	return rt, ok
}

// TypeNames returns all declared type names, sorted.
func (g *Graph) TypeNames() []string {
	names := make([]string, 0, len(g.types))
	for name := range g.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Edges returns the declared edges in declaration order.
func (g *Graph) Edges() []RelationEdge {
	return g.edges
}

// Step resolves one relation name from a type, in either direction.
func (g *Graph) Step(fromType, rel string) (PathStep, bool) {
	if e, ok := g.forward[fromType][rel]; ok {
		return PathStep{Edge: e}, true
	}
	if e, ok := g.reverse[fromType][rel]; ok {
		return PathStep{Edge: e, Inverted: true}, true
	}
	return PathStep{}, false
}

// Relations returns every relation name visible from a type (forward and
// reverse), sorted. Used by mutation validation to reject unknown names.
func (g *Graph) Relations(typeName string) []string {
	var names []string
	for name := range g.forward[typeName] {
		names = append(names, name)
	}
	for name := range g.reverse[typeName] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvePath resolves a dotted dependent path from an owner type into
// typed steps. Returns the violation instead of an error so registration
// can accumulate.
func (g *Graph) ResolvePath(owner string, path []string) (ResolvedPath, *ValidationError) {
	resolved := make(ResolvedPath, 0, len(path))
	cur := owner
	for i, rel := range path {
		step, ok := g.Step(cur, rel)
		if !ok {
			v := ValidationError{
				Field:   fmt.Sprintf("path[%d]", i),
				Message: fmt.Sprintf("type %s has no relation %q", cur, rel),
				Code:    ErrCodeUnknownRelation,
			}
			return nil, &v
		}
		resolved = append(resolved, step)
		cur = step.TargetType()
	}
	return resolved, nil
}
