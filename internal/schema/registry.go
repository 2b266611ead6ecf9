package schema

import (
	"fmt"

	"github.com/roach88/upkeep/internal/record"
)

// GeneratorCatalog resolves generator function names at registration time.
// Implemented by genfunc.Catalog; kept as an interface here so the registry
// does not depend on generator execution.
type GeneratorCatalog interface {
	Has(name string) bool
}

// AttrBinding connects an attribute-level trigger to the spec it feeds.
// When the attr changes on a record of the terminus type, the owners to
// recompute are found by walking Path backward from that record.
type AttrBinding struct {
	Spec *FieldSpec
	// Path runs from the spec's owner type to the terminus carrying the
	// watched attr. Empty for own-record dependencies.
	Path ResolvedPath
}

// EdgeBinding connects a relation-membership trigger to the spec it feeds.
// When a link of Step's edge is created or removed, the owners to recompute
// are found by walking Prefix backward from the link endpoint on Step's
// source side.
type EdgeBinding struct {
	Spec *FieldSpec
	// Prefix runs from the spec's owner type to the source type of Step.
	Prefix ResolvedPath
	// Step is the position in the dependent path whose edge changed.
	Step PathStep
}

type typeAttr struct {
	Type string
	Attr string
}

// Registry holds every registered FieldSpec and, once sealed, the trigger
// indexes and ranks the propagation engine runs on.
//
// Lifecycle is two-phase. Register performs structural validation per spec;
// Seal performs whole-schema validation (attr existence across maintained
// fields, cycle rejection), builds the indexes, and freezes the registry.
// All methods except Register and Seal are safe for concurrent use after
// Seal.
type Registry struct {
	graph   *Graph
	catalog GeneratorCatalog

	specs map[string]map[string]*FieldSpec
	order []*FieldSpec
	// resolved caches dependency path resolution from Register so Seal
	// does not repeat it. Indexed like DependsOn.
	resolved map[*FieldSpec][]ResolvedPath

	sealed      bool
	byAttr      map[typeAttr][]AttrBinding
	byEdge      map[string][]EdgeBinding
	ranks       map[string]int
	fingerprint string
}

// NewRegistry creates an empty registry over a validated relation graph.
// The catalog may be nil, in which case generator names are not checked
// until engine construction.
func NewRegistry(graph *Graph, catalog GeneratorCatalog) *Registry {
	return &Registry{
		graph:    graph,
		catalog:  catalog,
		specs:    make(map[string]map[string]*FieldSpec),
		resolved: make(map[*FieldSpec][]ResolvedPath),
	}
}

// Register validates one spec structurally and adds it. Cross-spec checks
// (attrs that are themselves maintained fields, cycles) wait until Seal, so
// specs may be registered in any order. Returns *InvalidFieldSpecError
// carrying every violation found.
func (r *Registry) Register(spec FieldSpec) error {
	if r.sealed {
		return fmt.Errorf("registry is sealed, no further specs can be registered")
	}

	var violations []ValidationError
	addf := func(code, format string, args ...any) {
		violations = append(violations, ValidationError{
			Field:   spec.QualifiedName(),
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	if spec.Name == "" {
		addf(ErrCodeEmptyName, "maintained field name is empty")
	}
	if spec.Generator.Fn == "" {
		addf(ErrCodeMissingGenerator, "no generator function named")
	} else if r.catalog != nil && !r.catalog.Has(spec.Generator.Fn) {
		addf(ErrCodeUnknownGenerator, "unknown generator function %q", spec.Generator.Fn)
	}
	if len(spec.Generator.Args) > 0 {
		if _, err := record.MarshalCanonical(spec.Generator.Args); err != nil {
			addf(ErrCodeBadGeneratorArgs, "generator args are not canonicalizable: %v", err)
		}
	}

	owner, ownerOK := r.graph.Type(spec.Type)
	if !ownerOK {
		addf(ErrCodeUnknownOwner, "unknown record type %q", spec.Type)
	} else if spec.Name != "" {
		if _, clash := owner.Attrs[spec.Name]; clash {
			addf(ErrCodeFieldCollision, "collides with a declared attribute on %s", spec.Type)
		}
		if _, clash := r.graph.Step(spec.Type, spec.Name); clash {
			addf(ErrCodeFieldCollision, "collides with a relation name on %s", spec.Type)
		}
		if _, dup := r.specs[spec.Type][spec.Name]; dup {
			addf(ErrCodeDuplicateField, "maintained field registered twice")
		}
	}

	if len(spec.DependsOn) == 0 {
		addf(ErrCodeEmptyDependency, "spec declares no dependencies")
	}

	var paths []ResolvedPath
	for i, dep := range spec.DependsOn {
		if len(dep.Attrs) == 0 {
			addf(ErrCodeEmptyDependency, "dependency %d lists no attrs", i)
		}
		for _, attr := range dep.Attrs {
			if attr == "" {
				addf(ErrCodeEmptyDependency, "dependency %d lists an empty attr name", i)
			}
		}
		if !ownerOK {
			continue
		}
		resolved, verr := r.graph.ResolvePath(spec.Type, dep.Path)
		if verr != nil {
			v := *verr
			v.Field = fmt.Sprintf("%s.depends_on[%d]", spec.QualifiedName(), i)
			violations = append(violations, v)
			continue
		}
		paths = append(paths, resolved)
	}

	if len(violations) > 0 {
		return &InvalidFieldSpecError{Type: spec.Type, Field: spec.Name, Violations: violations}
	}

	stored := &spec
	if r.specs[spec.Type] == nil {
		r.specs[spec.Type] = make(map[string]*FieldSpec)
	}
	r.specs[spec.Type][spec.Name] = stored
	r.order = append(r.order, stored)
	r.resolved[stored] = paths
	return nil
}

// Seal finishes validation and freezes the registry. It checks that every
// dependent attr exists at its path terminus (as a plain attribute or as
// another maintained field), rejects cyclic field dependencies, then builds
// the trigger indexes, ranks, and schema fingerprint.
//
// Returns *InvalidSchemaError for unresolved attrs and
// *CyclicDependencyError for cycles. A failed Seal leaves the registry
// unsealed; the caller must not use it for propagation.
func (r *Registry) Seal() error {
	if r.sealed {
		return fmt.Errorf("registry is already sealed")
	}

	var violations []ValidationError
	// depsOf[S] lists the maintained fields S reads, by qualified name.
	depsOf := make(map[string][]string, len(r.order))

	for _, spec := range r.order {
		paths := r.resolved[spec]
		for i, dep := range spec.DependsOn {
			terminus := paths[i].Terminus(spec.Type)
			tt, _ := r.graph.Type(terminus)
			for _, attr := range dep.Attrs {
				if _, plain := tt.Attrs[attr]; plain {
					continue
				}
				if m, maintained := r.specs[terminus][attr]; maintained {
					depsOf[spec.QualifiedName()] = append(depsOf[spec.QualifiedName()], m.QualifiedName())
					continue
				}
				violations = append(violations, ValidationError{
					Field:   fmt.Sprintf("%s.depends_on[%d]", spec.QualifiedName(), i),
					Message: fmt.Sprintf("type %s has no attribute or maintained field %q", terminus, attr),
					Code:    ErrCodeUnknownAttr,
				})
			}
		}
	}
	if len(violations) > 0 {
		return &InvalidSchemaError{Violations: violations}
	}

	if cycle := findCycle(depsOf); cycle != nil {
		return &CyclicDependencyError{Path: cycle}
	}

	r.ranks = computeRanks(r.order, depsOf)
	r.buildIndexes()
	r.fingerprint = r.computeFingerprint()
	r.sealed = true
	return nil
}

func (r *Registry) buildIndexes() {
	r.byAttr = make(map[typeAttr][]AttrBinding)
	r.byEdge = make(map[string][]EdgeBinding)
	for _, spec := range r.order {
		paths := r.resolved[spec]
		for i, dep := range spec.DependsOn {
			path := paths[i]
			terminus := path.Terminus(spec.Type)
			for _, attr := range dep.Attrs {
				key := typeAttr{Type: terminus, Attr: attr}
				r.byAttr[key] = append(r.byAttr[key], AttrBinding{Spec: spec, Path: path})
			}
			for k, step := range path {
				key := step.Edge.Key()
				r.byEdge[key] = append(r.byEdge[key], EdgeBinding{Spec: spec, Prefix: path[:k], Step: step})
			}
		}
	}
}

// computeFingerprint hashes the whole sealed schema: types, relations, and
// field specs. Stored in the database so a reopened store can detect that
// the schema drifted since values were last maintained.
func (r *Registry) computeFingerprint() string {
	types := record.Object{}
	for _, name := range r.graph.TypeNames() {
		rt, _ := r.graph.Type(name)
		attrs := record.Object{}
		for attr, at := range rt.Attrs {
			attrs[attr] = record.String(at)
		}
		types[name] = attrs
	}

	relations := record.Object{}
	for _, e := range r.graph.Edges() {
		relations[e.Key()] = record.Object{
			"to":          record.String(e.To),
			"cardinality": record.String(e.Cardinality),
			"reverse":     record.String(e.Reverse),
		}
	}

	fields := record.Object{}
	for _, spec := range r.order {
		deps := make(record.Array, 0, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			path := make(record.Array, len(dep.Path))
			for i, seg := range dep.Path {
				path[i] = record.String(seg)
			}
			attrs := make(record.Array, len(dep.Attrs))
			for i, attr := range dep.Attrs {
				attrs[i] = record.String(attr)
			}
			deps = append(deps, record.Object{"path": path, "attrs": attrs})
		}
		gen := record.Object{"fn": record.String(spec.Generator.Fn)}
		if len(spec.Generator.Args) > 0 {
			gen["args"] = spec.Generator.Args.Clone()
		}
		fields[spec.QualifiedName()] = record.Object{"generator": gen, "depends": deps}
	}

	dump := record.Object{"types": types, "relations": relations, "fields": fields}
	return record.MustHashValue(record.DomainSchema, dump)
}

// Sealed reports whether Seal has completed.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Graph returns the relation graph the registry was built over.
func (r *Registry) Graph() *Graph {
	return r.graph
}

// Lookup returns the spec for a maintained field.
func (r *Registry) Lookup(typeName, field string) (*FieldSpec, bool) {
	spec, ok := r.specs[typeName][field]
	return spec, ok
}

// IsMaintained reports whether the named field on a type is maintained.
// Direct writes to maintained fields are rejected by the session layer.
func (r *Registry) IsMaintained(typeName, field string) bool {
	_, ok := r.specs[typeName][field]
	return ok
}

// SpecsFor returns the specs owned by a type, in registration order.
func (r *Registry) SpecsFor(typeName string) []*FieldSpec {
	var specs []*FieldSpec
	for _, spec := range r.order {
		if spec.Type == typeName {
			specs = append(specs, spec)
		}
	}
	return specs
}

// AllSpecs returns every registered spec in registration order.
func (r *Registry) AllSpecs() []*FieldSpec {
	return r.order
}

// AttrBindings returns the specs to recompute when the named attribute
// changes on a record of the given type. The attribute may itself be a
// maintained field; downstream cascades use the same index. Valid only
// after Seal.
func (r *Registry) AttrBindings(typeName, attr string) []AttrBinding {
	return r.byAttr[typeAttr{Type: typeName, Attr: attr}]
}

// EdgeBindings returns the specs to recompute when a link of the given edge
// is created or removed. Valid only after Seal.
func (r *Registry) EdgeBindings(e RelationEdge) []EdgeBinding {
	return r.byEdge[e.Key()]
}

// Rank returns the dependency rank of a maintained field: 0 for fields
// reading only plain attributes, otherwise one more than the highest rank
// among the maintained fields it reads. Scheduling processes lower ranks
// first. Valid only after Seal.
func (r *Registry) Rank(typeName, field string) int {
	return r.ranks[typeName+"."+field]
}

// Fingerprint returns the schema hash computed at Seal.
func (r *Registry) Fingerprint() string {
	return r.fingerprint
}
