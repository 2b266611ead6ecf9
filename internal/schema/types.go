package schema

import (
	"strings"

	"github.com/roach88/upkeep/internal/record"
)

// AttrType is the declared type of a plain attribute. There is no float
// type; record values reject non-integral numbers.
type AttrType string

// Valid attribute types.
const (
	AttrString AttrType = "string"
	AttrInt    AttrType = "int"
	AttrBool   AttrType = "bool"
	AttrArray  AttrType = "array"
	AttrObject AttrType = "object"
)

// ValidAttrTypes is the set of allowed attribute type names.
var ValidAttrTypes = map[AttrType]bool{
	AttrString: true,
	AttrInt:    true,
	AttrBool:   true,
	AttrArray:  true,
	AttrObject: true,
}

// RecordType declares a record type and its plain attributes. Maintained
// fields are declared separately through FieldSpecs and must not collide
// with plain attribute names.
type RecordType struct {
	Name  string              `json:"name"`
	Attrs map[string]AttrType `json:"attrs"`
}

// Cardinality describes a relation edge's multiplicity, read in the
// declared (forward) direction: many_to_one means many From records each
// point at one To record.
type Cardinality string

// Valid cardinalities.
const (
	OneToOne   Cardinality = "one_to_one"
	OneToMany  Cardinality = "one_to_many"
	ManyToOne  Cardinality = "many_to_one"
	ManyToMany Cardinality = "many_to_many"
)

// ValidCardinalities is the set of allowed cardinality names.
var ValidCardinalities = map[Cardinality]bool{
	OneToOne:   true,
	OneToMany:  true,
	ManyToOne:  true,
	ManyToMany: true,
}

// RelationEdge declares a relation between two record types. The edge is
// declared once, on the owning (From) side; the graph also serves it under
// Reverse from the To side. Link rows in the store are always keyed by the
// forward name.
type RelationEdge struct {
	Name        string      `json:"name"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	Cardinality Cardinality `json:"cardinality"`
	Reverse     string      `json:"reverse"`
}

// ForwardMany reports whether forward traversal (From toward To) can yield
// more than one record.
func (e RelationEdge) ForwardMany() bool {
	return e.Cardinality == OneToMany || e.Cardinality == ManyToMany
}

// ReverseMany reports whether reverse traversal (To toward From) can yield
// more than one record.
func (e RelationEdge) ReverseMany() bool {
	return e.Cardinality == ManyToOne || e.Cardinality == ManyToMany
}

// Key returns the canonical identity of the edge, independent of the
// direction it was reached through.
func (e RelationEdge) Key() string {
	return e.From + "." + e.Name
}

// GeneratorSpec names the generator function computing a maintained field,
// plus its declarative arguments. Functions are resolved by name against a
// generator catalogue at registration.
type GeneratorSpec struct {
	Fn   string        `json:"fn"`
	Args record.Object `json:"args,omitempty"`
}

// Dependency declares that a maintained field must be recomputed when an
// attribute changes at the end of a relation path. An empty Path means the
// owning record itself. Relation-membership changes along the path trigger
// recomputation implicitly; Attrs only lists attribute-level triggers at
// the terminus.
type Dependency struct {
	Path  []string `json:"path,omitempty"`
	Attrs []string `json:"attrs"`
}

// FieldSpec declares a maintained field: who owns it, how it is computed,
// and which data it depends on. FieldSpecs are value objects; build them
// with Field(...).Generator(...).DependsOn(...).Spec() and hand them to
// Registry.Register.
type FieldSpec struct {
	Type      string        `json:"type"`
	Name      string        `json:"name"`
	Generator GeneratorSpec `json:"generator"`
	DependsOn []Dependency  `json:"depends_on,omitempty"`
}

// QualifiedName returns "Type.field", the form used in ranks, cycle paths,
// and log output.
func (s FieldSpec) QualifiedName() string {
	return s.Type + "." + s.Name
}

// PathStep is one resolved step of a dependent path: the underlying edge
// plus the direction it is traversed in. Inverted means the step walks the
// edge against its declared direction (To toward From).
type PathStep struct {
	Edge     RelationEdge
	Inverted bool
}

// SourceType returns the type the step starts from.
func (s PathStep) SourceType() string {
	if s.Inverted {
		return s.Edge.To
	}
	return s.Edge.From
}

// TargetType returns the type the step arrives at.
func (s PathStep) TargetType() string {
	if s.Inverted {
		return s.Edge.From
	}
	return s.Edge.To
}

// Many reports whether the step can yield more than one record.
func (s PathStep) Many() bool {
	if s.Inverted {
		return s.Edge.ReverseMany()
	}
	return s.Edge.ForwardMany()
}

// RelName returns the relation name as seen from the step's source type.
func (s PathStep) RelName() string {
	if s.Inverted {
		return s.Edge.Reverse
	}
	return s.Edge.Name
}

// ResolvedPath is a dependent path resolved into typed steps.
type ResolvedPath []PathStep

// Terminus returns the type the path ends at, given the owner type it
// starts from.
func (p ResolvedPath) Terminus(owner string) string {
	if len(p) == 0 {
		return owner
	}
	return p[len(p)-1].TargetType()
}

// String renders the path as its dotted relation names.
func (p ResolvedPath) String() string {
	names := make([]string, len(p))
	for i, step := range p {
		names[i] = step.RelName()
	}
	return strings.Join(names, ".")
}

// ParsePath splits a dotted relation path into its segments. An empty
// string yields nil (the owning record itself).
func ParsePath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}
