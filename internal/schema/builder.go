package schema

import (
	"github.com/roach88/upkeep/internal/record"
)

// FieldSpecBuilder assembles a FieldSpec incrementally. The builder is the
// only supported way to construct specs in Go code; declarative sources
// (compiled schemas) produce the same FieldSpec values through it so that
// every spec passes through one construction path.
//
// The zero builder is not usable; start with Field.
type FieldSpecBuilder struct {
	spec FieldSpec
}

// Field starts a spec for a maintained field on the given record type.
func Field(ownerType, name string) *FieldSpecBuilder {
	return &FieldSpecBuilder{spec: FieldSpec{Type: ownerType, Name: name}}
}

// Generator sets the generator function and its static arguments. Args may
// be nil when the function takes none.
func (b *FieldSpecBuilder) Generator(fn string, args record.Object) *FieldSpecBuilder {
	b.spec.Generator = GeneratorSpec{Fn: fn, Args: args}
	return b
}

// DependsOn adds one dependency: a dotted relation path from the owner type
// (empty string for the owner itself) and the attrs watched at its terminus.
// Declaration order is preserved and becomes part of the spec identity.
func (b *FieldSpecBuilder) DependsOn(path string, attrs ...string) *FieldSpecBuilder {
	b.spec.DependsOn = append(b.spec.DependsOn, Dependency{Path: ParsePath(path), Attrs: attrs})
	return b
}

// Spec returns the assembled spec. The builder stays usable; later calls
// mutate the same underlying value, so take Spec last.
func (b *FieldSpecBuilder) Spec() FieldSpec {
	return b.spec
}
