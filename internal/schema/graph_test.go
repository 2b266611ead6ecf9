package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testGraph builds the graph shared by most tests: compounds owning atoms
// and tracers, with reverse names pointing back at the compound.
func testGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph(
		[]RecordType{
			{Name: "compound", Attrs: map[string]AttrType{"formula": AttrString, "name": AttrString}},
			{Name: "atom", Attrs: map[string]AttrType{"symbol": AttrString, "labelable": AttrBool}},
			{Name: "tracer", Attrs: map[string]AttrType{"name": AttrString, "isotope": AttrString}},
		},
		[]RelationEdge{
			{Name: "atoms", From: "compound", To: "atom", Cardinality: OneToMany, Reverse: "compound"},
			{Name: "tracers", From: "compound", To: "tracer", Cardinality: OneToMany, Reverse: "compound"},
		},
	)
	require.NoError(t, err, "test graph must validate")
	return g
}

func violationCodes(violations []ValidationError) []string {
	codes := make([]string, len(violations))
	for i, v := range violations {
		codes[i] = v.Code
	}
	return codes
}

func TestNewGraphValid(t *testing.T) {
	g := testGraph(t)

	rt, ok := g.Type("compound")
	require.True(t, ok)
	assert.Equal(t, AttrString, rt.Attrs["formula"])

	_, ok = g.Type("molecule")
	assert.False(t, ok, "undeclared type must not resolve")

	assert.Equal(t, []string{"atom", "compound", "tracer"}, g.TypeNames())

	edges := g.Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, "compound.atoms", edges[0].Key())
	assert.Equal(t, "compound.tracers", edges[1].Key())
}

func TestNewGraphViolations(t *testing.T) {
	types := []RecordType{
		{Name: "compound", Attrs: map[string]AttrType{"formula": AttrString}},
		{Name: "atom", Attrs: map[string]AttrType{"symbol": AttrString}},
	}

	tests := []struct {
		name      string
		types     []RecordType
		edges     []RelationEdge
		wantCodes []string
	}{
		{
			name:      "empty type name",
			types:     []RecordType{{Name: ""}},
			wantCodes: []string{ErrCodeEmptyName},
		},
		{
			name: "duplicate type",
			types: []RecordType{
				{Name: "compound"},
				{Name: "compound"},
			},
			wantCodes: []string{ErrCodeDuplicateType},
		},
		{
			name: "invalid attr type",
			types: []RecordType{
				{Name: "compound", Attrs: map[string]AttrType{"mass": "float"}},
			},
			wantCodes: []string{ErrCodeBadAttrType},
		},
		{
			name:  "relation missing reverse",
			types: types,
			edges: []RelationEdge{
				{Name: "atoms", From: "compound", To: "atom", Cardinality: OneToMany},
			},
			wantCodes: []string{ErrCodeMissingReverse},
		},
		{
			name:  "relation unknown endpoint",
			types: types,
			edges: []RelationEdge{
				{Name: "atoms", From: "compound", To: "molecule", Cardinality: OneToMany, Reverse: "compound"},
			},
			wantCodes: []string{ErrCodeUnknownType},
		},
		{
			name:  "invalid cardinality",
			types: types,
			edges: []RelationEdge{
				{Name: "atoms", From: "compound", To: "atom", Cardinality: "many", Reverse: "compound"},
			},
			wantCodes: []string{ErrCodeBadCardinality},
		},
		{
			name:  "relation name collides with attr",
			types: types,
			edges: []RelationEdge{
				{Name: "formula", From: "compound", To: "atom", Cardinality: OneToMany, Reverse: "compound"},
			},
			wantCodes: []string{ErrCodeNameCollision},
		},
		{
			name:  "reverse name collides with attr",
			types: types,
			edges: []RelationEdge{
				{Name: "atoms", From: "compound", To: "atom", Cardinality: OneToMany, Reverse: "symbol"},
			},
			wantCodes: []string{ErrCodeNameCollision},
		},
		{
			name:  "duplicate relation name",
			types: types,
			edges: []RelationEdge{
				{Name: "atoms", From: "compound", To: "atom", Cardinality: OneToMany, Reverse: "compound"},
				{Name: "atoms", From: "compound", To: "atom", Cardinality: ManyToMany, Reverse: "compounds"},
			},
			wantCodes: []string{ErrCodeDuplicateRelation},
		},
		{
			name: "violations accumulate",
			types: []RecordType{
				{Name: ""},
				{Name: "compound", Attrs: map[string]AttrType{"mass": "float"}},
			},
			wantCodes: []string{ErrCodeEmptyName, ErrCodeBadAttrType},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.types, tt.edges)
			var serr *InvalidSchemaError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tt.wantCodes, violationCodes(serr.Violations))
		})
	}
}

func TestGraphStep(t *testing.T) {
	g := testGraph(t)

	step, ok := g.Step("compound", "atoms")
	require.True(t, ok)
	assert.False(t, step.Inverted)
	assert.Equal(t, "compound", step.SourceType())
	assert.Equal(t, "atom", step.TargetType())
	assert.True(t, step.Many(), "one_to_many forward yields many")
	assert.Equal(t, "atoms", step.RelName())

	step, ok = g.Step("atom", "compound")
	require.True(t, ok)
	assert.True(t, step.Inverted)
	assert.Equal(t, "atom", step.SourceType())
	assert.Equal(t, "compound", step.TargetType())
	assert.False(t, step.Many(), "one_to_many reverse yields one")
	assert.Equal(t, "compound", step.RelName())

	_, ok = g.Step("compound", "bonds")
	assert.False(t, ok)
}

func TestGraphRelations(t *testing.T) {
	g := testGraph(t)

	assert.Equal(t, []string{"atoms", "tracers"}, g.Relations("compound"))
	assert.Equal(t, []string{"compound"}, g.Relations("atom"))
	assert.Empty(t, g.Relations("molecule"))
}

func TestResolvePath(t *testing.T) {
	g := testGraph(t)

	t.Run("empty path is the owner", func(t *testing.T) {
		path, verr := g.ResolvePath("compound", nil)
		require.Nil(t, verr)
		assert.Empty(t, path)
		assert.Equal(t, "compound", path.Terminus("compound"))
	})

	t.Run("two step round trip", func(t *testing.T) {
		path, verr := g.ResolvePath("tracer", ParsePath("compound.atoms"))
		require.Nil(t, verr)
		require.Len(t, path, 2)
		assert.True(t, path[0].Inverted)
		assert.False(t, path[1].Inverted)
		assert.Equal(t, "atom", path.Terminus("tracer"))
		assert.Equal(t, "compound.atoms", path.String())
	})

	t.Run("unknown relation mid path", func(t *testing.T) {
		_, verr := g.ResolvePath("tracer", ParsePath("compound.bonds"))
		require.NotNil(t, verr)
		assert.Equal(t, ErrCodeUnknownRelation, verr.Code)
		assert.Contains(t, verr.Message, "bonds")
	})
}

func TestParsePath(t *testing.T) {
	assert.Nil(t, ParsePath(""))
	assert.Equal(t, []string{"atoms"}, ParsePath("atoms"))
	assert.Equal(t, []string{"compound", "atoms"}, ParsePath("compound.atoms"))
}
