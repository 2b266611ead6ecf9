package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario drops a scenario file plus an empty schema file into a
// temp dir, so load validation can run without a real schema.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.cue"), []byte("schema: {}"), 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalScenario = `
name: minimal
schema: schema.cue
steps:
  - op: create
    as: c
    type: compound
    attrs: { formula: C2H6 }
assertions:
  - type: consistent
`

func TestLoadScenario_Minimal(t *testing.T) {
	path := writeScenario(t, minimalScenario)

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", sc.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "schema.cue"), sc.Schema)
	require.Len(t, sc.Steps, 1)
	assert.Equal(t, OpCreate, sc.Steps[0].Op)
	assert.Equal(t, "c", sc.Steps[0].As)
}

func TestLoadScenario_UnknownYAMLKeyRejected(t *testing.T) {
	path := writeScenario(t, `
name: typo
schema: schema.cue
steps:
  - op: create
    as: c
    type: compound
assertion:
  - type: consistent
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion")
}

func TestLoadScenario_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			want: "name is required",
			body: `
schema: schema.cue
steps: [{op: flush}]
assertions: [{type: consistent}]
`,
		},
		{
			name: "missing schema",
			want: "schema is required",
			body: `
name: x
steps: [{op: flush}]
assertions: [{type: consistent}]
`,
		},
		{
			name: "no steps",
			want: "steps list is required",
			body: `
name: x
schema: schema.cue
assertions: [{type: consistent}]
`,
		},
		{
			name: "no assertions",
			want: "assertions list is required",
			body: `
name: x
schema: schema.cue
steps: [{op: flush}]
`,
		},
		{
			name: "bad mode",
			want: "mode must be",
			body: `
name: x
schema: schema.cue
mode: eventually
steps: [{op: flush}]
assertions: [{type: consistent}]
`,
		},
		{
			name: "unknown op",
			want: `unknown op "destroy"`,
			body: `
name: x
schema: schema.cue
steps: [{op: destroy}]
assertions: [{type: consistent}]
`,
		},
		{
			name: "unbound handle",
			want: `handle "ghost" is not bound`,
			body: `
name: x
schema: schema.cue
steps:
  - op: delete
    record: ghost
assertions: [{type: consistent}]
`,
		},
		{
			name: "duplicate handle",
			want: `handle "c" is already bound`,
			body: `
name: x
schema: schema.cue
steps:
  - {op: create, as: c, type: compound}
  - {op: create, as: c, type: compound}
assertions: [{type: consistent}]
`,
		},
		{
			name: "unknown expect_error code",
			want: `unknown expect_error code "KABOOM"`,
			body: `
name: x
schema: schema.cue
steps:
  - {op: create, as: c, type: compound, expect_error: KABOOM}
assertions: [{type: consistent}]
`,
		},
		{
			name: "link without rel",
			want: "rel is required",
			body: `
name: x
schema: schema.cue
steps:
  - {op: create, as: a, type: compound}
  - {op: create, as: b, type: tracer}
  - {op: link, record: a, to: b}
assertions: [{type: consistent}]
`,
		},
		{
			name: "update without attrs",
			want: "attrs is required",
			body: `
name: x
schema: schema.cue
steps:
  - {op: create, as: c, type: compound}
  - {op: update, record: c}
assertions: [{type: consistent}]
`,
		},
		{
			name: "field_equals without value",
			want: "value is required",
			body: `
name: x
schema: schema.cue
steps:
  - {op: create, as: c, type: compound}
assertions:
  - {type: field_equals, record: c, field: num}
`,
		},
		{
			name: "recompute_order with one field",
			want: "at least two fields",
			body: `
name: x
schema: schema.cue
steps:
  - {op: create, as: c, type: compound}
assertions:
  - {type: recompute_order, fields: [c.num]}
`,
		},
		{
			name: "recompute_order unqualified field",
			want: "must be handle.field",
			body: `
name: x
schema: schema.cue
steps:
  - {op: create, as: c, type: compound}
assertions:
  - {type: recompute_order, fields: [c.num, num]}
`,
		},
		{
			name: "assertion on unbound handle",
			want: `handle "d" is not bound`,
			body: `
name: x
schema: schema.cue
steps:
  - {op: create, as: c, type: compound}
assertions:
  - {type: field_absent, record: d, field: num}
`,
		},
		{
			name: "unknown assertion type",
			want: `unknown assertion type "always_pass"`,
			body: `
name: x
schema: schema.cue
steps:
  - {op: create, as: c, type: compound}
assertions:
  - {type: always_pass}
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadScenario_FailedCreateBindsNoHandle(t *testing.T) {
	_, err := LoadScenario(writeScenario(t, `
name: x
schema: schema.cue
steps:
  - {op: create, as: c, type: compound, expect_error: INVALID_MUTATION}
  - {op: delete, record: c}
assertions: [{type: consistent}]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `handle "c" is not bound`)
}

func TestLoadScenario_MissingSchemaFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: x
schema: nowhere.cue
steps: [{op: flush}]
assertions: [{type: consistent}]
`), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere.cue")
}

func TestSplitQualified(t *testing.T) {
	h, f, ok := splitQualified("ala.num_labelable_atoms")
	require.True(t, ok)
	assert.Equal(t, "ala", h)
	assert.Equal(t, "num_labelable_atoms", f)

	for _, bad := range []string{"", "ala", ".num", "ala.", "."} {
		_, _, ok := splitQualified(bad)
		assert.False(t, ok, bad)
	}
}
