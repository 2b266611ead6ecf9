package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelingSchema(t *testing.T) string {
	t.Helper()
	path := filepath.Join("..", "harness", "testdata", "labeling.cue")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("labeling schema fixture: %v", err)
	}
	return path
}

func writeSchemaFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.cue")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateValidSchema(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{labelingSchema(t)})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "schema valid")
}

func TestValidateValidSchemaJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{labelingSchema(t)})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Empty(t, resp.Data.Errors)
}

func TestValidateMissingFile(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/schema.cue"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "schema file")
}

func TestValidateUnknownGenerator(t *testing.T) {
	path := writeSchemaFile(t, `
schema: {
	types: {
		compound: attrs: {formula: string}
	}
	maintained: {
		compound: {
			num_atoms: {
				generator: {fn: "no_such_fn"}
				depends_on: [{path: "", attrs: ["formula"]}]
			}
		}
	}
}
`)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "schema violation")

	output := buf.String()
	assert.Contains(t, output, "schema invalid: 1 violation(s)")
	assert.Contains(t, output, "E114")
	assert.Contains(t, output, "no_such_fn")
}

func TestValidateCycle(t *testing.T) {
	path := writeSchemaFile(t, `
schema: {
	types: {
		compound: attrs: {name: string}
	}
	maintained: {
		compound: {
			a: {
				generator: {fn: "constant", args: {value: 1}}
				depends_on: [{path: "", attrs: ["b"]}]
			}
			b: {
				generator: {fn: "constant", args: {value: 2}}
				depends_on: [{path: "", attrs: ["a"]}]
			}
		}
	}
}
`)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "E120")
	assert.Contains(t, output, "dependency cycle")
	assert.Contains(t, output, "->")
}

func TestValidateParseError(t *testing.T) {
	path := writeSchemaFile(t, "schema: {")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "E001")
}

func TestValidateViolationsJSON(t *testing.T) {
	path := writeSchemaFile(t, `
schema: {
	types: {
		compound: attrs: {formula: string}
	}
	maintained: {
		compound: {
			num_atoms: {
				generator: {fn: "no_such_fn"}
				depends_on: [{path: "", attrs: ["formula"]}]
			}
		}
	}
}
`)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *ErrorBody       `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E114", resp.Error.Code)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, "compound.num_atoms", resp.Data.Errors[0].Field)
}

func TestValidateVerboseOutput(t *testing.T) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", Verbose: true}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs([]string{labelingSchema(t)})

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, stderr.String(), "3 types")
	assert.Contains(t, stderr.String(), "3 maintained fields")
	assert.Contains(t, stdout.String(), "schema valid")
}
