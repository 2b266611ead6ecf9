package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/roach88/upkeep/internal/compiler"
	"github.com/roach88/upkeep/internal/genfunc"
	"github.com/roach88/upkeep/internal/schema"
	"github.com/roach88/upkeep/internal/store"
)

// ErrCodeParse labels schema-file problems below the validation layer:
// unreadable CUE, a missing top-level schema struct, malformed
// declarations. Structural violations keep their own E1xx codes.
const ErrCodeParse = "E001"

// loadSchema compiles a schema file. A missing file is a command error;
// CUE-level problems come back as violations for the caller to report.
func loadSchema(path string) (*compiler.Schema, []schema.ValidationError, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, WrapExitError(ExitCommandError, fmt.Sprintf("schema file %s", path), err)
	}
	compiled, err := compiler.LoadFile(path)
	if err != nil {
		return nil, []schema.ValidationError{{
			Field:   "schema",
			Message: err.Error(),
			Code:    ErrCodeParse,
		}}, nil
	}
	return compiled, nil, nil
}

// validateSchema checks a compiled schema against the builtin generator
// catalogue, accumulating violations across field specs instead of
// stopping at the first bad one.
func validateSchema(compiled *compiler.Schema) []schema.ValidationError {
	graph, err := schema.NewGraph(compiled.Types, compiled.Edges)
	if err != nil {
		return flattenSchemaError(err)
	}

	reg := schema.NewRegistry(graph, genfunc.Builtins())
	var violations []schema.ValidationError
	for _, spec := range compiled.Fields {
		if err := reg.Register(spec); err != nil {
			violations = append(violations, flattenSchemaError(err)...)
		}
	}
	if len(violations) > 0 {
		return violations
	}
	if err := reg.Seal(); err != nil {
		return flattenSchemaError(err)
	}
	return nil
}

// buildRegistry assembles a sealed registry for commands that go on to run
// the engine.
func buildRegistry(compiled *compiler.Schema) (*schema.Registry, []schema.ValidationError) {
	reg, err := compiled.Build(genfunc.Builtins())
	if err != nil {
		return nil, flattenSchemaError(err)
	}
	return reg, nil
}

// flattenSchemaError converts the schema package's structured errors into
// a flat violation list for output.
func flattenSchemaError(err error) []schema.ValidationError {
	var (
		graphErr *schema.InvalidSchemaError
		specErr  *schema.InvalidFieldSpecError
		cycleErr *schema.CyclicDependencyError
	)
	switch {
	case errors.As(err, &graphErr):
		return graphErr.Violations
	case errors.As(err, &specErr):
		return specErr.Violations
	case errors.As(err, &cycleErr):
		return []schema.ValidationError{{
			Field:   strings.Join(cycleErr.Path, " -> "),
			Message: "maintained-field dependency cycle",
			Code:    schema.ErrCodeCycle,
		}}
	default:
		return []schema.ValidationError{{
			Field:   "schema",
			Message: err.Error(),
			Code:    ErrCodeParse,
		}}
	}
}

// openStore opens an existing database. The store layer creates missing
// files, so existence is checked here first; inspection commands must not
// conjure an empty database out of a typo.
func openStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("database %s", path), err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("open database %s", path), err)
	}
	return st, nil
}
