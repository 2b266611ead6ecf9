package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// LoadFile reads and compiles a CUE schema file. The file must carry a
// top-level "schema" struct.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return LoadBytes(data, path)
}

// LoadBytes compiles CUE source into a Schema. filename is used in error
// positions only.
func LoadBytes(data []byte, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	root := v.LookupPath(cue.ParsePath("schema"))
	if !root.Exists() {
		return nil, &CompileError{
			Field:   "schema",
			Message: "top-level schema struct is required",
			Pos:     v.Pos(),
		}
	}
	return CompileSchema(root)
}
