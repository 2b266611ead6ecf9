package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/upkeep/internal/schema"
)

// ValidationResult is the validate command's payload.
type ValidationResult struct {
	Valid  bool                     `json:"valid"`
	Errors []schema.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema.cue>",
		Short: "Check a schema without touching a database",
		Long: `Validate a CUE schema: record types, relations, and maintained field
specs, including generator names, dependency paths, and cycles.

Violations are reported with their E-codes; nothing is written anywhere.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	compiled, violations, err := loadSchema(path)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		formatter.Verbosef("compiled %s: %d types, %d relations, %d maintained fields",
			path, len(compiled.Types), len(compiled.Edges), len(compiled.Fields))
		violations = validateSchema(compiled)
	}

	if len(violations) > 0 {
		return reportViolations(formatter, violations)
	}

	if formatter.Format == "json" {
		return formatter.JSON(ValidationResult{Valid: true})
	}
	fmt.Fprintln(formatter.Writer, "schema valid")
	return nil
}

func reportViolations(formatter *OutputFormatter, violations []schema.ValidationError) error {
	if formatter.Format == "json" {
		if err := formatter.JSONError(
			violations[0].Code,
			violations[0].Message,
			ValidationResult{Valid: false, Errors: violations},
		); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "schema invalid: %d violation(s)\n", len(violations))
		for _, v := range violations {
			fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", v.Code, v.Field, v.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d schema violation(s)", len(violations)))
}
