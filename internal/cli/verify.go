package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/upkeep/internal/engine"
	"github.com/roach88/upkeep/internal/genfunc"
	"github.com/roach88/upkeep/internal/schema"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
	Schema   string
}

// VerifyReport holds the verify command's payload.
type VerifyReport struct {
	Consistent  bool                `json:"consistent"`
	Divergences []engine.Divergence `json:"divergences,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a database against its schema",
		Long: `Recompute every maintained field in a database fresh and report each
one whose stored value disagrees, whose generator fails, or which
carries a stale marker. Nothing is written.

A database maintained under a different schema fingerprint fails
verification outright; migrate it before trusting its values.

Exit codes:
  0 - every maintained field is consistent
  1 - divergent fields found, or schema fingerprint mismatch
  2 - command error (missing files, invalid schema)

Examples:
  upkeep verify --db records.db --schema schema.cue
  upkeep verify --db records.db --schema schema.cue --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "path to CUE schema (required)")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	compiled, violations, err := loadSchema(opts.Schema)
	if err != nil {
		return err
	}
	var reg *schema.Registry
	if len(violations) == 0 {
		reg, violations = buildRegistry(compiled)
	}
	if len(violations) > 0 {
		return reportViolations(formatter, violations)
	}

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	}

	ctx := context.Background()
	eng, err := engine.New(ctx, st, reg, genfunc.Builtins(), engine.WithLogger(logger))
	if err != nil {
		if engine.IsSchemaMismatch(err) {
			return reportMismatch(formatter, err)
		}
		return WrapExitError(ExitCommandError, "initialize engine", err)
	}

	divergences, err := eng.Verify(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "verify", err)
	}

	report := VerifyReport{
		Consistent:  len(divergences) == 0,
		Divergences: divergences,
	}

	if formatter.Format == "json" {
		if !report.Consistent {
			msg := fmt.Sprintf("%d divergent field(s)", len(divergences))
			if err := formatter.JSONError("E_DIVERGENT", msg, report); err != nil {
				return err
			}
			return NewExitError(ExitFailure, msg)
		}
		return formatter.JSON(report)
	}

	w := formatter.Writer
	if report.Consistent {
		fmt.Fprintln(w, "✓ consistent: every maintained field matches a fresh recomputation")
		return nil
	}
	for _, d := range divergences {
		fmt.Fprintf(w, "✗ %s\n", formatDivergence(d))
	}
	msg := fmt.Sprintf("%d divergent field(s)", len(divergences))
	fmt.Fprintf(w, "\n%s\n", msg)
	return NewExitError(ExitFailure, msg)
}

func reportMismatch(formatter *OutputFormatter, err error) error {
	if formatter.Format == "json" {
		if jerr := formatter.JSONError(string(engine.ErrCodeSchemaMismatch), err.Error(), nil); jerr != nil {
			return jerr
		}
		return NewExitError(ExitFailure, "schema fingerprint mismatch")
	}
	fmt.Fprintf(formatter.Writer, "✗ %v\n", err)
	return NewExitError(ExitFailure, "schema fingerprint mismatch")
}

func formatDivergence(d engine.Divergence) string {
	where := fmt.Sprintf("%s/%d.%s", d.Ref.Type, d.Ref.ID, d.Field)
	switch {
	case d.Failure != "":
		return fmt.Sprintf("%s generator failure: %s", where, d.Failure)
	case d.Stale:
		return fmt.Sprintf("%s stale, stored %s, computed %s", where, orAbsent(d.Stored), orAbsent(d.Computed))
	default:
		return fmt.Sprintf("%s stored %s, computed %s", where, orAbsent(d.Stored), orAbsent(d.Computed))
	}
}

func orAbsent(v string) string {
	if v == "" {
		return "absent"
	}
	return v
}
