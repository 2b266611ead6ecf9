package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/upkeep/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Filter   string
	Trace    bool
	MaxSteps int
}

// ScenarioReport is one scenario's outcome in the run report.
type ScenarioReport struct {
	Name    string               `json:"name"`
	Pass    bool                 `json:"pass"`
	Aborted bool                 `json:"aborted,omitempty"`
	Errors  []string             `json:"errors,omitempty"`
	Trace   []harness.TraceEvent `json:"trace,omitempty"`
}

// RunReport aggregates the outcomes of every scenario in a run.
type RunReport struct {
	Scenarios []ScenarioReport `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml | scenarios-dir>",
		Short: "Run propagation scenarios",
		Long: `Run one scenario file, or every scenario under a directory, against a
fresh in-memory store with a deterministic clock and batch tokens.

Each scenario compiles its schema, applies its mutation steps, and then
checks its assertions against the final state and the propagation log.

Exit codes:
  0 - all scenarios passed
  1 - one or more scenarios failed
  2 - command error (bad path, invalid flags)

Examples:
  upkeep run scenario.yaml
  upkeep run ./scenarios --filter "cascade_*"
  upkeep run ./scenarios --trace --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by file-name glob")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "show each scenario's propagation trace")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "override the per-batch step ceiling (0 keeps each scenario's own)")

	return cmd
}

func runScenarios(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	files, err := collectScenarioFiles(path, opts.Filter)
	if err != nil {
		return err
	}
	formatter.Verbosef("collected %d scenario file(s)", len(files))

	if len(files) == 0 {
		if formatter.Format == "json" {
			return formatter.JSON(RunReport{Scenarios: []ScenarioReport{}})
		}
		fmt.Fprintln(formatter.Writer, "no scenarios found")
		return nil
	}

	report := RunReport{
		Scenarios: make([]ScenarioReport, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		sr := runScenarioFile(file, opts, formatter)
		report.Scenarios = append(report.Scenarios, sr)
		if sr.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	if formatter.Format == "json" {
		if report.Failed > 0 {
			msg := fmt.Sprintf("%d scenario(s) failed", report.Failed)
			if err := formatter.JSONError("E_SCENARIO_FAILED", msg, report); err != nil {
				return err
			}
			return NewExitError(ExitFailure, msg)
		}
		return formatter.JSON(report)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", report.Passed, report.Failed, report.Total)
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", report.Failed))
	}
	return nil
}

// collectScenarioFiles resolves the argument to scenario files: the file
// itself, or every .yaml/.yml under the directory. The filter matches
// file names without their extension and only applies to directories.
func collectScenarioFiles(path string, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("scenario path %s", path), err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("filter %q", filter), err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return nil, exitErr
		}
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("scanning %s", path), err)
	}
	return files, nil
}

// runScenarioFile executes a single scenario and reports it as it goes in
// text mode. Load and execution problems count as scenario failures, not
// command errors, so one broken file does not mask the rest of a suite.
func runScenarioFile(file string, opts *RunOptions, formatter *OutputFormatter) ScenarioReport {
	text := formatter.Format != "json"
	w := formatter.Writer

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		if text {
			fmt.Fprintf(w, "✗ %s\n  load: %v\n", filepath.Base(file), err)
		}
		return ScenarioReport{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("load: %v", err)},
		}
	}
	if opts.MaxSteps > 0 {
		scenario.MaxSteps = opts.MaxSteps
	}

	result, err := harness.Run(scenario)
	if err != nil {
		if text {
			fmt.Fprintf(w, "✗ %s\n  run: %v\n", scenario.Name, err)
		}
		return ScenarioReport{
			Name:   scenario.Name,
			Errors: []string{fmt.Sprintf("run: %v", err)},
		}
	}

	sr := ScenarioReport{
		Name:    scenario.Name,
		Pass:    result.Pass,
		Aborted: result.Aborted,
		Errors:  result.Errors,
	}
	if opts.Trace {
		sr.Trace = result.Trace
	}

	if text {
		if result.Pass {
			fmt.Fprintf(w, "✓ %s\n", scenario.Name)
		} else {
			fmt.Fprintf(w, "✗ %s\n", scenario.Name)
			for _, e := range result.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		if opts.Trace {
			printTrace(w, result.Trace)
		}
	}
	return sr
}

func printTrace(w io.Writer, trace []harness.TraceEvent) {
	for _, ev := range trace {
		fmt.Fprintf(w, "  %s\n", formatTraceEvent(ev))
	}
}

func formatTraceEvent(ev harness.TraceEvent) string {
	if ev.Failure != "" {
		return fmt.Sprintf("[%s seq %d] %s.%s failed: %s",
			ev.Batch, ev.Seq, ev.Record, ev.Field, ev.Failure)
	}
	old := ev.Old
	if old == "" {
		old = "absent"
	}
	line := fmt.Sprintf("[%s seq %d] %s.%s %s -> %s",
		ev.Batch, ev.Seq, ev.Record, ev.Field, old, ev.New)
	if !ev.Changed {
		line += " (unchanged)"
	}
	return line
}
