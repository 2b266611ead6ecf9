package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/upkeep/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Batch    string
	Type     string
	Record   int64
	Field    string
	Limit    int
}

// LogRow is one propagation-log entry in trace output.
type LogRow struct {
	Batch   string `json:"batch"`
	Seq     int64  `json:"seq"`
	Record  string `json:"record"`
	Field   string `json:"field"`
	Old     string `json:"old,omitempty"`
	New     string `json:"new,omitempty"`
	Changed bool   `json:"changed"`
	Failure string `json:"failure,omitempty"`
}

// StaleRow is one stale marker in trace output.
type StaleRow struct {
	Record string `json:"record"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Seq    int64  `json:"seq"`
}

// TraceReport holds the trace command's payload.
type TraceReport struct {
	Entries []LogRow   `json:"entries"`
	Stale   []StaleRow `json:"stale,omitempty"`
	Batches int        `json:"batches"`
	Changed int        `json:"changed"`
	Failed  int        `json:"failed"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the propagation log of a database",
		Long: `Show the propagation log: every maintained-field recomputation, in
logical-clock order, with its batch token, old and new value, and any
generator failure. Stale markers left by failed recomputations are
listed after the log.

Examples:
  upkeep trace --db records.db
  upkeep trace --db records.db --type compound --record 1
  upkeep trace --db records.db --batch 0198ad... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "only entries from this batch token")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only entries for this record type")
	cmd.Flags().Int64Var(&opts.Record, "record", 0, "only entries for this record id (needs --type)")
	cmd.Flags().StringVar(&opts.Field, "field", "", "only entries for this field")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum entries to show (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	if opts.Record != 0 && opts.Type == "" {
		return NewExitError(ExitCommandError, "--record requires --type")
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	entries, err := st.ReadLog(ctx, store.LogFilter{
		BatchToken: opts.Batch,
		RecordType: opts.Type,
		RecordID:   opts.Record,
		Field:      opts.Field,
		Limit:      opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "read propagation log", err)
	}
	stale, err := st.StaleFields(ctx, opts.Type)
	if err != nil {
		return WrapExitError(ExitCommandError, "read stale markers", err)
	}

	report := buildTraceReport(entries, stale)
	if formatter.Format == "json" {
		return formatter.JSON(report)
	}
	printTraceReport(formatter, report)
	return nil
}

func buildTraceReport(entries []store.LogEntry, stale []store.StaleField) TraceReport {
	report := TraceReport{Entries: make([]LogRow, 0, len(entries))}
	batches := make(map[string]bool)
	for _, e := range entries {
		batches[e.BatchToken] = true
		if e.Changed {
			report.Changed++
		}
		if e.Failure != "" {
			report.Failed++
		}
		report.Entries = append(report.Entries, LogRow{
			Batch:   e.BatchToken,
			Seq:     e.Seq,
			Record:  fmt.Sprintf("%s/%d", e.RecordType, e.RecordID),
			Field:   e.Field,
			Old:     e.OldValue,
			New:     e.NewValue,
			Changed: e.Changed,
			Failure: e.Failure,
		})
	}
	report.Batches = len(batches)
	for _, sf := range stale {
		report.Stale = append(report.Stale, StaleRow{
			Record: fmt.Sprintf("%s/%d", sf.RecordType, sf.RecordID),
			Field:  sf.Field,
			Reason: sf.Reason,
			Seq:    sf.Seq,
		})
	}
	return report
}

func printTraceReport(formatter *OutputFormatter, report TraceReport) {
	w := formatter.Writer

	if len(report.Entries) == 0 {
		fmt.Fprintln(w, "no log entries match")
	}
	for _, row := range report.Entries {
		fmt.Fprintf(w, "%s\n", formatLogRow(row))
	}

	if len(report.Stale) > 0 {
		fmt.Fprintln(w, "\nstale fields:")
		for _, sf := range report.Stale {
			fmt.Fprintf(w, "  %s.%s: %s (seq %d)\n", sf.Record, sf.Field, sf.Reason, sf.Seq)
		}
	}

	fmt.Fprintf(w, "\n%d entries, %d batches, %d changed, %d failed\n",
		len(report.Entries), report.Batches, report.Changed, report.Failed)
}

func formatLogRow(row LogRow) string {
	if row.Failure != "" {
		return fmt.Sprintf("[%s seq %d] %s.%s failed: %s",
			row.Batch, row.Seq, row.Record, row.Field, row.Failure)
	}
	old := row.Old
	if old == "" {
		old = "absent"
	}
	line := fmt.Sprintf("[%s seq %d] %s.%s %s -> %s",
		row.Batch, row.Seq, row.Record, row.Field, old, row.New)
	if !row.Changed {
		line += " (unchanged)"
	}
	return line
}
