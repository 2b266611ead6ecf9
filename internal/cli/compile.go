package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/upkeep/internal/schema"
)

// CompileSummary is the compile command's payload: the resolved schema the
// engine would run, including evaluation ranks and the fingerprint that
// stamps databases.
type CompileSummary struct {
	Fingerprint string            `json:"fingerprint"`
	Types       []TypeSummary     `json:"types"`
	Relations   []RelationSummary `json:"relations,omitempty"`
	Fields      []FieldSummary    `json:"fields,omitempty"`
}

type TypeSummary struct {
	Name  string   `json:"name"`
	Attrs []string `json:"attrs,omitempty"`
}

type RelationSummary struct {
	From        string `json:"from"`
	Name        string `json:"name"`
	To          string `json:"to"`
	Cardinality string `json:"cardinality"`
	Reverse     string `json:"reverse"`
}

type FieldSummary struct {
	Field     string   `json:"field"`
	Generator string   `json:"generator"`
	Rank      int      `json:"rank"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <schema.cue>",
		Short: "Compile a schema and print the propagation plan",
		Long: `Compile a CUE schema into the engine's resolved form and print it:
record types, relations, and maintained fields ordered by evaluation
rank, plus the schema fingerprint used to guard databases against
running under a different schema than the one that maintained them.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(rootOpts, args[0], cmd)
		},
	}
}

func runCompile(opts *RootOptions, path string, cmd *cobra.Command) error {
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
	var reg *schema.Registry
	if len(violations) == 0 {
		reg, violations = buildRegistry(compiled)
	}
	if len(violations) > 0 {
		return reportViolations(formatter, violations)
	}

	summary := summarize(reg)
	if formatter.Format == "json" {
		return formatter.JSON(summary)
	}
	printSummary(formatter, path, summary)
	return nil
}

func summarize(reg *schema.Registry) CompileSummary {
	graph := reg.Graph()
	summary := CompileSummary{Fingerprint: reg.Fingerprint()}

	for _, name := range graph.TypeNames() {
		rt, _ := graph.Type(name)
		attrs := make([]string, 0, len(rt.Attrs))
		for attr := range rt.Attrs {
			attrs = append(attrs, attr)
		}
		sort.Strings(attrs)
		summary.Types = append(summary.Types, TypeSummary{Name: name, Attrs: attrs})
	}

	for _, edge := range graph.Edges() {
		summary.Relations = append(summary.Relations, RelationSummary{
			From:        edge.From,
			Name:        edge.Name,
			To:          edge.To,
			Cardinality: string(edge.Cardinality),
			Reverse:     edge.Reverse,
		})
	}
	sort.Slice(summary.Relations, func(i, j int) bool {
		return summary.Relations[i].From+"."+summary.Relations[i].Name <
			summary.Relations[j].From+"."+summary.Relations[j].Name
	})

	for _, spec := range reg.AllSpecs() {
		deps := make([]string, 0, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			target := strings.Join(dep.Path, ".")
			if target == "" {
				target = "self"
			}
			deps = append(deps, fmt.Sprintf("%s(%s)", target, strings.Join(dep.Attrs, ",")))
		}
		summary.Fields = append(summary.Fields, FieldSummary{
			Field:     spec.QualifiedName(),
			Generator: spec.Generator.Fn,
			Rank:      reg.Rank(spec.Type, spec.Name),
			DependsOn: deps,
		})
	}
	sort.Slice(summary.Fields, func(i, j int) bool {
		if summary.Fields[i].Rank != summary.Fields[j].Rank {
			return summary.Fields[i].Rank < summary.Fields[j].Rank
		}
		return summary.Fields[i].Field < summary.Fields[j].Field
	})

	return summary
}

func printSummary(formatter *OutputFormatter, path string, summary CompileSummary) {
	w := formatter.Writer
	fmt.Fprintf(w, "schema %s\n", path)
	fmt.Fprintf(w, "fingerprint %s\n", summary.Fingerprint)

	fmt.Fprintf(w, "\ntypes (%d):\n", len(summary.Types))
	for _, t := range summary.Types {
		fmt.Fprintf(w, "  %s (%s)\n", t.Name, strings.Join(t.Attrs, ", "))
	}

	if len(summary.Relations) > 0 {
		fmt.Fprintf(w, "\nrelations (%d):\n", len(summary.Relations))
		for _, r := range summary.Relations {
			fmt.Fprintf(w, "  %s.%s -> %s  %s, reverse %s\n",
				r.From, r.Name, r.To, r.Cardinality, r.Reverse)
		}
	}

	if len(summary.Fields) > 0 {
		fmt.Fprintf(w, "\nmaintained fields (%d):\n", len(summary.Fields))
		for _, f := range summary.Fields {
			fmt.Fprintf(w, "  [%d] %-40s %-16s %s\n",
				f.Rank, f.Field, f.Generator, strings.Join(f.DependsOn, " "))
		}
	}
}
