package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one declarative propagation test: a schema, a sequence of
// mutations, and assertions over the final state and the audit trace.
type Scenario struct {
	// Name uniquely identifies the scenario. Doubles as the golden file
	// name, so keep it filesystem-safe.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Schema is the path to the CUE schema file, relative to the scenario
	// file unless absolute.
	Schema string `yaml:"schema"`

	// Mode is the propagation mode the session runs under: immediate
	// (default), deferred, or disabled.
	Mode string `yaml:"mode,omitempty"`

	// MaxSteps overrides the per-batch step ceiling. Zero keeps the
	// engine default. Small values make quota scenarios cheap to write.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Steps is the mutation sequence. Steps run in order inside one
	// session, which commits after the last step.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final store and the audit trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one mutation in a scenario. Op selects the shape; the loader
// validates that the fields the op needs are present.
//
// Records are named by handles: a create step binds its handle via "as",
// later steps refer back to it via "record", "to", or "from".
type Step struct {
	// Op is one of: create, update, delete, link, unlink, flush.
	Op string `yaml:"op"`

	// As binds the created record to a handle (create only).
	As string `yaml:"as,omitempty"`

	// Type is the record type (create only).
	Type string `yaml:"type,omitempty"`

	// Record is the handle of the record being mutated (update, delete,
	// link, unlink; for link/unlink it is the near side).
	Record string `yaml:"record,omitempty"`

	// Attrs are the written attributes (create, update).
	Attrs map[string]interface{} `yaml:"attrs,omitempty"`

	// Rel names the relation from Record's side (link, unlink).
	Rel string `yaml:"rel,omitempty"`

	// To is the handle of the far record (link, unlink).
	To string `yaml:"to,omitempty"`

	// ExpectError asserts the step fails with this engine error code
	// (e.g. ILLEGAL_DIRECT_WRITE). The scenario fails if the step
	// succeeds or fails with a different code.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates final state, staleness, or the audit trace.
type Assertion struct {
	// Type is one of: field_equals, field_absent, stale, recompute_count,
	// recompute_order, consistent.
	Type string `yaml:"type"`

	// Record is a handle (all types except recompute_order, consistent).
	Record string `yaml:"record,omitempty"`

	// Field names the attribute or maintained field under test.
	Field string `yaml:"field,omitempty"`

	// Value is the expected value (field_equals).
	Value interface{} `yaml:"value,omitempty"`

	// Stale is the expected marker state (stale).
	Stale bool `yaml:"stale,omitempty"`

	// Count is the expected number of audit rows for Record.Field
	// (recompute_count).
	Count int `yaml:"count,omitempty"`

	// Fields lists handle-qualified fields ("ala.num_labelable_atoms")
	// whose first recomputations must appear in this order
	// (recompute_order).
	Fields []string `yaml:"fields,omitempty"`
}

// Assertion type names.
const (
	AssertFieldEquals    = "field_equals"
	AssertFieldAbsent    = "field_absent"
	AssertStale          = "stale"
	AssertRecomputeCount = "recompute_count"
	AssertRecomputeOrder = "recompute_order"
	AssertConsistent     = "consistent"
)

// Step op names.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpLink   = "link"
	OpUnlink = "unlink"
	OpFlush  = "flush"
)

// LoadScenario reads and parses a scenario YAML file. The schema path is
// resolved relative to the scenario file. Unknown YAML fields are rejected,
// which catches typos like "assertion:" for "assertions:".
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := os.Stat(s.Schema); err != nil {
		return fmt.Errorf("schema file %s: %w", s.Schema, err)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	switch s.Mode {
	case "", "immediate", "deferred", "disabled":
	default:
		return fmt.Errorf("mode must be immediate, deferred, or disabled, not %q", s.Mode)
	}

	handles := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(i, &step, handles); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, handles); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step, handles map[string]bool) error {
	if st.ExpectError != "" && !knownErrorCodes[st.ExpectError] {
		return fmt.Errorf("steps[%d]: unknown expect_error code %q", i, st.ExpectError)
	}
	needHandle := func(field, h string) error {
		if h == "" {
			return fmt.Errorf("steps[%d]: %s is required for %s", i, field, st.Op)
		}
		if !handles[h] {
			return fmt.Errorf("steps[%d]: handle %q is not bound by an earlier create", i, h)
		}
		return nil
	}

	switch st.Op {
	case OpCreate:
		if st.Type == "" {
			return fmt.Errorf("steps[%d]: type is required for create", i)
		}
		if st.As == "" {
			return fmt.Errorf("steps[%d]: as is required for create", i)
		}
		if handles[st.As] {
			return fmt.Errorf("steps[%d]: handle %q is already bound", i, st.As)
		}
		// A step expected to fail binds nothing.
		if st.ExpectError == "" {
			handles[st.As] = true
		}
	case OpUpdate:
		if err := needHandle("record", st.Record); err != nil {
			return err
		}
		if len(st.Attrs) == 0 {
			return fmt.Errorf("steps[%d]: attrs is required for update", i)
		}
	case OpDelete:
		if err := needHandle("record", st.Record); err != nil {
			return err
		}
	case OpLink, OpUnlink:
		if err := needHandle("record", st.Record); err != nil {
			return err
		}
		if st.Rel == "" {
			return fmt.Errorf("steps[%d]: rel is required for %s", i, st.Op)
		}
		if err := needHandle("to", st.To); err != nil {
			return err
		}
	case OpFlush:
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, st.Op)
	}
	return nil
}

func validateAssertion(i int, a *Assertion, handles map[string]bool) error {
	needHandle := func(h string) error {
		if h == "" {
			return fmt.Errorf("assertions[%d]: record is required for %s", i, a.Type)
		}
		if !handles[h] {
			return fmt.Errorf("assertions[%d]: handle %q is not bound by any create", i, h)
		}
		return nil
	}

	switch a.Type {
	case AssertFieldEquals:
		if err := needHandle(a.Record); err != nil {
			return err
		}
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for field_equals", i)
		}
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for field_equals", i)
		}
	case AssertFieldAbsent, AssertStale:
		if err := needHandle(a.Record); err != nil {
			return err
		}
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for %s", i, a.Type)
		}
	case AssertRecomputeCount:
		if err := needHandle(a.Record); err != nil {
			return err
		}
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for recompute_count", i)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	case AssertRecomputeOrder:
		if len(a.Fields) < 2 {
			return fmt.Errorf("assertions[%d]: recompute_order needs at least two fields", i)
		}
		for _, f := range a.Fields {
			h, _, ok := splitQualified(f)
			if !ok {
				return fmt.Errorf("assertions[%d]: field %q must be handle.field", i, f)
			}
			if !handles[h] {
				return fmt.Errorf("assertions[%d]: handle %q is not bound by any create", i, h)
			}
		}
	case AssertConsistent:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
