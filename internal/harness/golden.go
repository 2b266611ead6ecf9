package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden file payload: the scenario's identity plus
// its full audit trace. Runs are deterministic, so the snapshot is stable
// byte for byte.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Mode     string       `json:"mode,omitempty"`
	Aborted  bool         `json:"aborted,omitempty"`
	Trace    []TraceEvent `json:"trace"`
}

// RunWithGolden executes a scenario, fails the test on any step or
// assertion mismatch, and compares the trace against
// testdata/golden/<name>.golden.
//
// Regenerate goldens with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	if !result.Pass {
		for _, e := range result.Errors {
			t.Errorf("scenario %s: %s", scenario.Name, e)
		}
		return
	}
	AssertGolden(t, scenario, result)
}

// AssertGolden compares an already-run result's trace against the
// scenario's golden file.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) {
	t.Helper()

	snapshot := TraceSnapshot{
		Scenario: scenario.Name,
		Mode:     scenario.Mode,
		Aborted:  result.Aborted,
		Trace:    result.Trace,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
}
