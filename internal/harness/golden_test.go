package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Every scenario under testdata/scenarios runs against its golden trace.
// The goldens pin batch grouping, sequence numbers, evaluation order, and
// old/new values; regenerate with go test ./internal/harness -update.
func TestScenarios_MatchGoldenTraces(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)
		t.Run(scenario.Name, func(t *testing.T) {
			RunWithGolden(t, scenario)
		})
	}
}
