package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/listproof/internal/report"
)

// RunWithGolden executes a scenario and compares its canonical JSON result
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Results embed the run id, so env should carry a fixed RunID or RunIDs
// generator.
func RunWithGolden(t *testing.T, ctx context.Context, env *Env, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(ctx, env, scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := report.MarshalCanonical(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
