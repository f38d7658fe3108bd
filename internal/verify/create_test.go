package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listproof/internal/predicate"
	"github.com/roach88/listproof/internal/testutil"
)

func ruleCounter(t *testing.T) Counter {
	return Counter{
		Resource: testutil.Spec(t, "factor"),
		IDField:  testutil.CounterIDField,
		Column:   testutil.CounterColumn,
		Where:    predicate.Equals{Field: "status", Value: "1"},
	}
}

func TestVerifyCreation_RuleBumpsFactor(t *testing.T) {
	f := newFixture(t)
	v := f.verifier(nil)
	ctx := context.Background()
	spec := testutil.Spec(t, "rule")

	payload := map[string]any{
		"name":      "rule_" + RandToken,
		"operator":  ">",
		"threshold": 1.5,
		"status":    "1",
	}
	require.NoError(t, v.VerifyCreation(ctx, spec, payload, ruleCounter(t)))
	assert.NotContains(t, payload, testutil.CounterIDField, "payload is not modified")

	snap, err := v.Snapshot(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, testutil.RuleCount+1, snap.Count, "snapshot was invalidated")
}

func TestVerifyCreation_ExplicitReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := map[string]any{"name": "rule_x", "operator": "<", "status": "0", "left_factor": int64(2)}
	require.NoError(t, f.verifier(nil).VerifyCreation(ctx, testutil.Spec(t, "rule"), payload, ruleCounter(t)))

	row, err := f.oracle.Record(ctx, testutil.Spec(t, "factor"), "2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["ref_count"])
}

func TestVerifyCreation_CounterNotBumped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// rule.id is not a counter the twin maintains.
	counter := Counter{Resource: testutil.Spec(t, "factor"), IDField: "left_factor", Column: "service_id"}
	payload := map[string]any{"name": "rule_y", "operator": "<", "status": "0", "left_factor": int64(2)}

	fail := failure(t, f.verifier(nil).VerifyCreation(ctx, testutil.Spec(t, "rule"), payload, counter))
	assert.Equal(t, ClassDefect, fail.Class)
	assert.Equal(t, "factor", fail.Resource)
	assert.Equal(t, int64(4), fail.Expected)
	assert.Equal(t, int64(3), fail.Actual)
}

func TestVerifyCreation_NoCandidateSkips(t *testing.T) {
	f := newFixture(t)
	counter := ruleCounter(t)
	counter.Where = predicate.Equals{Field: "status", Value: "9"}

	err := f.verifier(nil).VerifyCreation(context.Background(), testutil.Spec(t, "rule"), map[string]any{"name": "r"}, counter)
	assert.True(t, IsSkip(err), "got %v", err)
}

func TestExpand(t *testing.T) {
	v := New(nil, nil, WithRand(testutil.NewRand(1)))
	out := v.expand(map[string]any{"name": "rule_" + RandToken, "n": 3})

	assert.Regexp(t, `^rule_\d{8}$`, out["name"])
	assert.Equal(t, 3, out["n"])
	assert.NotNil(t, v.expand(nil))
}
