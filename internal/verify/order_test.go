package verify

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/testutil"
)

func TestVerifyOrdering_DefaultFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"factor", "rule", "factor_application"} {
		t.Run(name, func(t *testing.T) {
			for seed := uint64(1); seed <= 3; seed++ {
				v := f.verifier(nil, WithRand(testutil.NewRand(seed)))
				require.NoError(t, v.VerifyOrdering(ctx, testutil.Spec(t, name), nil), "seed %d", seed)
			}
		})
	}
}

func TestVerifyOrdering_Descending(t *testing.T) {
	f := newFixture(t)
	err := f.verifier(nil).VerifyOrdering(context.Background(), testutil.Spec(t, "factor"), []string{"-modify_time", "-id", "-threshold"})
	// threshold is not a factor attribute.
	fail := failure(t, err)
	assert.Equal(t, ClassDefect, fail.Class)
	assert.Contains(t, fail.Message, "threshold")

	require.NoError(t, f.verifier(nil).VerifyOrdering(context.Background(), testutil.Spec(t, "factor"), []string{"-modify_time", "-id"}))
}

func TestVerifyOrdering_ReversedPageIsDefect(t *testing.T) {
	f := newFixture(t)
	reverse := tamperSurface{Surface: f.client, page: func(p *api.Page) {
		slices.Reverse(p.Results)
	}}
	fail := failure(t, f.verifier(reverse).VerifyOrdering(context.Background(), testutil.Spec(t, "rule"), []string{"id"}))
	assert.Equal(t, ClassDefect, fail.Class)
	assert.Equal(t, "non-decreasing", fail.Expected)
}

func TestVerifyOrdering_SingleRowSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Exec(ctx, "DELETE FROM rule WHERE id <> 3")
	require.NoError(t, err)

	err = f.verifier(nil).VerifyOrdering(ctx, testutil.Spec(t, "rule"), nil)
	assert.True(t, IsSkip(err), "got %v", err)
}

func TestOrderIndices(t *testing.T) {
	v := New(nil, nil, WithRand(testutil.NewRand(testutil.Seed)))
	for range 200 {
		idx := v.orderIndices(10, true)
		assert.True(t, slices.IsSorted(idx))
		assert.Equal(t, 9, idx[len(idx)-1], "anchored on the last row")
		assert.GreaterOrEqual(t, len(idx), 2)

		idx = v.orderIndices(2, false)
		assert.Equal(t, []int{0, 1}, idx)
	}
}

func TestNormalizeOrder_Monotonic(t *testing.T) {
	tests := []struct {
		name string
		vals []any
		asc  bool
		desc bool
	}{
		{"numbers", []any{int64(2), "10", 11.5}, true, false},
		{"numeric strings compare as numbers", []any{"9", "10"}, true, false},
		{"mixed falls back to text", []any{"9", "a10"}, true, false},
		{"case-insensitive", []any{"apple", "Banana", "cherry"}, true, false},
		{"descending", []any{"2024-03-02", "2024-03-01"}, false, true},
		{"ties", []any{int64(1), int64(1), int64(1)}, true, true},
		{"null first", []any{nil, "a"}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := normalizeOrder(tt.vals)
			assert.Equal(t, tt.asc, monotonic(keys, false))
			assert.Equal(t, tt.desc, monotonic(keys, true))
		})
	}
}
