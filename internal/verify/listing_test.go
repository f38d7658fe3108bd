package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/testutil"
)

func TestVerifyDefaultListing_Fixture(t *testing.T) {
	f := newFixture(t)
	v := f.verifier(nil)
	ctx := context.Background()

	for _, name := range []string{"factor", "rule", "factor_application"} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, v.VerifyDefaultListing(ctx, testutil.Spec(t, name)))
		})
	}

	pageable, err := v.Pageable(ctx, testutil.Spec(t, "factor"))
	require.NoError(t, err)
	assert.True(t, pageable)
	pageable, err = v.Pageable(ctx, testutil.Spec(t, "factor_application"))
	require.NoError(t, err)
	assert.False(t, pageable)
}

func TestVerifyDefaultListing_StaleSnapshotIsDefect(t *testing.T) {
	f := newFixture(t)
	v := f.verifier(nil)
	ctx := context.Background()
	spec := testutil.Spec(t, "rule")

	snap, err := v.Snapshot(ctx, spec)
	require.NoError(t, err)
	require.Equal(t, testutil.RuleCount, snap.Count)

	_, err = f.store.Exec(ctx, "DELETE FROM rule WHERE id = 7")
	require.NoError(t, err)

	fail := failure(t, v.VerifyDefaultListing(ctx, spec))
	assert.Equal(t, ClassDefect, fail.Class)
	assert.Equal(t, testutil.RuleCount, fail.Expected)
	assert.Equal(t, testutil.RuleCount-1, fail.Actual)

	v.Invalidate(spec.Name)
	require.NoError(t, v.VerifyDefaultListing(ctx, spec))
}

func TestVerifyDefaultListing_MissingIDIsDefect(t *testing.T) {
	f := newFixture(t)
	drop := tamperSurface{Surface: f.client, page: func(p *api.Page) {
		if len(p.Results) == testutil.FactorCount {
			p.Results = p.Results[1:]
		}
	}}
	v := f.verifier(drop)

	fail := failure(t, v.VerifyDefaultListing(context.Background(), testutil.Spec(t, "factor")))
	assert.Equal(t, ClassDefect, fail.Class)
	assert.Contains(t, fail.Message, "listed ids differ")
}

func TestVerifyDefaultListing_WrongDefaultPageSize(t *testing.T) {
	f := newFixture(t)
	v := f.verifier(nil, WithDefaultPageSize(20))

	fail := failure(t, v.VerifyDefaultListing(context.Background(), testutil.Spec(t, "factor")))
	assert.Equal(t, ClassDefect, fail.Class)
	assert.Equal(t, 20, fail.Expected)
	assert.Equal(t, 10, fail.Actual)
}

func TestVerifyPagination_Fixture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for seed := uint64(1); seed <= 5; seed++ {
		v := f.verifier(nil, WithRand(testutil.NewRand(seed)))
		require.NoError(t, v.VerifyPagination(ctx, testutil.Spec(t, "factor")), "seed %d", seed)
		require.NoError(t, v.VerifyPagination(ctx, testutil.Spec(t, "rule")), "seed %d", seed)
	}
}

func TestVerifyPagination_Unpaginated(t *testing.T) {
	f := newFixture(t)
	err := f.verifier(nil).VerifyPagination(context.Background(), testutil.Spec(t, "factor_application"))
	assert.True(t, IsUnsupported(err))
}

// The served shape decides, not the declared flag.
func TestVerifyPagination_DetectedFromResponses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	undeclared := testutil.Spec(t, "factor")
	undeclared.Paginate = false
	require.NoError(t, f.verifier(nil).VerifyPagination(ctx, undeclared))
	require.NoError(t, f.verifier(nil).VerifyPageWalk(ctx, undeclared, 12))

	declared := testutil.Spec(t, "factor_application")
	declared.Paginate = true
	fail := failure(t, f.verifier(nil).VerifyPagination(ctx, declared))
	assert.Equal(t, ClassUnsupported, fail.Class)
	assert.Equal(t, "resource is not paginated", fail.Message)
	fail = failure(t, f.verifier(nil).VerifyPageWalk(ctx, declared, 5))
	assert.Equal(t, ClassUnsupported, fail.Class)
}

func TestVerifyPagination_TooFewRowsSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Exec(ctx, "DELETE FROM rule WHERE id > 1")
	require.NoError(t, err)

	err = f.verifier(nil).VerifyPagination(ctx, testutil.Spec(t, "rule"))
	assert.True(t, IsSkip(err), "got %v", err)
}

func TestVerifyPagination_MissingNextLinkIsDefect(t *testing.T) {
	f := newFixture(t)
	strip := tamperSurface{Surface: f.client, page: func(p *api.Page) {
		if len(p.Results) < p.Count {
			p.Next = nil
		}
	}}
	v := f.verifier(strip, WithRand(testutil.NewRand(3)))

	err := v.VerifyPagination(context.Background(), testutil.Spec(t, "factor"))
	assert.True(t, IsDefect(err), "got %v", err)
}

// A 57-row listing walked 12 at a time is four full pages and a last page of 9.
func TestVerifyPageWalk_FactorBy12(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.verifier(nil).VerifyPageWalk(context.Background(), testutil.Spec(t, "factor"), 12))

	assert.Equal(t, 5, pageCount(testutil.FactorCount, 12))
	assert.Equal(t, 9, lastPageSize(testutil.FactorCount, 12))
}

func TestVerifyPageWalk_ShortPageIsDefect(t *testing.T) {
	f := newFixture(t)
	short := tamperSurface{Surface: f.client, page: func(p *api.Page) {
		if p.Next != nil && p.Previous != nil {
			p.Results = p.Results[:len(p.Results)-1]
		}
	}}

	fail := failure(t, f.verifier(short).VerifyPageWalk(context.Background(), testutil.Spec(t, "factor"), 12))
	assert.Equal(t, ClassDefect, fail.Class)
	assert.Equal(t, 12, fail.Expected)
	assert.Equal(t, 11, fail.Actual)
}

func TestPageCount(t *testing.T) {
	tests := []struct {
		count, size, pages, last int
	}{
		{57, 12, 5, 9},
		{57, 10, 6, 7},
		{57, 57, 1, 57},
		{57, 19, 3, 19},
		{2, 1, 2, 1},
		{0, 10, 1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.pages, pageCount(tt.count, tt.size), "pages %d/%d", tt.count, tt.size)
		assert.Equal(t, tt.last, lastPageSize(tt.count, tt.size), "last %d/%d", tt.count, tt.size)
	}
}
