package mutation

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/testutil"
	"github.com/roach88/listproof/internal/verify"
)

func TestCodes(t *testing.T) {
	assert.Equal(t, Enabled, DefaultCodes.Parse("1"))
	assert.Equal(t, Disabled, DefaultCodes.Parse(0))
	assert.Equal(t, Unknown, DefaultCodes.Parse("2"))
	assert.Equal(t, Unknown, DefaultCodes.Parse(nil))
	assert.Equal(t, "0", DefaultCodes.Code(Enabled.Opposite()))
	assert.Equal(t, Unknown, Unknown.Opposite())
	assert.Equal(t, "DISABLED", Disabled.String())
}

func TestState(t *testing.T) {
	f := newFixture(t)
	st, err := f.verifier(nil).State(context.Background(), f.spec, testutil.GuardedFactor)
	require.NoError(t, err)

	assert.Equal(t, Enabled, st.Status)
	assert.Equal(t, int64(4), st.RefCount)
	assert.Equal(t, "ops", st.ModifyUser)
	assert.True(t, st.Guarded())
	assert.Equal(t, 4, st.ModifyTime.Hour())
}

func TestFlip_PatchThenPutAsAlternate(t *testing.T) {
	f := newFixture(t)
	v := f.verifier(nil)
	ctx := context.Background()

	require.NoError(t, v.Flip(ctx, f.spec, f.record(t, testutil.FreeFactor), FlipOptions{}))
	st, err := v.State(ctx, f.spec, testutil.FreeFactor)
	require.NoError(t, err)
	assert.Equal(t, Disabled, st.Status)
	assert.Equal(t, testutil.AdminUser, st.ModifyUser)

	require.NoError(t, v.Flip(ctx, f.spec, f.record(t, testutil.FreeFactor), FlipOptions{Actor: f.ops, Method: http.MethodPut}))
	st2, err := v.State(ctx, f.spec, testutil.FreeFactor)
	require.NoError(t, err)
	assert.Equal(t, Enabled, st2.Status)
	assert.Equal(t, testutil.OpsUser, st2.ModifyUser)
	assert.True(t, st2.ModifyTime.After(st.ModifyTime))
}

func TestFlip_UnsupportedMethod(t *testing.T) {
	f := newFixture(t)
	err := f.verifier(nil).Flip(context.Background(), f.spec, f.record(t, testutil.FreeFactor), FlipOptions{Method: "post"})
	assert.True(t, verify.IsUnsupported(err), "got %v", err)
}

func TestFlip_NotFlippable(t *testing.T) {
	f := newFixture(t)
	err := f.verifier(nil).Flip(context.Background(), testutil.Spec(t, "rule"), api.Record{"id": 1, "status": "1"}, FlipOptions{})
	assert.True(t, verify.IsUnsupported(err), "got %v", err)
}

func TestFlip_GuardedRecordRejected(t *testing.T) {
	f := newFixture(t)
	v := f.verifier(nil)
	ctx := context.Background()

	for _, method := range []string{http.MethodPatch, http.MethodPut} {
		t.Run(method, func(t *testing.T) {
			require.NoError(t, v.Flip(ctx, f.spec, f.record(t, testutil.GuardedFactor), FlipOptions{Method: method}))

			st, err := v.State(ctx, f.spec, testutil.GuardedFactor)
			require.NoError(t, err)
			assert.Equal(t, Enabled, st.Status)
			assert.Equal(t, int64(4), st.RefCount)
		})
	}
}

func TestFlip_GuardedRecordAcceptedIsDefect(t *testing.T) {
	f := newFixture(t)
	surface := tamperSurface{Surface: f.client, update: func(resp *api.Response) *api.Response {
		return &api.Response{Method: resp.Method, URL: resp.URL, Status: http.StatusOK, Body: []byte(`{}`)}
	}}

	fail := failure(t, f.verifier(surface).Flip(context.Background(), f.spec, f.record(t, testutil.GuardedFactor), FlipOptions{}))
	assert.Equal(t, verify.ClassDefect, fail.Class)
	assert.Equal(t, "PATCH disabled a referenced record", fail.Message)
	assert.Equal(t, http.StatusOK, fail.Actual)
}

func TestFlip_WrongAuditFields(t *testing.T) {
	f := newFixture(t)
	surface := tamperSurface{Surface: f.client, update: func(resp *api.Response) *api.Response {
		return rewrite(t, resp, func(r api.Record) {
			r["modify_user"] = "someone"
			r["name"] = "renamed"
		})
	}}

	fail := failure(t, f.verifier(surface).Flip(context.Background(), f.spec, f.record(t, testutil.FreeFactor), FlipOptions{}))
	assert.Equal(t, verify.ClassDefect, fail.Class)
	assert.Equal(t, "update changed: modify_user, name", fail.Message)
	assert.Equal(t, testutil.AdminUser, fail.Expected.(map[string]any)["modify_user"])
}

func TestFlip_StaleModifyTime(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, testutil.FreeFactor)
	surface := tamperSurface{Surface: f.client, update: func(resp *api.Response) *api.Response {
		return rewrite(t, resp, func(r api.Record) { r["modify_time"] = rec["modify_time"] })
	}}

	fail := failure(t, f.verifier(surface).Flip(context.Background(), f.spec, rec, FlipOptions{}))
	assert.Equal(t, "update changed: modify_time", fail.Message)
}

func TestVerifyGuard(t *testing.T) {
	f := newFixture(t)
	v := f.verifier(nil)
	ctx := context.Background()

	require.NoError(t, v.VerifyGuard(ctx, f.spec, f.record(t, testutil.GuardedFactor)))
	st, err := v.State(ctx, f.spec, testutil.GuardedFactor)
	require.NoError(t, err)
	assert.Equal(t, Enabled, st.Status)

	assert.True(t, verify.IsSkip(v.VerifyGuard(ctx, f.spec, f.record(t, testutil.FreeFactor))))
}

func TestVerifyGuard_AcceptedIsDefect(t *testing.T) {
	f := newFixture(t)
	surface := tamperSurface{Surface: f.client, update: func(resp *api.Response) *api.Response {
		return &api.Response{Method: resp.Method, URL: resp.URL, Status: http.StatusOK, Body: []byte(`{}`)}
	}}

	fail := failure(t, f.verifier(surface).VerifyGuard(context.Background(), f.spec, f.record(t, testutil.GuardedFactor)))
	assert.Equal(t, verify.ClassDefect, fail.Class)
	assert.Equal(t, "PATCH disabled a referenced record", fail.Message)
}

func TestVerifyGuard_UnnamedRejection(t *testing.T) {
	f := newFixture(t)
	surface := tamperSurface{Surface: f.client, update: func(resp *api.Response) *api.Response {
		if resp.Method == http.MethodPut {
			return &api.Response{Method: resp.Method, URL: resp.URL, Status: http.StatusInternalServerError, Body: []byte(`{"detail": "A server error occurred."}`)}
		}
		return resp
	}}

	fail := failure(t, f.verifier(surface).VerifyGuard(context.Background(), f.spec, f.record(t, testutil.GuardedFactor)))
	assert.Equal(t, "PUT rejection does not name the reference-count guard", fail.Message)
	assert.Equal(t, DefaultGuardPhrase, fail.Expected)
}

func TestVerifyGuard_EscapedPhrase(t *testing.T) {
	v := New(nil, nil, nil)
	assert.True(t, v.namesGuard([]byte(`{"detail": "\u5f15\u7528\u8ba1\u6570\u5927\u4e8e0\uff0c\u542f\u7528\u72b6\u6001\u4e0d\u80fd\u4e3a\u5df2\u505c\u7528"}`)))
	assert.False(t, v.namesGuard([]byte(`{"detail": "error"}`)))
}
