package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/auth"
	"github.com/roach88/listproof/internal/oracle"
	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/store"
	"github.com/roach88/listproof/internal/testutil"
	"github.com/roach88/listproof/internal/verify"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	store  *store.Store
	client *api.Client
	admin  *auth.Provider
	ops    *auth.Provider
	checks *verify.Verifier
	spec   resource.Spec
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := testutil.OpenFixture(t)
	srv := testutil.Twin(t, st)

	admin, err := auth.NewProvider(auth.Config{
		TokenURL:     srv.URL + testutil.TokenPath,
		ClientID:     testutil.ClientID,
		ClientSecret: testutil.ClientSecret,
		Grant:        auth.GrantPassword,
		Username:     testutil.AdminUser,
		Password:     testutil.AdminPassword,
	})
	require.NoError(t, err)
	ops, err := admin.As(testutil.OpsUser, testutil.OpsPassword)
	require.NoError(t, err)

	client, err := api.New(srv.URL, api.WithTokens(admin))
	require.NoError(t, err)
	checks := verify.New(oracle.New(st), client, verify.WithRand(testutil.NewRand(testutil.Seed)), verify.WithLogger(quiet))
	return fixture{store: st, client: client, admin: admin, ops: ops, checks: checks, spec: testutil.Spec(t, "factor")}
}

func (f fixture) verifier(surface Surface) *Verifier {
	if surface == nil {
		surface = f.client
	}
	return New(f.checks, surface, f.store, WithPrincipal(testutil.AdminUser), WithLogger(quiet))
}

func (f fixture) record(t *testing.T, id string) api.Record {
	t.Helper()
	resp, err := f.client.Detail(context.Background(), f.spec.Endpoint, id)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	rec, err := api.DecodeRecord(resp.Body)
	require.NoError(t, err)
	return rec
}

// states returns id, status and ref_count of every factor row.
func (f fixture) states(t *testing.T) []store.Row {
	t.Helper()
	rows, err := f.store.Query(context.Background(), "SELECT id, status, ref_count FROM factor ORDER BY id")
	require.NoError(t, err)
	return rows
}

// tamperSurface rewrites update answers.
type tamperSurface struct {
	Surface
	update func(*api.Response) *api.Response
}

func (s tamperSurface) Update(ctx context.Context, method, endpoint, id string, body any, tokens api.TokenSource) (*api.Response, error) {
	resp, err := s.Surface.Update(ctx, method, endpoint, id, body, tokens)
	if err == nil && s.update != nil {
		resp = s.update(resp)
	}
	return resp, err
}

func rewrite(t *testing.T, resp *api.Response, edit func(api.Record)) *api.Response {
	t.Helper()
	rec, err := api.DecodeRecord(resp.Body)
	require.NoError(t, err)
	edit(rec)
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(rec))
	out := *resp
	out.Body = buf.Bytes()
	return &out
}

func failure(t *testing.T, err error) *verify.Failure {
	t.Helper()
	require.Error(t, err)
	var f *verify.Failure
	require.ErrorAs(t, err, &f)
	return f
}
