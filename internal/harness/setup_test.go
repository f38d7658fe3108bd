package harness

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
	"github.com/roach88/listproof/internal/mutation"
	"github.com/roach88/listproof/internal/oracle"
	"github.com/roach88/listproof/internal/store"
	"github.com/roach88/listproof/internal/testutil"
	"github.com/roach88/listproof/internal/verify"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const testRunID = "test-run-default"

type fixture struct {
	store  *store.Store
	client *api.Client
	ops    *auth.Provider
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
	return fixture{store: st, client: client, ops: ops}
}

// env wires a full environment; surface replaces the listing client when
// non-nil.
func (f fixture) env(t *testing.T, surface verify.Surface) *Env {
	t.Helper()
	if surface == nil {
		surface = f.client
	}
	checks := verify.New(oracle.New(f.store), surface,
		verify.WithRand(testutil.NewRand(testutil.Seed)), verify.WithLogger(quiet))
	mutations := mutation.New(checks, f.client, f.store,
		mutation.WithPrincipal(testutil.AdminUser), mutation.WithLogger(quiet))
	return &Env{
		Catalog:   testutil.Catalog(t),
		Checks:    checks,
		Mutations: mutations,
		Alternate: f.ops,
		RunIDs:    testutil.NewFixedRunID(testRunID),
		Logger:    quiet,
	}
}

func (f fixture) states(t *testing.T) []store.Row {
	t.Helper()
	rows, err := f.store.Query(context.Background(), "SELECT id, status, ref_count FROM factor ORDER BY id")
	require.NoError(t, err)
	return rows
}

// tamperSurface rewrites detail answers for one id.
type tamperSurface struct {
	verify.Surface
	id   string
	edit func(api.Record)
}

func (s tamperSurface) Detail(ctx context.Context, endpoint, id string) (*api.Response, error) {
	resp, err := s.Surface.Detail(ctx, endpoint, id)
	if err != nil || id != s.id || resp.Status != 200 {
		return resp, err
	}
	rec, err := api.DecodeRecord(resp.Body)
	if err != nil {
		return nil, err
	}
	s.edit(rec)
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	out := *resp
	out.Body = buf.Bytes()
	return &out, nil
}

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	sc, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return sc
}
