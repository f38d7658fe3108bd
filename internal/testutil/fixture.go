package testutil

import (
	"bytes"
	"context"
	_ "embed"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/store"
	"github.com/roach88/listproof/internal/twin"
)

// Fixture store facts tests rely on.
const (
	FactorCount        = 57
	RuleCount          = 57
	EnabledRuleCount   = 13
	RelationOwnerCount = 12

	// GuardedFactor is enabled with ref_count 4.
	GuardedFactor = "4"
	// FreeFactor is enabled with ref_count 0.
	FreeFactor = "1"
)

// Credentials accepted by the fixture twin.
const (
	ClientID       = "listproof"
	ClientSecret   = "listproof-secret"
	AdminUser      = "admin"
	AdminPassword  = "admin-pwd"
	OpsUser        = "ops"
	OpsPassword    = "ops-pwd"
	TokenPath      = "/o/token/"
	CounterColumn  = "ref_count"
	CounterIDField = "left_factor"
)

//go:embed fixture.sql
var fixtureSQL string

//go:embed resources.yaml
var resourcesYAML []byte

// OpenFixture creates a file-backed sqlite store loaded with the fixture
// schema and rows. It is closed when the test ends.
func OpenFixture(t testing.TB) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")
	st, err := store.Open(context.Background(), "sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.ExecScript(context.Background(), fixtureSQL))
	return st
}

// FixtureFile writes a fixture sqlite database under a temp dir and
// returns its path, for code that opens the store itself.
func FixtureFile(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")
	st, err := store.Open(context.Background(), "sqlite3", path)
	require.NoError(t, err)
	require.NoError(t, st.ExecScript(context.Background(), fixtureSQL))
	require.NoError(t, st.Close())
	return path
}

// Catalog returns the fixture resource specs.
func Catalog(t testing.TB) *resource.Catalog {
	t.Helper()
	specs, errs := resource.Decode(bytes.NewReader(resourcesYAML))
	require.Empty(t, errs)
	cat, err := resource.NewCatalog(specs...)
	require.NoError(t, err)
	return cat
}

// Spec returns one fixture resource spec.
func Spec(t testing.TB, name string) resource.Spec {
	t.Helper()
	spec, ok := Catalog(t).Get(name)
	require.True(t, ok, "fixture resource %q", name)
	return spec
}

// ResourcesYAML returns the fixture resource specs as YAML.
func ResourcesYAML() []byte {
	return bytes.Clone(resourcesYAML)
}

// Twin serves the fixture catalog from st behind an httptest server with
// the fixture users and client registered. Rule creation bumps the
// referenced factor's ref_count.
func Twin(t testing.TB, st *store.Store, opts ...twin.Option) *httptest.Server {
	t.Helper()
	base := []twin.Option{
		twin.WithClock(NewDeterministicClock()),
		twin.WithUser(AdminUser, AdminPassword),
		twin.WithUser(OpsUser, OpsPassword),
		twin.WithClient(ClientID, ClientSecret),
		twin.WithCounter(twin.Counter{Resource: "rule", Field: CounterIDField, Table: "factor", Column: CounterColumn}),
	}
	srv := httptest.NewServer(twin.New(st, Catalog(t), append(base, opts...)...))
	t.Cleanup(srv.Close)
	return srv
}
