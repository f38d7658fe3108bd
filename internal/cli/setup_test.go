package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/listproof/internal/store"
	"github.com/roach88/listproof/internal/testutil"
)

// target is a config pointing at a fixture twin and the sqlite file it
// serves.
type target struct {
	dir    string
	config string
	store  *store.Store
}

func newTarget(t *testing.T) target {
	t.Helper()
	db := testutil.FixtureFile(t)
	st, err := store.Open(context.Background(), "sqlite3", db)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	srv := testutil.Twin(t, st)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "resources"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resources", "resources.yaml"), testutil.ResourcesYAML(), 0o644))

	cfg := fmt.Sprintf(`base_url: %s
store:
  driver: sqlite3
  dsn: %q
auth:
  token_url: %s%s
  grant: password
  client_id: %s
  client_secret: %s
  username: %s
  password: %s
  alternate: {username: %s, password: %s}
resources: ./resources
seed: %d
`, srv.URL, db, srv.URL, testutil.TokenPath, testutil.ClientID, testutil.ClientSecret,
		testutil.AdminUser, testutil.AdminPassword, testutil.OpsUser, testutil.OpsPassword, testutil.Seed)
	path := filepath.Join(dir, "target.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return target{dir: dir, config: path, store: st}
}

// scenarios writes scenario files into a fresh directory.
func (tg target) scenarios(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(tg.dir, "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

// execute runs the root command with args and returns its output streams.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

const factorListing = `
name: factor_listing
resource: factor
checks:
  - default
  - pagination
  - {type: filter, param: status, value: "1"}
  - {type: detail, id: "4"}
  - not_found
`

const applicationListing = `
name: application_listing
resource: factor_application
checks:
  - default
  - {type: pagination, expect: skip}
`
