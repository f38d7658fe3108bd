package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listproof/internal/config"
	"github.com/roach88/listproof/internal/report"
	"github.com/roach88/listproof/internal/testutil"
	"github.com/roach88/listproof/internal/twin"
)

func TestRun_Passes(t *testing.T) {
	tg := newTarget(t)
	dir := tg.scenarios(t, map[string]string{
		"factor.yaml":      factorListing,
		"application.yaml": applicationListing,
	})

	out, _, err := execute(t, "run", tg.config, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "scenario factor_listing (factor)")
	assert.Contains(t, out, "scenario application_listing (factor_application)")
	assert.Contains(t, out, "PASS  detail id=4")
	assert.Contains(t, out, "note: pagination: expected skip: resource is not paginated")
	assert.Contains(t, out, "7 passed, 0 failed, 0 skipped")
}

func TestRun_JSONReport(t *testing.T) {
	tg := newTarget(t)
	dir := tg.scenarios(t, map[string]string{"factor.yaml": factorListing})

	out, _, err := execute(t, "run", tg.config, dir, "--format", "json")
	require.NoError(t, err)

	var run report.Run
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.NotEmpty(t, run.RunID)
	require.Len(t, run.Scenarios, 1)
	assert.True(t, run.Scenarios[0].Pass)
	assert.Equal(t, run.RunID, run.Scenarios[0].RunID)
	assert.Len(t, run.Scenarios[0].Checks, 5)
}

func TestRun_Filter(t *testing.T) {
	tg := newTarget(t)
	dir := tg.scenarios(t, map[string]string{
		"factor.yaml":      factorListing,
		"application.yaml": applicationListing,
	})

	out, _, err := execute(t, "run", tg.config, dir, "--filter", "app*")
	require.NoError(t, err)
	assert.Contains(t, out, "application_listing")
	assert.NotContains(t, out, "factor_listing")

	out, _, err = execute(t, "run", tg.config, dir, "--filter", "nothing-*")
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestRun_DefectExitsOne(t *testing.T) {
	tg := newTarget(t)
	dir := tg.scenarios(t, map[string]string{
		"factor.yaml":      factorListing,
		"application.yaml": applicationListing,
		"wrong.yaml":       "name: wrong_expectation\nresource: factor\nchecks:\n  - {type: default, expect: fail}\n",
	})

	out, _, err := execute(t, "run", tg.config, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "1 of 3 scenarios failed", err.Error())
	assert.Contains(t, out, "FAIL  default: EXPECTATION expected outcome fail, got pass")
}

func TestRun_StoreUnavailableAborts(t *testing.T) {
	tg := newTarget(t)
	dir := tg.scenarios(t, map[string]string{"factor.yaml": factorListing})
	_, err := tg.store.DB().Exec("DROP TABLE factor")
	require.NoError(t, err)

	out, _, err := execute(t, "run", tg.config, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FATAL")
	assert.Contains(t, out, "aborted")
}

func TestRun_Golden(t *testing.T) {
	tg := newTarget(t)
	dir := tg.scenarios(t, map[string]string{"factor.yaml": factorListing})
	path := goldenPath(dir, "factor_listing")

	_, _, err := execute(t, "run", tg.config, dir, "--update")
	require.NoError(t, err)
	want, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(want), `"run_id":""`, "golden files carry no run id")
	assert.Contains(t, string(want), `"name":"factor_listing"`)

	_, _, err = execute(t, "run", tg.config, dir)
	require.NoError(t, err, "a fixed seed reproduces the golden result")

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(want), `"pass":true`, `"pass":false`, 1)), 0o644))
	out, _, err := execute(t, "run", tg.config, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "GOLDEN result does not match factor_listing.golden")
}

func TestRun_CommandErrors(t *testing.T) {
	tg := newTarget(t)
	dir := tg.scenarios(t, map[string]string{
		"factor.yaml": factorListing,
		"broken.yaml": "name: broken\nresource: factor\nchecks: []\n",
	})

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing_config", []string{"run", filepath.Join(tg.dir, "nope.yaml"), dir}, "Error [E002]"},
		{"missing_dir", []string{"run", tg.config, filepath.Join(tg.dir, "nope")}, "scenarios directory not found"},
		{"invalid_scenario", []string{"run", tg.config, dir}, "Error [E004]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestValidate(t *testing.T) {
	tg := newTarget(t)
	dir := tg.scenarios(t, map[string]string{
		"factor.yaml": factorListing,
		"lint.yaml": `
name: lint
resource: factor_application
checks:
  - pagination
  - {type: filter, param: bogus, value: 1}
  - flip_status
`,
	})

	out, _, err := execute(t, "validate", tg.config, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ config valid: 3 resource(s), 2 scenario(s)")
	assert.Contains(t, out, "warning: lint: pagination: resource is not paginated")
	assert.Contains(t, out, "warning: lint: filter bogus=1: unsupported filter")
	assert.Contains(t, out, "warning: lint: flip_status: resource has no status columns")
}

func TestValidate_Errors(t *testing.T) {
	tg := newTarget(t)
	dir := tg.scenarios(t, map[string]string{
		"ghost.yaml": "name: ghost\nresource: ghost\nchecks: [default]\n",
		"create.yaml": `
name: create_rule
resource: rule
checks:
  - type: create
    payload: {name: r}
    counter: {resource: widget, id_field: left_factor, column: ref_count}
`,
	})

	out, _, err := execute(t, "validate", tg.config, dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.False(t, resp.Data.Valid)
	assert.Equal(t, []string{
		`create_rule: create widget.ref_count: unknown counter resource "widget"`,
		`ghost: unknown resource "ghost"`,
	}, resp.Data.Errors)
}

func TestValidate_ConfigOnly(t *testing.T) {
	tg := newTarget(t)
	out, _, err := execute(t, "validate", tg.config)
	require.NoError(t, err)
	assert.Contains(t, out, "3 resource(s), 0 scenario(s)")

	bad := filepath.Join(tg.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("base_url: http://x\nresources: ./resources\n"), 0o644))
	out, _, err = execute(t, "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]: invalid config")
	assert.Contains(t, out, "store.dsn is required")
}

func TestSnapshot(t *testing.T) {
	tg := newTarget(t)

	out, _, err := execute(t, "snapshot", tg.config, "factor", "rule", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data []SnapshotResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, SnapshotResult{Resource: "factor", Table: "factor", Count: testutil.FactorCount}, resp.Data[0])
	assert.Equal(t, testutil.RuleCount, resp.Data[1].Count)
}

func TestSnapshot_IDs(t *testing.T) {
	tg := newTarget(t)

	out, _, err := execute(t, "snapshot", tg.config, "factor", "--ids")
	require.NoError(t, err)
	assert.Contains(t, out, "factor")
	assert.Contains(t, out, "57")
	assert.Contains(t, out, testutil.GuardedFactor+",")

	_, _, err = execute(t, "snapshot", tg.config, "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestToken(t *testing.T) {
	tg := newTarget(t)

	out, _, err := execute(t, "token", tg.config, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data TokenResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	tok := resp.Data
	assert.Equal(t, testutil.AdminUser, tok.Principal)
	assert.Equal(t, "password", tok.Grant)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Refreshable)
	assert.False(t, tok.Refreshed)
	require.Len(t, tok.AccessToken, 36)
	assert.Equal(t, strings.Repeat("*", 32), tok.AccessToken[4:], "masked by default")
}

func TestToken_AlternateRefreshReveal(t *testing.T) {
	tg := newTarget(t)

	out, _, err := execute(t, "token", tg.config, "--alternate", "--refresh", "--reveal")
	require.NoError(t, err)
	assert.Contains(t, out, "principal:    ops (password)")
	assert.Contains(t, out, "refreshable:  true (refreshed)")
	assert.NotContains(t, out, "****")
}

func TestToken_NotConfigured(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: http://x\nstore: {dsn: \"u:p@/db\"}\nresources: ./r\n"), 0o644))

	out, _, err := execute(t, "token", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "auth.token_url is not configured")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "***", mask("abc"))
	assert.Equal(t, "abcd**", mask("abcdef"))
}

func TestParseCounter(t *testing.T) {
	c, err := parseCounter("rule.left_factor=factor.ref_count")
	require.NoError(t, err)
	assert.Equal(t, twin.Counter{Resource: "rule", Field: "left_factor", Table: "factor", Column: "ref_count"}, c)

	for _, bad := range []string{"rule.left_factor", "rule=factor.ref_count", "rule.left_factor=factor", ".x=y.z"} {
		_, err := parseCounter(bad)
		assert.Error(t, err, bad)
	}
}

func TestTwinOptions(t *testing.T) {
	cfg, err := config.Parse([]byte(`
base_url: http://localhost:8080/v1/api/
store: {driver: sqlite3, dsn: /tmp/x.db}
auth:
  token_url: http://localhost:8080/o/token/
  client_id: c
  client_secret: s
  username: admin
  password: pwd
  alternate: {username: ops, password: ops-pwd}
resources: /specs
`), "", nil)
	require.NoError(t, err)

	opts, err := twinOptions(cfg, []string{"rule.left_factor=factor.ref_count"})
	require.NoError(t, err)
	// page size, messages, codes, prefix, client, two users, one counter
	assert.Len(t, opts, 8)

	_, err = twinOptions(cfg, []string{"bogus"})
	assert.Error(t, err)
}
