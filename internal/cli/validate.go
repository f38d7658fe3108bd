package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/listproof/internal/config"
	"github.com/roach88/listproof/internal/harness"
	"github.com/roach88/listproof/internal/resource"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool     `json:"valid"`
	Resources []string `json:"resources"`
	Scenarios int      `json:"scenarios"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

func (r ValidationResult) String() string {
	var b strings.Builder
	if r.Valid {
		fmt.Fprintf(&b, "✓ config valid: %d resource(s), %d scenario(s)", len(r.Resources), r.Scenarios)
	} else {
		fmt.Fprintf(&b, "✗ config invalid")
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  error: %s", e)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "\n  warning: %s", w)
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config> [scenarios-dir]",
		Short: "Validate a config, its resource specs and scenarios offline",
		Long: `Validate a target config, the resource specs it points at and,
optionally, a scenario directory, without contacting the target or the
store.

Scenarios naming an unknown resource are errors. Checks the resource does
not declare (a filter it lacks, pagination of an unpaginated listing, a
status flip without status columns) are warnings: they will skip.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 2 {
				dir = args[1]
			}
			return runValidate(cmd, rootOpts, args[0], dir)
		},
	}
}

func runValidate(cmd *cobra.Command, opts *RootOptions, cfgPath, dir string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConfig, "invalid config", err)
	}
	formatter.VerboseLog("Loading resources from %s", cfg.Resources)
	cat, err := loadCatalog(cfg)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeResources, "invalid resource specs", err)
	}

	result := ValidationResult{Valid: true, Resources: cat.Names()}
	if dir != "" {
		scenarios, err := harness.LoadScenarios(dir, "")
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeScenario, "invalid scenarios", err)
		}
		result.Scenarios = len(scenarios)
		for _, sc := range scenarios {
			errs, warns := lintScenario(cat, sc)
			result.Errors = append(result.Errors, errs...)
			result.Warnings = append(result.Warnings, warns...)
		}
	}
	result.Valid = len(result.Errors) == 0

	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.Valid {
		return WrapExitError(ExitFailure, "validation failed", errors.New(strings.Join(result.Errors, "; ")))
	}
	return nil
}

// lintScenario checks a scenario against the catalog.
func lintScenario(cat *resource.Catalog, sc *harness.Scenario) (errs, warns []string) {
	spec, ok := cat.Get(sc.Resource)
	if !ok {
		return []string{fmt.Sprintf("%s: unknown resource %q", sc.Name, sc.Resource)}, nil
	}
	warn := func(c harness.Check, format string, args ...any) {
		warns = append(warns, fmt.Sprintf("%s: %s: %s", sc.Name, c.Name(), fmt.Sprintf(format, args...)))
	}
	for _, c := range sc.Checks {
		switch c.Type {
		case harness.CheckPagination, harness.CheckPageWalk:
			if !spec.Paginate {
				warn(c, "resource is not paginated")
			}
		case harness.CheckFilter:
			if _, ok := spec.Filter(c.Param); !ok {
				warn(c, "unsupported filter (supported: %v)", spec.FilterParams())
			}
		case harness.CheckFlipStatus, harness.CheckGuard, harness.CheckMirroredFlip:
			if !spec.Flippable() {
				warn(c, "resource has no status columns")
			}
		case harness.CheckCreate:
			if _, ok := cat.Get(c.Counter.Resource); !ok {
				errs = append(errs, fmt.Sprintf("%s: %s: unknown counter resource %q", sc.Name, c.Name(), c.Counter.Resource))
			}
		}
	}
	return errs, warns
}
