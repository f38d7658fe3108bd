package cli

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/listproof/internal/config"
	"github.com/roach88/listproof/internal/harness"
	"github.com/roach88/listproof/internal/report"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Filter string // scenario file glob
	Update bool   // regenerate golden results

	// RunIDs overrides the run id generator (for testing). If nil,
	// defaults to UUIDv7Generator.
	RunIDs harness.RunIDGenerator
}

// ClassGolden marks a scenario whose result differs from its golden file.
const ClassGolden = "GOLDEN"

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config> <scenarios-dir>",
		Short: "Run verification scenarios against a target",
		Long: `Run every scenario in a directory against the target a config file
describes, and print the report.

A scenario with a golden file (golden/<name>.golden next to the
scenarios) must also reproduce it; run with a fixed seed for that to hold.

Exit codes:
  0 - every check passed or skipped
  1 - a defect or fatal failure was recorded
  2 - command error (bad config, unreachable store, etc.)

Examples:
  listproof run target.yaml ./scenarios
  listproof run target.yaml ./scenarios --filter "factor-*"
  listproof run target.yaml ./scenarios --update
  listproof run target.yaml ./scenarios --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenario files by glob pattern")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden results")

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *RunOptions, cfgPath, dir string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger, err := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid log level", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("scenarios directory not found: %s", dir), nil)
	}
	scenarios, err := harness.LoadScenarios(dir, opts.Filter)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeScenario, "failed to load scenarios", err)
	}
	if len(scenarios) == 0 {
		return formatter.Success("No scenarios found.")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, cfg, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to start session", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Error("error closing store", "error", err)
		}
	}()

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = harness.UUIDv7Generator{}
	}
	run := harness.RunAll(ctx, sess.env(runIDs), scenarios)

	for _, res := range run.Scenarios {
		if err := checkGolden(dir, res, opts.Update); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "golden file", err)
		}
		if digest, err := report.Digest(res); err == nil {
			formatter.VerboseLog("%s: digest %s", res.Name, digest)
		}
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		err = report.WriteJSON(w, run)
	} else {
		err = report.WriteText(w, run)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}

	if !run.Pass() {
		failed := 0
		for _, s := range run.Scenarios {
			if !s.Pass {
				failed++
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", failed, len(run.Scenarios)))
	}
	return nil
}

// goldenPath returns the golden file of scenario name under dir.
func goldenPath(dir, name string) string {
	return filepath.Join(dir, "golden", name+".golden")
}

// goldenBytes renders res without its run id, which differs per run.
func goldenBytes(res *report.Scenario) ([]byte, error) {
	c := *res
	c.RunID = ""
	return report.MarshalCanonical(&c)
}

// checkGolden writes res as the golden file when update is set. Otherwise
// an existing golden file must match, and a mismatch fails the scenario.
func checkGolden(dir string, res *report.Scenario, update bool) error {
	path := goldenPath(dir, res.Name)
	data, err := goldenBytes(res)
	if err != nil {
		return err
	}
	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create golden directory: %w", err)
		}
		return os.WriteFile(path, data, 0o644)
	}

	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !bytes.Equal(want, data) {
		res.Add(report.Check{
			Name:    "golden",
			Type:    "golden",
			Outcome: report.Fail,
			Class:   ClassGolden,
			Message: fmt.Sprintf("result does not match %s (run with --update to regenerate)", filepath.Base(path)),
		})
	}
	return nil
}
