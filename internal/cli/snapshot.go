package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/listproof/internal/config"
	"github.com/roach88/listproof/internal/oracle"
)

// SnapshotResult is the key set of one resource.
type SnapshotResult struct {
	Resource string   `json:"resource"`
	Table    string   `json:"table"`
	Count    int      `json:"count"`
	IDs      []string `json:"ids,omitempty"`
}

// SnapshotList renders one line per resource in text output.
type SnapshotList []SnapshotResult

func (l SnapshotList) String() string {
	lines := make([]string, len(l))
	for i, s := range l {
		lines[i] = fmt.Sprintf("%-24s %-32s %d", s.Resource, s.Table, s.Count)
		if len(s.IDs) > 0 {
			lines[i] += "  " + strings.Join(s.IDs, ",")
		}
	}
	return strings.Join(lines, "\n")
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	var ids bool
	cmd := &cobra.Command{
		Use:   "snapshot <config> [resource...]",
		Short: "Print the stored key sets the checks compare against",
		Long: `Query the store for the key set of each named resource (all resources
when none is named) and print the counts, the ground truth every listing
check compares against.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd, rootOpts, args[0], args[1:], ids)
		},
	}
	cmd.Flags().BoolVar(&ids, "ids", false, "include the keys")
	return cmd
}

func runSnapshot(cmd *cobra.Command, opts *RootOptions, cfgPath string, names []string, ids bool) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger, err := newLogger(opts, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid log level", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeResources, "failed to load resources", err)
	}
	if len(names) == 0 {
		names = cat.Names()
	}
	for _, n := range names {
		if _, ok := cat.Get(n); !ok {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("unknown resource %q", n), nil)
		}
	}

	st, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	defer st.Close()

	o := oracle.New(st, oracle.WithLogger(logger))
	out := make(SnapshotList, 0, len(names))
	for _, n := range names {
		spec := cat.MustGet(n)
		snap, err := o.Snapshot(cmd.Context(), spec)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "snapshot "+n, err)
		}
		res := SnapshotResult{Resource: n, Table: spec.Table, Count: snap.Count}
		if ids {
			res.IDs = snap.Sorted()
		}
		out = append(out, res)
	}
	return formatter.Success(out)
}
