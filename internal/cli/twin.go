package cli

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/listproof/internal/config"
	"github.com/roach88/listproof/internal/twin"
)

// ServeTwinOptions holds flags for the serve-twin command.
type ServeTwinOptions struct {
	*RootOptions
	Addr     string
	Counters []string // resource.field=table.column
	InitSQL  string
}

// NewServeTwinCommand creates the serve-twin command.
func NewServeTwinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeTwinOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "serve-twin <config>",
		Short: "Serve a reference listing API over the configured store",
		Long: `Serve every resource of the config's catalog from its store the way the
target does: paginated listings, filters, ordering, detail, guarded status
updates, creation and an OAuth token endpoint accepting the configured
credentials. Resources are mounted under the path of base_url.

Examples:
  listproof serve-twin local.yaml --addr :8080
  listproof serve-twin local.yaml --init schema.sql --counter rule.left_factor=factor.ref_count`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeTwin(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringArrayVar(&opts.Counters, "counter", nil, "counter bumped on creation (resource.field=table.column)")
	cmd.Flags().StringVar(&opts.InitSQL, "init", "", "SQL script executed against the store before serving")
	return cmd
}

func runServeTwin(cmd *cobra.Command, opts *ServeTwinOptions, cfgPath string) error {
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
	twinOpts, err := twinOptions(cfg, opts.Counters)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid twin options", err)
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeResources, "failed to load resources", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	defer st.Close()

	if opts.InitSQL != "" {
		script, err := os.ReadFile(opts.InitSQL)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to read init script", err)
		}
		if err := st.ExecScript(ctx, string(script)); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "init script failed", err)
		}
	}

	srv := twin.New(st, cat, append(twinOpts, twin.WithLogger(logger))...)
	fmt.Fprintf(cmd.OutOrStdout(), "Twin serving %d resource(s) on %s. Press Ctrl-C to stop.\n", cat.Len(), opts.Addr)
	if err := srv.ListenAndServe(ctx, opts.Addr); err != nil {
		return WrapExitError(ExitFailure, "twin error", err)
	}
	return nil
}

// twinOptions maps a target config onto twin conventions.
func twinOptions(cfg *config.Config, counters []string) ([]twin.Option, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("base_url: %w", err)
	}
	s := cfg.Surface
	opts := []twin.Option{
		twin.WithPageSize(s.DefaultPageSize),
		twin.WithMessages(s.NotFoundMessage, s.GuardPhrase),
		twin.WithStatusCodes(s.StatusEnabled, s.StatusDisabled),
	}
	if prefix := strings.TrimRight(u.Path, "/"); prefix != "" {
		opts = append(opts, twin.WithPrefix(prefix))
	}
	a := cfg.Auth
	if a.ClientID != "" {
		opts = append(opts, twin.WithClient(a.ClientID, a.ClientSecret))
	}
	if a.Username != "" {
		opts = append(opts, twin.WithUser(a.Username, a.Password))
	}
	if a.Alternate != nil {
		opts = append(opts, twin.WithUser(a.Alternate.Username, a.Alternate.Password))
	}
	for _, c := range counters {
		tc, err := parseCounter(c)
		if err != nil {
			return nil, err
		}
		opts = append(opts, twin.WithCounter(tc))
	}
	return opts, nil
}

// parseCounter parses "resource.field=table.column".
func parseCounter(s string) (twin.Counter, error) {
	src, dst, ok := strings.Cut(s, "=")
	if !ok {
		return twin.Counter{}, fmt.Errorf("counter %q: want resource.field=table.column", s)
	}
	res, field, ok1 := strings.Cut(src, ".")
	table, column, ok2 := strings.Cut(dst, ".")
	if !ok1 || !ok2 || res == "" || field == "" || table == "" || column == "" {
		return twin.Counter{}, fmt.Errorf("counter %q: want resource.field=table.column", s)
	}
	return twin.Counter{Resource: res, Field: field, Table: table, Column: column}, nil
}
