package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/auth"
	"github.com/roach88/listproof/internal/config"
	"github.com/roach88/listproof/internal/harness"
	"github.com/roach88/listproof/internal/logging"
	"github.com/roach88/listproof/internal/mutation"
	"github.com/roach88/listproof/internal/oracle"
	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/store"
	"github.com/roach88/listproof/internal/verify"
)

// session holds the collaborators of one invocation against a target.
type session struct {
	cfg       *config.Config
	logger    *slog.Logger
	catalog   *resource.Catalog
	store     *store.Store
	tokens    *auth.Provider
	alternate *auth.Provider
	client    *api.Client
	checks    *verify.Verifier
	mutations *mutation.Verifier
}

// newLogger builds the process logger from the root flags. Logs go to
// stderr so JSON output on stdout stays parseable.
func newLogger(opts *RootOptions, w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(opts.LogLevel)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	format := logging.FormatText
	if opts.Format == "json" {
		format = logging.FormatJSON
	}
	return logging.New(w, level, format)
}

// loadCatalog loads the resource specs a config names.
func loadCatalog(cfg *config.Config) (*resource.Catalog, error) {
	cat, errs := resource.LoadDir(cfg.Resources)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cat, nil
}

// openStore connects to the configured ground-truth store.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN,
		store.WithQueryTimeout(cfg.Store.QueryTimeout.Std()),
		store.WithLogger(logger))
}

// newTokens builds the default principal's provider and, when configured,
// the alternate one. Both are nil when no token_url is set.
func newTokens(cfg *config.Config, logger *slog.Logger) (*auth.Provider, *auth.Provider, error) {
	if cfg.Auth.TokenURL == "" {
		return nil, nil, nil
	}
	ac, err := cfg.Auth.Provider()
	if err != nil {
		return nil, nil, err
	}
	tokens, err := auth.NewProvider(ac, auth.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	if cfg.Auth.Alternate == nil {
		return tokens, nil, nil
	}
	alt, err := tokens.As(cfg.Auth.Alternate.Username, cfg.Auth.Alternate.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("alternate: %w", err)
	}
	return tokens, alt, nil
}

func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	s := &session{cfg: cfg, logger: logger}

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load resources", err)
	}
	s.catalog = cat

	s.tokens, s.alternate, err = newTokens(cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid auth config", err)
	}

	clientOpts := []api.Option{api.WithTimeout(cfg.Timeout.Std()), api.WithLogger(logger)}
	if s.tokens != nil {
		clientOpts = append(clientOpts, api.WithTokens(s.tokens))
	}
	s.client, err = api.New(cfg.BaseURL, clientOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid base_url", err)
	}

	s.store, err = openStore(ctx, cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	logger.Debug("sampling seed", "seed", seed)

	s.checks = verify.New(oracle.New(s.store, oracle.WithLogger(logger)), s.client,
		verify.WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))),
		verify.WithLogger(logger),
		verify.WithDefaultPageSize(cfg.Surface.DefaultPageSize),
		verify.WithNotFoundMessage(cfg.Surface.NotFoundMessage))

	mopts := []mutation.Option{
		mutation.WithCodes(cfg.Surface.Codes()),
		mutation.WithGuardPhrase(cfg.Surface.GuardPhrase),
		mutation.WithLogger(logger),
	}
	if s.tokens != nil {
		mopts = append(mopts, mutation.WithPrincipal(s.tokens.Principal()))
	}
	s.mutations = mutation.New(s.checks, s.client, s.store, mopts...)
	return s, nil
}

// env returns the harness environment of the session.
func (s *session) env(runIDs harness.RunIDGenerator) *harness.Env {
	actor := ""
	if s.tokens != nil {
		actor = s.tokens.Principal()
	}
	return &harness.Env{
		Catalog:   s.catalog,
		Checks:    s.checks,
		Mutations: s.mutations,
		Alternate: s.alternate,
		Mirror: mutation.MirrorOptions{
			ListURL:  s.cfg.UI.ListURL,
			Locators: s.cfg.UI.Locators,
			Names:    s.cfg.UI.Names,
			Actor:    actor,
		},
		RunIDs: runIDs,
		Logger: s.logger,
	}
}

func (s *session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
