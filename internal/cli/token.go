package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/listproof/internal/auth"
	"github.com/roach88/listproof/internal/config"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Alternate bool
	Refresh   bool
	Reveal    bool
}

// TokenResult describes an acquired token.
type TokenResult struct {
	Principal   string    `json:"principal"`
	Grant       string    `json:"grant"`
	TokenType   string    `json:"token_type"`
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry,omitzero"`
	Refreshable bool      `json:"refreshable"`
	Refreshed   bool      `json:"refreshed,omitempty"`
}

func (r TokenResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "principal:    %s (%s)\n", r.Principal, r.Grant)
	fmt.Fprintf(&b, "token:        %s %s\n", r.TokenType, r.AccessToken)
	if !r.Expiry.IsZero() {
		fmt.Fprintf(&b, "expires:      %s\n", r.Expiry.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "refreshable:  %t", r.Refreshable)
	if r.Refreshed {
		b.WriteString(" (refreshed)")
	}
	return b.String()
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "token <config>",
		Short: "Acquire an OAuth2 token with the configured grant",
		Long: `Acquire a token for the default principal (or the alternate one) with
the configured grant, optionally exercise the refresh_token grant, and
print it. The access token is masked unless --reveal is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, opts, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.Alternate, "alternate", false, "use the alternate principal")
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "refresh the token after acquiring it")
	cmd.Flags().BoolVar(&opts.Reveal, "reveal", false, "print the access token unmasked")
	return cmd
}

func runToken(cmd *cobra.Command, opts *TokenOptions, cfgPath string) error {
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
	tokens, alternate, err := newTokens(cfg, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeAuth, "invalid auth config", err)
	}
	if tokens == nil {
		return formatter.Fail(ExitCommandError, ErrCodeAuth, "auth.token_url is not configured", nil)
	}
	p := tokens
	if opts.Alternate {
		if alternate == nil {
			return formatter.Fail(ExitCommandError, ErrCodeAuth, "auth.alternate is not configured", nil)
		}
		p = alternate
	}

	ctx := cmd.Context()
	tok, err := p.Token(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeAuth, "token request failed", err)
	}
	result := TokenResult{
		Principal:   p.Principal(),
		Grant:       grantOf(cfg, opts.Alternate),
		Refreshable: tok.RefreshToken != "",
	}
	if opts.Refresh {
		if err := p.Refresh(ctx); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeAuth, "token refresh failed", err)
		}
		refreshed, err := p.Token(ctx)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeAuth, "token request failed", err)
		}
		result.Refreshed = refreshed.AccessToken != tok.AccessToken
		tok = refreshed
	}
	result.TokenType = tok.Type()
	result.Expiry = tok.Expiry
	result.AccessToken = tok.AccessToken
	if !opts.Reveal {
		result.AccessToken = mask(tok.AccessToken)
	}
	return formatter.Success(result)
}

func grantOf(cfg *config.Config, alternate bool) string {
	if alternate {
		return string(auth.GrantPassword)
	}
	g, _ := auth.ParseGrant(cfg.Auth.Grant)
	return string(g)
}

// mask keeps the first four characters of a secret.
func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}
