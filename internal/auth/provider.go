// Package auth obtains bearer tokens for the surface under test over OAuth2.
//
// A Provider owns one principal's credentials. It acquires a token lazily on
// first use with the configured grant and refreshes it through the
// refresh_token grant once it nears expiry. Alternate principals (used to
// check modify_user attribution) are derived with As.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Grant is an OAuth2 grant type.
type Grant string

const (
	GrantPassword          Grant = "password"
	GrantClientCredentials Grant = "client_credentials"
	GrantAuthorizationCode Grant = "authorization_code"
)

// ParseGrant normalizes s to a supported Grant.
func ParseGrant(s string) (Grant, error) {
	g := Grant(strings.ToLower(strings.TrimSpace(s)))
	switch g {
	case GrantPassword, GrantClientCredentials, GrantAuthorizationCode:
		return g, nil
	case "":
		return GrantPassword, nil
	}
	return "", fmt.Errorf("unsupported grant type %q", s)
}

// Config holds one principal's credentials.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Grant        Grant
	Username     string
	Password     string
	// Code and RedirectURL are used by the authorization_code grant.
	Code        string
	RedirectURL string
	Scopes      []string
}

func (c Config) validate() error {
	var errs []error
	if c.TokenURL == "" {
		errs = append(errs, errors.New("token_url is required"))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("client_id is required"))
	}
	switch c.Grant {
	case GrantPassword:
		if c.Username == "" {
			errs = append(errs, errors.New("password grant requires username"))
		}
	case GrantAuthorizationCode:
		if c.Code == "" {
			errs = append(errs, errors.New("authorization_code grant requires code"))
		}
	case GrantClientCredentials:
	default:
		errs = append(errs, fmt.Errorf("unsupported grant type %q", c.Grant))
	}
	return errors.Join(errs...)
}

// TokenError is a failed token acquisition or refresh.
type TokenError struct {
	Grant Grant
	Op    string
	Err   error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("%s oauth2 token (%s): %v", e.Op, e.Grant, e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Provider supplies the Authorization header for one principal.
type Provider struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	source oauth2.TokenSource
	last   *oauth2.Token
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		if hc != nil {
			p.httpClient = hc
		}
	}
}

// WithLogger sets the provider's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvider validates cfg and returns a Provider. No request is made
// until the first Token call.
func NewProvider(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.Grant == "" {
		cfg.Grant = GrantPassword
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("auth config: %w", err)
	}
	p := &Provider{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// As returns a Provider for another user with the same client
// credentials, using the password grant.
func (p *Provider) As(username, password string) (*Provider, error) {
	cfg := p.cfg
	cfg.Grant = GrantPassword
	cfg.Username = username
	cfg.Password = password
	cfg.Code = ""
	return NewProvider(cfg, WithHTTPClient(p.httpClient), WithLogger(p.logger))
}

// Principal is the name the surface records as modify_user for this
// provider's requests.
func (p *Provider) Principal() string {
	if p.cfg.Username != "" {
		return p.cfg.Username
	}
	return p.cfg.ClientID
}

// Token returns a valid token, acquiring or refreshing it as needed.
func (p *Provider) Token(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source == nil {
		if err := p.access(ctx); err != nil {
			return nil, err
		}
	}
	tok, err := p.source.Token()
	if err != nil {
		return nil, &TokenError{Grant: p.cfg.Grant, Op: "refresh", Err: err}
	}
	if p.last != nil && tok.AccessToken != p.last.AccessToken {
		p.logger.Info("oauth2 token refreshed", "principal", p.Principal())
	}
	p.last = tok
	return tok, nil
}

// Header returns "<token_type> <access_token>".
func (p *Provider) Header(ctx context.Context) (string, error) {
	tok, err := p.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.Type() + " " + tok.AccessToken, nil
}

// Refresh discards the current access token. With a refresh token the next
// Token call uses the refresh_token grant; without one it re-acquires.
func (p *Provider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last == nil || p.last.RefreshToken == "" {
		return p.access(ctx)
	}
	p.source = p.oauthConfig().TokenSource(p.background(ctx), &oauth2.Token{RefreshToken: p.last.RefreshToken})
	tok, err := p.source.Token()
	if err != nil {
		return &TokenError{Grant: p.cfg.Grant, Op: "refresh", Err: err}
	}
	p.last = tok
	p.logger.Info("oauth2 token refreshed", "principal", p.Principal())
	return nil
}

func (p *Provider) access(ctx context.Context) error {
	p.logger.Info("accessing oauth2 token", "grant", p.cfg.Grant, "principal", p.Principal())
	bg := p.background(ctx)
	reqCtx := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	switch p.cfg.Grant {
	case GrantClientCredentials:
		cc := &clientcredentials.Config{
			ClientID:     p.cfg.ClientID,
			ClientSecret: p.cfg.ClientSecret,
			TokenURL:     p.cfg.TokenURL,
			Scopes:       p.cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		src := oauth2.ReuseTokenSource(nil, cc.TokenSource(bg))
		tok, err := src.Token()
		if err != nil {
			return &TokenError{Grant: p.cfg.Grant, Op: "access", Err: err}
		}
		p.source, p.last = src, tok
		return nil

	case GrantAuthorizationCode:
		tok, err := p.oauthConfig().Exchange(reqCtx, p.cfg.Code)
		if err != nil {
			return &TokenError{Grant: p.cfg.Grant, Op: "access", Err: err}
		}
		p.source, p.last = p.oauthConfig().TokenSource(bg, tok), tok
		return nil

	default:
		tok, err := p.oauthConfig().PasswordCredentialsToken(reqCtx, p.cfg.Username, p.cfg.Password)
		if err != nil {
			return &TokenError{Grant: p.cfg.Grant, Op: "access", Err: err}
		}
		p.source, p.last = p.oauthConfig().TokenSource(bg, tok), tok
		return nil
	}
}

func (p *Provider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  p.cfg.RedirectURL,
		Scopes:       p.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// background carries the HTTP client into token sources that outlive ctx.
func (p *Provider) background(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, p.httpClient)
}
