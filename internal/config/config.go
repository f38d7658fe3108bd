// Package config loads the target file that describes one surface under
// test: where it lives, how to authenticate, which store holds its ground
// truth and the conventions it follows.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/listproof/internal/auth"
	"github.com/roach88/listproof/internal/mutation"
	"github.com/roach88/listproof/internal/querysql"
	"github.com/roach88/listproof/internal/ui"
	"github.com/roach88/listproof/internal/verify"
)

// Environment variables that override the file.
const (
	EnvBaseURL      = "LISTPROOF_BASE_URL"
	EnvStoreDSN     = "LISTPROOF_STORE_DSN"
	EnvClientSecret = "LISTPROOF_CLIENT_SECRET"
	EnvPassword     = "LISTPROOF_PASSWORD"
)

// Defaults applied to fields the file leaves empty.
const (
	DefaultTimeout      = 100 * time.Second
	DefaultQueryTimeout = 5 * time.Second
	DefaultStoreDriver  = "mysql"
)

// Config is a target file.
type Config struct {
	BaseURL   string   `yaml:"base_url"`
	Timeout   Duration `yaml:"timeout"`
	Store     Store    `yaml:"store"`
	Auth      Auth     `yaml:"auth"`
	Surface   Surface  `yaml:"surface"`
	UI        UI       `yaml:"ui"`
	Resources string   `yaml:"resources"`
	// Seed fixes the sampling random source; 0 seeds from the clock.
	Seed uint64 `yaml:"seed"`
}

// Store locates the ground-truth database.
type Store struct {
	Driver       string   `yaml:"driver"`
	DSN          string   `yaml:"dsn"`
	QueryTimeout Duration `yaml:"query_timeout"`
}

// Auth holds the OAuth2 credentials of the default principal and the
// optional alternate one.
type Auth struct {
	TokenURL     string     `yaml:"token_url"`
	Grant        string     `yaml:"grant"`
	ClientID     string     `yaml:"client_id"`
	ClientSecret string     `yaml:"client_secret"`
	Username     string     `yaml:"username"`
	Password     string     `yaml:"password"`
	Code         string     `yaml:"code"`
	RedirectURL  string     `yaml:"redirect_url"`
	Scopes       []string   `yaml:"scopes"`
	Alternate    *Principal `yaml:"alternate"`
}

// Principal is a second user sharing the client credentials.
type Principal struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Surface holds the conventions of the API under test.
type Surface struct {
	DefaultPageSize int    `yaml:"default_page_size"`
	NotFoundMessage string `yaml:"not_found_message"`
	GuardPhrase     string `yaml:"guard_phrase"`
	StatusEnabled   string `yaml:"status_enabled"`
	StatusDisabled  string `yaml:"status_disabled"`
}

// UI configures UI-mirrored checks.
type UI struct {
	ListURL  string      `yaml:"list_url"`
	Locators ui.Locators `yaml:"locators"`
	// Names maps list columns showing display names to their lookup.
	Names map[string]mutation.NameLookup `yaml:"names"`
}

// Duration is a time.Duration written as "5s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads the target file at path. Environment overrides are applied
// and a relative resources path is resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data, filepath.Dir(path), os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a target file. dir anchors a relative resources path;
// lookup reads environment overrides and may be nil.
func Parse(data []byte, dir string, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty config")
		}
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if lookup != nil {
		cfg.applyEnv(lookup)
	}
	cfg.applyDefaults()
	if cfg.Resources != "" && !filepath.IsAbs(cfg.Resources) && dir != "" {
		cfg.Resources = filepath.Join(dir, cfg.Resources)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.BaseURL, EnvBaseURL)
	set(&c.Store.DSN, EnvStoreDSN)
	set(&c.Auth.ClientSecret, EnvClientSecret)
	set(&c.Auth.Password, EnvPassword)
}

func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = Duration(DefaultTimeout)
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.QueryTimeout == 0 {
		c.Store.QueryTimeout = Duration(DefaultQueryTimeout)
	}
	s := &c.Surface
	if s.DefaultPageSize == 0 {
		s.DefaultPageSize = verify.DefaultPageSize
	}
	if s.NotFoundMessage == "" {
		s.NotFoundMessage = verify.DefaultNotFoundMessage
	}
	if s.GuardPhrase == "" {
		s.GuardPhrase = mutation.DefaultGuardPhrase
	}
	if s.StatusEnabled == "" {
		s.StatusEnabled = mutation.DefaultCodes.Enabled
	}
	if s.StatusDisabled == "" {
		s.StatusDisabled = mutation.DefaultCodes.Disabled
	}
	l := &c.UI.Locators
	d := ui.DefaultLocators
	if l.Toggle == "" {
		l.Toggle = d.Toggle
	}
	orDefault(&l.Dialog, d.Dialog)
	orDefault(&l.Confirm, d.Confirm)
	orDefault(&l.Cancel, d.Cancel)
	orDefault(&l.Message, d.Message)
	orDefault(&l.Refresh, d.Refresh)
}

func orDefault(dst *ui.Locator, def ui.Locator) {
	if *dst == "" {
		*dst = def
	}
}

// Validate reports every missing or inconsistent field.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if _, err := querysql.DialectFor(c.Store.Driver); err != nil {
		errs = append(errs, fmt.Errorf("store.driver: %w", err))
	}
	if c.Resources == "" {
		errs = append(errs, errors.New("resources is required"))
	}
	if _, err := auth.ParseGrant(c.Auth.Grant); err != nil {
		errs = append(errs, fmt.Errorf("auth.grant: %w", err))
	}
	if c.Surface.DefaultPageSize < 0 {
		errs = append(errs, errors.New("surface.default_page_size must be positive"))
	}
	if c.Surface.StatusEnabled == c.Surface.StatusDisabled {
		errs = append(errs, errors.New("surface.status_enabled and status_disabled must differ"))
	}
	if c.Auth.Alternate != nil && c.Auth.Alternate.Username == "" {
		errs = append(errs, errors.New("auth.alternate.username is required"))
	}
	return errors.Join(errs...)
}

// Provider returns the credentials of the default principal.
func (a Auth) Provider() (auth.Config, error) {
	grant, err := auth.ParseGrant(a.Grant)
	if err != nil {
		return auth.Config{}, err
	}
	return auth.Config{
		TokenURL:     a.TokenURL,
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		Grant:        grant,
		Username:     a.Username,
		Password:     a.Password,
		Code:         a.Code,
		RedirectURL:  a.RedirectURL,
		Scopes:       a.Scopes,
	}, nil
}

// Codes returns the stored status values.
func (s Surface) Codes() mutation.Codes {
	return mutation.Codes{Enabled: s.StatusEnabled, Disabled: s.StatusDisabled}
}
