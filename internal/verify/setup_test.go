package verify

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/auth"
	"github.com/roach88/listproof/internal/oracle"
	"github.com/roach88/listproof/internal/store"
	"github.com/roach88/listproof/internal/testutil"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	store  *store.Store
	client *api.Client
	oracle *oracle.Oracle
}

// newFixture starts a twin over a fresh fixture store and returns an
// authenticated client for it.
func newFixture(t *testing.T) fixture {
	t.Helper()
	st := testutil.OpenFixture(t)
	srv := testutil.Twin(t, st)

	tokens, err := auth.NewProvider(auth.Config{
		TokenURL:     srv.URL + testutil.TokenPath,
		ClientID:     testutil.ClientID,
		ClientSecret: testutil.ClientSecret,
		Grant:        auth.GrantPassword,
		Username:     testutil.AdminUser,
		Password:     testutil.AdminPassword,
	})
	require.NoError(t, err)
	client, err := api.New(srv.URL, api.WithTokens(tokens))
	require.NoError(t, err)
	return fixture{store: st, client: client, oracle: oracle.New(st)}
}

func (f fixture) verifier(surface Surface, opts ...Option) *Verifier {
	if surface == nil {
		surface = f.client
	}
	base := []Option{WithRand(testutil.NewRand(testutil.Seed)), WithLogger(quiet)}
	return New(f.oracle, surface, append(base, opts...)...)
}

// tamperSurface lets a test rewrite what the real surface answers.
type tamperSurface struct {
	Surface
	page   func(*api.Page)
	detail func(id string, resp *api.Response) *api.Response
}

func (s tamperSurface) List(ctx context.Context, endpoint string, params url.Values) (*api.Page, error) {
	p, err := s.Surface.List(ctx, endpoint, params)
	if err == nil && s.page != nil {
		s.page(p)
	}
	return p, err
}

func (s tamperSurface) Follow(ctx context.Context, link string) (*api.Page, error) {
	p, err := s.Surface.Follow(ctx, link)
	if err == nil && s.page != nil {
		s.page(p)
	}
	return p, err
}

func (s tamperSurface) Detail(ctx context.Context, endpoint, id string) (*api.Response, error) {
	resp, err := s.Surface.Detail(ctx, endpoint, id)
	if err == nil && s.detail != nil {
		resp = s.detail(id, resp)
	}
	return resp, err
}

func failure(t *testing.T, err error) *Failure {
	t.Helper()
	require.Error(t, err)
	var f *Failure
	require.ErrorAs(t, err, &f)
	return f
}
