package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenServer issues tokens and records the grant of every request.
type tokenServer struct {
	*httptest.Server
	mu        sync.Mutex
	grants    []string
	forms     []map[string]string
	expiresIn int
	n         int
}

func newTokenServer(t *testing.T, expiresIn int) *tokenServer {
	ts := &tokenServer{expiresIn: expiresIn}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		ts.mu.Lock()
		defer ts.mu.Unlock()

		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		ts.grants = append(ts.grants, form["grant_type"])
		ts.forms = append(ts.forms, form)

		if form["grant_type"] == "password" && form["password"] != "pwd" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
			return
		}
		ts.n++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token_type":    "bearer",
			"access_token":  fmt.Sprintf("tok-%d", ts.n),
			"refresh_token": fmt.Sprintf("ref-%d", ts.n),
			"expires_in":    ts.expiresIn,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) seen() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.grants...)
}

func TestParseGrant(t *testing.T) {
	g, err := ParseGrant(" Password ")
	require.NoError(t, err)
	assert.Equal(t, GrantPassword, g)

	g, err = ParseGrant("")
	require.NoError(t, err)
	assert.Equal(t, GrantPassword, g)

	_, err = ParseGrant("implicit")
	assert.Error(t, err)
}

func TestNewProvider_Validates(t *testing.T) {
	_, err := NewProvider(Config{})
	assert.ErrorContains(t, err, "token_url")

	_, err = NewProvider(Config{TokenURL: "http://x", ClientID: "c", Grant: GrantAuthorizationCode})
	assert.ErrorContains(t, err, "requires code")
}

func TestPasswordGrant_LazyAndCached(t *testing.T) {
	ts := newTokenServer(t, 3600)
	p, err := NewProvider(Config{TokenURL: ts.URL, ClientID: "cid", ClientSecret: "sk", Username: "alice", Password: "pwd"})
	require.NoError(t, err)
	assert.Empty(t, ts.seen(), "no request before first use")

	h, err := p.Header(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", h)

	h, err = p.Header(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", h)

	assert.Equal(t, []string{"password"}, ts.seen())
	assert.Equal(t, "cid", ts.forms[0]["client_id"], "client credentials sent in the form body")
	assert.Equal(t, "sk", ts.forms[0]["client_secret"])
	assert.Equal(t, "alice", p.Principal())
}

func TestExpiringTokenIsRefreshed(t *testing.T) {
	ts := newTokenServer(t, 1)
	p, err := NewProvider(Config{TokenURL: ts.URL, ClientID: "cid", Username: "alice", Password: "pwd"})
	require.NoError(t, err)

	// A token inside the expiry window is refreshed before use.
	h, err := p.Header(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-2", h)
	assert.Equal(t, []string{"password", "refresh_token"}, ts.seen())
	assert.Equal(t, "ref-1", ts.forms[1]["refresh_token"])

	h, err = p.Header(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-3", h)
}

func TestRefresh(t *testing.T) {
	ts := newTokenServer(t, 3600)
	p, err := NewProvider(Config{TokenURL: ts.URL, ClientID: "cid", Username: "alice", Password: "pwd"})
	require.NoError(t, err)

	require.NoError(t, p.Refresh(context.Background()), "refresh before any token re-acquires")
	require.NoError(t, p.Refresh(context.Background()))

	h, err := p.Header(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-2", h)
	assert.Equal(t, []string{"password", "refresh_token"}, ts.seen())
	assert.Equal(t, "ref-1", ts.forms[1]["refresh_token"])
}

func TestClientCredentialsGrant(t *testing.T) {
	ts := newTokenServer(t, 3600)
	p, err := NewProvider(Config{TokenURL: ts.URL, ClientID: "svc", ClientSecret: "sk", Grant: GrantClientCredentials})
	require.NoError(t, err)

	h, err := p.Header(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", h)
	assert.Equal(t, []string{"client_credentials"}, ts.seen())
	assert.Equal(t, "svc", p.Principal())
}

func TestAuthorizationCodeGrant(t *testing.T) {
	ts := newTokenServer(t, 3600)
	p, err := NewProvider(Config{TokenURL: ts.URL, ClientID: "cid", Grant: GrantAuthorizationCode, Code: "c0de", RedirectURL: "http://localhost/cb"})
	require.NoError(t, err)

	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"authorization_code"}, ts.seen())
	assert.Equal(t, "c0de", ts.forms[0]["code"])
}

func TestAs_AlternatePrincipal(t *testing.T) {
	ts := newTokenServer(t, 3600)
	p, err := NewProvider(Config{TokenURL: ts.URL, ClientID: "cid", Username: "alice", Password: "pwd"})
	require.NoError(t, err)

	bob, err := p.As("bob", "pwd")
	require.NoError(t, err)
	assert.Equal(t, "bob", bob.Principal())

	_, err = bob.Header(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bob", ts.forms[0]["username"])
}

func TestBadCredentialsAreTokenErrors(t *testing.T) {
	ts := newTokenServer(t, 3600)
	p, err := NewProvider(Config{TokenURL: ts.URL, ClientID: "cid", Username: "alice", Password: "wrong"})
	require.NoError(t, err)

	_, err = p.Header(context.Background())
	var te *TokenError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "access", te.Op)
	assert.Equal(t, GrantPassword, te.Grant)
}
