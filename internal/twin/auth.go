package twin

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const tokenLifetime = 3600

type principalKey struct{}

// principal returns the authenticated user of a request.
func principal(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey{}).(string); ok && p != "" {
		return p
	}
	return Anonymous
}

// authority issues and checks bearer tokens. With no users and no client
// registered every request is accepted as Anonymous.
type authority struct {
	mu       sync.Mutex
	users    map[string]string
	clientID string
	secret   string
	access   map[string]string
	refresh  map[string]string
}

func newAuthority() *authority {
	return &authority{
		users:   map[string]string{},
		access:  map[string]string{},
		refresh: map[string]string{},
	}
}

func (a *authority) enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.users) > 0 || a.clientID != ""
}

// WithUser registers a password-grant user.
func WithUser(name, password string) Option {
	return func(s *Server) { s.auth.users[name] = password }
}

// WithClient registers the OAuth client credentials.
func WithClient(id, secret string) Option {
	return func(s *Server) { s.auth.clientID, s.auth.secret = id, secret }
}

func (a *authority) issue(who string) map[string]any {
	access, refresh := uuid.NewString(), uuid.NewString()
	a.mu.Lock()
	a.access[access] = who
	a.refresh[refresh] = who
	a.mu.Unlock()
	return map[string]any{
		"access_token":  access,
		"token_type":    "Bearer",
		"expires_in":    tokenLifetime,
		"refresh_token": refresh,
		"scope":         "read write",
	}
}

func oauthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// handleToken implements the password, client_credentials and
// refresh_token grants.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	a := s.auth
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	a.mu.Lock()
	clientOK := a.clientID == "" || (id == a.clientID && secret == a.secret)
	a.mu.Unlock()
	if !clientOK {
		oauthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	grant := r.PostForm.Get("grant_type")
	var who string
	switch grant {
	case "password":
		user, pwd := r.PostForm.Get("username"), r.PostForm.Get("password")
		a.mu.Lock()
		want, known := a.users[user]
		a.mu.Unlock()
		if !known || want != pwd {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		who = user
	case "client_credentials":
		if a.clientID == "" {
			oauthError(w, http.StatusBadRequest, "unauthorized_client")
			return
		}
		who = a.clientID
	case "refresh_token":
		a.mu.Lock()
		rt := r.PostForm.Get("refresh_token")
		who = a.refresh[rt]
		delete(a.refresh, rt)
		a.mu.Unlock()
		if who == "" {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	s.logger.Debug("token issued", "grant", grant, "principal", who)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, a.issue(who))
}

// authenticate resolves the bearer token to a principal.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		scheme, token, _ := strings.Cut(r.Header.Get("Authorization"), " ")
		if !strings.EqualFold(scheme, "bearer") || token == "" {
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		s.auth.mu.Lock()
		who, ok := s.auth.access[token]
		s.auth.mu.Unlock()
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Invalid token.")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, who)))
	})
}
