// Package twin is a reference listing API over a relational store. It
// serves every resource of a catalog the way a DRF-style backend does:
// paginated envelopes, exact and contains filters, ordering, detail,
// guarded status updates, creation and an OAuth token endpoint.
//
// The twin lets a target be exercised end to end without the real
// service; tests run verifiers against it behind httptest.
package twin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/store"
)

// Defaults for the conventions the twin serves.
const (
	DefaultPageSize        = 10
	DefaultNotFoundMessage = "未找到。"
	DefaultGuardPhrase     = "引用计数大于0，启用状态不能为已停用"
	DefaultEnabled         = "1"
	DefaultDisabled        = "0"
	Anonymous              = "anonymous"
	invalidPageMessage     = "Invalid page."
)

// Clock supplies modification times.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Counter increments Column of the Table row referenced by Field whenever
// an item of Resource is created.
type Counter struct {
	Resource string
	Field    string
	Table    string
	Column   string
}

// Server is the twin. It is safe for concurrent use; writes are
// serialized.
type Server struct {
	db       *store.Store
	catalog  *resource.Catalog
	router   *chi.Mux
	logger   *slog.Logger
	clock    Clock
	prefix   string
	pageSize int
	notFound string
	guard    string
	enabled  string
	disabled string
	counters []Counter

	auth *authority

	mu    sync.Mutex // serializes writes
	attrs sync.Map   // resource name -> []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the source of modification times.
func WithClock(c Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithPrefix mounts the resources under a path prefix such as "/v1/api".
func WithPrefix(p string) Option {
	return func(s *Server) { s.prefix = p }
}

// WithPageSize sets the default page size.
func WithPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithMessages sets the not-found detail and the guard phrase.
func WithMessages(notFound, guard string) Option {
	return func(s *Server) {
		if notFound != "" {
			s.notFound = notFound
		}
		if guard != "" {
			s.guard = guard
		}
	}
}

// WithStatusCodes sets the stored values of the enabled and disabled
// states.
func WithStatusCodes(enabled, disabled string) Option {
	return func(s *Server) {
		if enabled != "" && disabled != "" {
			s.enabled, s.disabled = enabled, disabled
		}
	}
}

// WithCounter registers a counter bumped on creation.
func WithCounter(c Counter) Option {
	return func(s *Server) { s.counters = append(s.counters, c) }
}

// New builds a twin serving every resource in catalog from db.
func New(db *store.Store, catalog *resource.Catalog, opts ...Option) *Server {
	s := &Server{
		db:       db,
		catalog:  catalog,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:    systemClock{},
		pageSize: DefaultPageSize,
		notFound: DefaultNotFoundMessage,
		guard:    DefaultGuardPhrase,
		enabled:  DefaultEnabled,
		disabled: DefaultDisabled,
		auth:     newAuthority(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLog)

	r.Post("/o/token/", s.handleToken)

	mount := func(r chi.Router) {
		r.Use(s.authenticate)
		for _, name := range s.catalog.Names() {
			spec := s.catalog.MustGet(name)
			r.Route("/"+spec.Endpoint, func(r chi.Router) {
				r.Get("/", s.handleList(spec))
				r.Post("/", s.handleCreate(spec))
				r.Get("/{id}/", s.handleDetail(spec))
				r.Patch("/{id}/", s.handleUpdate(spec))
				r.Put("/{id}/", s.handleUpdate(spec))
			})
		}
	}
	if s.prefix != "" {
		r.Route(s.prefix, mount)
	} else {
		r.Group(mount)
	}
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("twin listening", "addr", addr, "resources", s.catalog.Len())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("twin shutting down")
	shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("twin request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status", ww.Status(),
			"elapsed", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeDetail writes a DRF error body {"detail": msg}.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("twin error", "method", r.Method, "path", r.URL.Path, "err", err)
	writeDetail(w, http.StatusInternalServerError, "A server error occurred.")
}
