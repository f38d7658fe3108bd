package verify

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strconv"
	"sync"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/oracle"
	"github.com/roach88/listproof/internal/predicate"
	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/store"
)

// Defaults for the surface conventions.
const (
	DefaultPageSize        = 10
	DefaultNotFoundMessage = "未找到。"
)

// Oracle is the ground truth the verifiers compare against.
type Oracle interface {
	Snapshotter
	Matching(ctx context.Context, spec resource.Spec, pred predicate.Predicate) ([]string, error)
	Record(ctx context.Context, spec resource.Spec, id string) (store.Row, error)
	RecordWhere(ctx context.Context, spec resource.Spec, id string, pred predicate.Predicate) (store.Row, error)
	DistinctValues(ctx context.Context, spec resource.Spec, field string) ([]any, error)
	Related(ctx context.Context, rel resource.Relation, id string) ([]any, error)
	Attributes(ctx context.Context, spec resource.Spec) ([]string, error)
	Bounds(ctx context.Context, spec resource.Spec) (lo, hi int64, ok bool, err error)
	LookupName(ctx context.Context, table, column, id string) (string, error)
}

// Surface is the listing API under test.
type Surface interface {
	List(ctx context.Context, endpoint string, params url.Values) (*api.Page, error)
	Follow(ctx context.Context, link string) (*api.Page, error)
	Detail(ctx context.Context, endpoint, id string) (*api.Response, error)
	Create(ctx context.Context, endpoint string, body any) (*api.Response, error)
}

// Verifier runs listing checks for one surface against one store.
// It is not safe for concurrent use; checks run sequentially.
type Verifier struct {
	oracle    Oracle
	surface   Surface
	snapshots *SnapshotCache
	rng       *rand.Rand
	logger    *slog.Logger
	pageSize  int
	notFound  string

	mu       sync.Mutex
	pageable map[string]bool
	attrs    map[string][]string
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithRand sets the random source used for sampling.
func WithRand(r *rand.Rand) Option {
	return func(v *Verifier) {
		if r != nil {
			v.rng = r
		}
	}
}

// WithLogger sets the verifier's logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithDefaultPageSize sets the page size the surface uses when none is
// requested.
func WithDefaultPageSize(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.pageSize = n
		}
	}
}

// WithNotFoundMessage sets the detail text of 404 bodies.
func WithNotFoundMessage(msg string) Option {
	return func(v *Verifier) {
		if msg != "" {
			v.notFound = msg
		}
	}
}

// WithSnapshotCache shares a snapshot cache with other components.
func WithSnapshotCache(c *SnapshotCache) Option {
	return func(v *Verifier) {
		if c != nil {
			v.snapshots = c
		}
	}
}

// New creates a Verifier.
func New(o Oracle, s Surface, opts ...Option) *Verifier {
	v := &Verifier{
		oracle:   o,
		surface:  s,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		pageSize: DefaultPageSize,
		notFound: DefaultNotFoundMessage,
		pageable: make(map[string]bool),
		attrs:    make(map[string][]string),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.snapshots == nil {
		v.snapshots = NewSnapshotCache(o)
	}
	return v
}

// Snapshots returns the verifier's snapshot cache.
func (v *Verifier) Snapshots() *SnapshotCache {
	return v.snapshots
}

// Rand returns the verifier's random source.
func (v *Verifier) Rand() *rand.Rand {
	return v.rng
}

// Oracle returns the verifier's ground truth.
func (v *Verifier) Oracle() Oracle {
	return v.oracle
}

// Snapshot returns the cached snapshot of spec.
func (v *Verifier) Snapshot(ctx context.Context, spec resource.Spec) (oracle.Snapshot, error) {
	snap, err := v.snapshots.Get(ctx, spec)
	if err != nil {
		return oracle.Snapshot{}, Fatal(spec.Name, "snapshot", err)
	}
	return snap, nil
}

// Pageable reports whether spec's listing answers with an envelope. The
// answer is detected on first use and fixed for the run.
func (v *Verifier) Pageable(ctx context.Context, spec resource.Spec) (bool, error) {
	v.mu.Lock()
	p, ok := v.pageable[spec.Name]
	v.mu.Unlock()
	if ok {
		return p, nil
	}
	snap, err := v.Snapshot(ctx, spec)
	if err != nil {
		return false, err
	}
	page, err := v.fetchAll(ctx, spec, snap, "pageable")
	if err != nil {
		return false, err
	}
	return page.Pageable, nil
}

// fetchAll requests the whole listing in one page and records whether the
// listing is paginated.
func (v *Verifier) fetchAll(ctx context.Context, spec resource.Spec, snap oracle.Snapshot, op string) (*api.Page, error) {
	params := url.Values{}
	if snap.Count > 0 {
		params.Set("page_size", strconv.Itoa(snap.Count))
	}
	page, err := v.list(ctx, spec, op, params)
	if err != nil {
		return nil, err
	}
	if err := v.observe(spec, op, page); err != nil {
		return nil, err
	}
	return page, nil
}

// observe records the pagination mode of spec's listing and reports a
// defect when a later answer disagrees with the first.
func (v *Verifier) observe(spec resource.Spec, op string, page *api.Page) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev, ok := v.pageable[spec.Name]
	if ok && prev != page.Pageable {
		return Defect(spec.Name, op, "", "listing changed pagination mode", prev, page.Pageable)
	}
	if !ok {
		v.logger.Debug("pagination detected", "resource", spec.Name, "pageable", page.Pageable)
		v.pageable[spec.Name] = page.Pageable
	}
	return nil
}

func (v *Verifier) list(ctx context.Context, spec resource.Spec, op string, params url.Values) (*api.Page, error) {
	page, err := v.surface.List(ctx, spec.Endpoint, params)
	if err != nil {
		return nil, wrap(spec.Name, op, err)
	}
	return page, nil
}

func (v *Verifier) follow(ctx context.Context, spec resource.Spec, op, link string) (*api.Page, error) {
	page, err := v.surface.Follow(ctx, link)
	if err != nil {
		return nil, wrap(spec.Name, op, err)
	}
	return page, nil
}

// resolve fills spec.Attributes from the store when the spec declares none.
func (v *Verifier) resolve(ctx context.Context, spec resource.Spec) (resource.Spec, error) {
	if len(spec.Attributes) > 0 {
		return spec, nil
	}
	v.mu.Lock()
	attrs, ok := v.attrs[spec.Name]
	v.mu.Unlock()
	if !ok {
		var err error
		attrs, err = v.oracle.Attributes(ctx, spec)
		if err != nil {
			return spec, Fatal(spec.Name, "attributes", err)
		}
		v.mu.Lock()
		v.attrs[spec.Name] = attrs
		v.mu.Unlock()
	}
	return spec.WithAttributes(attrs), nil
}

// skip logs a vacuous case and returns it as a Skip failure.
func (v *Verifier) skip(spec resource.Spec, op, format string, args ...any) error {
	f := Skip(spec.Name, op, format, args...)
	v.logger.Warn("check skipped", "resource", spec.Name, "check", op, "reason", f.Message)
	return f
}

// sample returns a uniformly chosen record.
func (v *Verifier) sample(records []api.Record) api.Record {
	return records[v.rng.IntN(len(records))]
}

// recordID extracts and normalizes the listing identity of rec.
func recordID(spec resource.Spec, rec api.Record) (string, bool) {
	raw, ok := rec[spec.ListKey]
	if !ok {
		return "", false
	}
	return oracle.Key(raw)
}

// Invalidate drops cached snapshots of the named resources after a write.
func (v *Verifier) Invalidate(names ...string) {
	v.snapshots.Invalidate(names...)
}
