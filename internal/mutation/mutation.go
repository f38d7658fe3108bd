// Package mutation verifies the enable/disable state machine of flippable
// resources: successful flips with their audit fields, the reference-count
// guard, and the UI-mirrored flow. Records a check mutates are restored
// from a captured state afterwards.
package mutation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/auth"
	"github.com/roach88/listproof/internal/oracle"
	"github.com/roach88/listproof/internal/querysql"
	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/verify"
)

// DefaultGuardPhrase is the message a guard rejection carries.
const DefaultGuardPhrase = "引用计数大于0，启用状态不能为已停用"

// Surface is the slice of the API client mutations go through.
type Surface interface {
	Detail(ctx context.Context, endpoint, id string) (*api.Response, error)
	Update(ctx context.Context, method, endpoint, id string, body any, tokens api.TokenSource) (*api.Response, error)
}

// Store is the write access used for priming and restore.
type Store interface {
	Compiler() *querysql.Compiler
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Verifier runs mutation checks. Record reconciliation and snapshot
// invalidation are delegated to a verify.Verifier.
type Verifier struct {
	checks    *verify.Verifier
	surface   Surface
	store     Store
	codes     Codes
	guard     string
	principal string
	logger    *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithCodes sets the wire values of the two states.
func WithCodes(c Codes) Option {
	return func(v *Verifier) {
		v.codes = c
	}
}

// WithGuardPhrase sets the phrase a guard rejection must contain.
func WithGuardPhrase(s string) Option {
	return func(v *Verifier) {
		if s != "" {
			v.guard = s
		}
	}
}

// WithPrincipal names the default actor, the user the surface client
// authenticates as.
func WithPrincipal(name string) Option {
	return func(v *Verifier) {
		v.principal = name
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// New creates a Verifier.
func New(checks *verify.Verifier, surface Surface, store Store, opts ...Option) *Verifier {
	v := &Verifier{
		checks:  checks,
		surface: surface,
		store:   store,
		codes:   DefaultCodes,
		guard:   DefaultGuardPhrase,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// FlipOptions select who flips and how.
type FlipOptions struct {
	// Actor acts instead of the default principal when set.
	Actor *auth.Provider
	// Method is PATCH (default) or PUT.
	Method string
}

func (o FlipOptions) method() string {
	if o.Method == "" {
		return http.MethodPatch
	}
	return strings.ToUpper(o.Method)
}

func (v *Verifier) actor(o FlipOptions) (api.TokenSource, string) {
	if o.Actor == nil {
		return nil, v.principal
	}
	return o.Actor, o.Actor.Principal()
}

// Flip toggles the status of rec through the surface and checks the
// answer: success status, status equal to the target, modify_user equal to
// the acting principal, modify_time strictly later, every other shared
// attribute unchanged. The updated record is then reconciled with the
// store.
//
// Disabling a record the store holds enabled and referenced must instead
// be rejected by the guard; accepting it is the defect.
func (v *Verifier) Flip(ctx context.Context, spec resource.Spec, rec api.Record, opts FlipOptions) error {
	const op = "flip"
	if !spec.Flippable() {
		return verify.Unsupported(spec.Name, op, "resource has no status")
	}
	id, ok := oracle.Key(rec[spec.ListKey])
	if !ok {
		return verify.Defect(spec.Name, op, "", fmt.Sprintf("record has no %q", spec.ListKey), spec.ListKey, rec.Keys())
	}
	current := v.codes.Parse(rec[attr(spec, spec.Status.Field)])
	target := current.Opposite()
	if target == Unknown {
		return verify.Unsupported(spec.Name, op, "status %v is neither enabled nor disabled", rec[attr(spec, spec.Status.Field)])
	}
	method := opts.method()
	tokens, principal := v.actor(opts)
	if target == Disabled {
		before, err := v.State(ctx, spec, id)
		if err != nil {
			return verify.Fatal(spec.Name, op, err)
		}
		if before.Guarded() {
			v.logger.Info("check", "check", op, "resource", spec.Name, "id", id, "method", method, "actor", principal, "guarded", true)
			return v.rejects(ctx, spec, op, rec, id, method, tokens, before)
		}
	}
	body, err := v.body(spec, rec, method, target)
	if err != nil {
		return err
	}
	v.logger.Info("check", "check", op, "resource", spec.Name, "id", id, "method", method, "actor", principal, "target", target)

	resp, err := v.surface.Update(ctx, method, spec.Endpoint, id, body, tokens)
	if err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	v.checks.Invalidate(spec.Name)
	if !resp.OK() {
		return verify.Defect(spec.Name, op, id, method+" rejected: "+api.Snippet(resp.Body), http.StatusOK, resp.Status)
	}
	updated, err := api.DecodeRecord(resp.Body)
	if err != nil {
		return verify.Fatal(spec.Name, op, &api.DecodeError{URL: resp.URL, Err: err})
	}
	if err := v.checkAudit(spec, op, id, rec, updated, target, principal); err != nil {
		return err
	}
	return v.checks.VerifyRecord(ctx, spec, updated)
}

// body builds the update request: the status alone for PATCH, the whole
// record with the new status for PUT.
func (v *Verifier) body(spec resource.Spec, rec api.Record, method string, target Status) (map[string]any, error) {
	field := attr(spec, spec.Status.Field)
	switch method {
	case http.MethodPatch:
		return map[string]any{field: v.codes.Code(target)}, nil
	case http.MethodPut:
		out := maps.Clone(rec)
		out[field] = v.codes.Code(target)
		return out, nil
	}
	return nil, verify.Unsupported(spec.Name, "flip", "method %s cannot update a record", method)
}

func (v *Verifier) checkAudit(spec resource.Spec, op, id string, before, after api.Record, target Status, principal string) error {
	st := spec.Status
	statusAttr := attr(spec, st.Field)
	userAttr := attr(spec, st.ModifyUser)
	timeAttr := attr(spec, st.ModifyTime)
	layout := spec.Field(timeAttr).Layout

	expected := map[string]any{}
	actual := map[string]any{}
	for _, k := range before.Keys() {
		got, ok := after[k]
		if !ok {
			continue
		}
		switch k {
		case statusAttr:
			if v.codes.Parse(got) != target {
				expected[k], actual[k] = v.codes.Code(target), got
			}
		case userAttr:
			if fmt.Sprint(got) != principal {
				expected[k], actual[k] = principal, got
			}
		case timeAttr:
			prev, perr := parseTime(before[k], layout)
			next, nerr := parseTime(got, layout)
			if perr != nil || nerr != nil || !next.After(prev) {
				expected[k], actual[k] = fmt.Sprintf("> %v", before[k]), got
			}
		default:
			if !reflect.DeepEqual(before[k], got) {
				expected[k], actual[k] = before[k], got
			}
		}
	}
	if len(expected) == 0 {
		return nil
	}
	fields := slices.Sorted(maps.Keys(expected))
	return verify.Defect(spec.Name, op, id, "update changed: "+strings.Join(fields, ", "), expected, actual)
}

// VerifyGuard checks that disabling rec is rejected by both PATCH and PUT
// while the stored record is enabled and referenced, with a server error
// naming the guard, and that the stored status survives. A record whose
// stored state does not hold the guard precondition is skipped.
func (v *Verifier) VerifyGuard(ctx context.Context, spec resource.Spec, rec api.Record) error {
	const op = "guard"
	if !spec.Flippable() {
		return verify.Unsupported(spec.Name, op, "resource has no status")
	}
	id, ok := oracle.Key(rec[spec.ListKey])
	if !ok {
		return verify.Defect(spec.Name, op, "", fmt.Sprintf("record has no %q", spec.ListKey), spec.ListKey, rec.Keys())
	}
	v.logger.Info("check", "check", op, "resource", spec.Name, "id", id)

	before, err := v.State(ctx, spec, id)
	if err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	if !before.Guarded() {
		v.logger.Warn("guard precondition does not hold", "resource", spec.Name, "id", id, "status", before.Status, "ref_count", before.RefCount)
		return verify.Skip(spec.Name, op, "id %s is %s with ref_count %d", id, before.Status, before.RefCount)
	}

	for _, method := range []string{http.MethodPatch, http.MethodPut} {
		if err := v.rejects(ctx, spec, op, rec, id, method, nil, before); err != nil {
			return err
		}
	}
	return nil
}

// rejects sends a disabling update of a guarded record and requires a
// server error naming the guard with the stored status left as before.
func (v *Verifier) rejects(ctx context.Context, spec resource.Spec, op string, rec api.Record, id, method string, tokens api.TokenSource, before State) error {
	body, err := v.body(spec, rec, method, Disabled)
	if err != nil {
		return err
	}
	resp, err := v.surface.Update(ctx, method, spec.Endpoint, id, body, tokens)
	if err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	v.checks.Invalidate(spec.Name)
	switch {
	case resp.OK():
		return verify.Defect(spec.Name, op, id, method+" disabled a referenced record", "5xx", resp.Status)
	case !resp.ServerError():
		return verify.Defect(spec.Name, op, id, method+" rejection status", "5xx", resp.Status)
	case !v.namesGuard(resp.Body):
		return verify.Defect(spec.Name, op, id, method+" rejection does not name the reference-count guard", v.guard, api.Snippet(resp.Body))
	}

	after, err := v.State(ctx, spec, id)
	if err != nil {
		return verify.Fatal(spec.Name, op, err)
	}
	if after.Status != before.Status {
		return verify.Defect(spec.Name, op, id, method+" rejection still changed the stored status", before.Status.String(), after.Status.String())
	}
	return nil
}

func (v *Verifier) namesGuard(body []byte) bool {
	if strings.Contains(string(body), v.guard) {
		return true
	}
	detail, ok := api.Detail(body)
	return ok && strings.Contains(detail, v.guard)
}

func parseTime(v any, layout string) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp %v is not a string", v)
	}
	if layout == "" {
		layout = resource.DefaultTimestampLayout
	}
	if t, err := time.Parse(layout, s); err == nil {
		return t, nil
	}
	return dateparse.ParseIn(s, time.UTC)
}
