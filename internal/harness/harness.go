package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/listproof/internal/predicate"
	"github.com/roach88/listproof/internal/report"
	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/verify"
)

// Run executes a scenario's checks in order and returns their outcomes.
//
// Check failures never surface as an error: defects are collected into the
// result and a fatal failure aborts the remaining checks. Run returns an
// error only when the scenario cannot start.
func Run(ctx context.Context, env *Env, sc *Scenario) (*Result, error) {
	if env == nil || env.Catalog == nil || env.Checks == nil {
		return nil, errors.New("harness: environment needs a catalog and a verifier")
	}
	spec, ok := env.Catalog.Get(sc.Resource)
	if !ok {
		return nil, fmt.Errorf("scenario %q: unknown resource %q", sc.Name, sc.Resource)
	}
	return run(ctx, env, sc, spec, env.runID()), nil
}

// RunAll executes scenarios under one run id. A scenario that cannot start
// is recorded as aborted.
func RunAll(ctx context.Context, env *Env, scenarios []*Scenario) *report.Run {
	id := env.runID()
	out := &report.Run{RunID: id, Scenarios: make([]*Result, 0, len(scenarios))}
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			res := report.NewScenario(sc.Name, sc.Resource, id)
			res.Add(report.Check{Name: "start", Type: "start", Outcome: report.Fatal,
				Class: string(verify.ClassFatal), Message: err.Error()})
			out.Scenarios = append(out.Scenarios, res)
			continue
		}
		spec, ok := env.Catalog.Get(sc.Resource)
		if !ok {
			res := report.NewScenario(sc.Name, sc.Resource, id)
			res.Add(report.Check{Name: "start", Type: "start", Outcome: report.Fatal,
				Class: string(verify.ClassFatal), Message: fmt.Sprintf("unknown resource %q", sc.Resource)})
			out.Scenarios = append(out.Scenarios, res)
			continue
		}
		out.Scenarios = append(out.Scenarios, run(ctx, env, sc, spec, id))
	}
	return out
}

func run(ctx context.Context, env *Env, sc *Scenario, spec resource.Spec, runID string) *Result {
	logger := env.logger().With("scenario", sc.Name, "run_id", runID)
	res := report.NewScenario(sc.Name, sc.Resource, runID)

	// Each scenario starts from the store's current state.
	env.Checks.Invalidate()

	for _, c := range sc.Checks {
		if res.Aborted {
			break
		}
		err := execute(ctx, env, spec, c)
		check := evaluate(c, err)
		switch check.Outcome {
		case report.Pass:
			logger.Debug("check passed", "check", check.Name)
			if check.Class != "" {
				res.Note(fmt.Sprintf("%s: expected %s: %s", check.Name, c.Expect, check.Message))
			}
		case report.Skip:
			logger.Warn("check skipped", "check", check.Name, "reason", check.Message)
			res.Note(fmt.Sprintf("%s: %s", check.Name, check.Message))
		case report.Fail:
			logger.Error("check failed", "check", check.Name, "error", err)
		case report.Fatal:
			logger.Error("scenario aborted", "check", check.Name, "cause", verify.Cause(err), "error", err)
		}
		res.Add(check)
	}
	return res
}

// execute dispatches one check.
func execute(ctx context.Context, env *Env, spec resource.Spec, c Check) error {
	v := env.Checks
	switch c.Type {
	case CheckDefault:
		return v.VerifyDefaultListing(ctx, spec)
	case CheckPagination:
		return v.VerifyPagination(ctx, spec)
	case CheckPageWalk:
		return v.VerifyPageWalk(ctx, spec, c.Size)
	case CheckFilter:
		return v.VerifyFilter(ctx, spec, c.Param, c.Value)
	case CheckOrder:
		return v.VerifyOrdering(ctx, spec, c.Fields)
	case CheckDetail:
		if c.ID != "" {
			return v.VerifyDetail(ctx, spec, c.ID)
		}
		return v.VerifySampleDetail(ctx, spec)
	case CheckNotFound:
		return v.VerifyNotFound(ctx, spec)
	case CheckCreate:
		counter, err := env.counter(c.Counter)
		if err != nil {
			return verify.Fatal(spec.Name, c.Type, err)
		}
		return v.VerifyCreation(ctx, spec, c.Payload, counter)
	case CheckFlipStatus, CheckGuard, CheckMirroredFlip:
		return executeMutation(ctx, env, spec, c)
	}
	return verify.Unsupported(spec.Name, c.Type, "unknown check type %q", c.Type)
}

func executeMutation(ctx context.Context, env *Env, spec resource.Spec, c Check) error {
	m := env.Mutations
	if m == nil {
		return verify.Skip(spec.Name, c.Type, "no mutation surface configured")
	}
	switch c.Type {
	case CheckFlipStatus:
		return m.FlipStatus(ctx, spec, env.Alternate)
	case CheckGuard:
		return m.Guard(ctx, spec)
	}
	if env.Driver == nil {
		return verify.Skip(spec.Name, c.Type, "no UI driver configured")
	}
	opts := env.Mirror
	opts.Guarded = c.Guarded
	return m.WithRestore(ctx, spec, c.ID, func() error {
		return m.MirroredFlip(ctx, env.Driver, spec, c.ID, opts)
	})
}

// counter resolves a scenario counter against the catalog.
func (env *Env) counter(c *Counter) (verify.Counter, error) {
	if c == nil {
		return verify.Counter{}, errors.New("create check without counter")
	}
	spec, ok := env.Catalog.Get(c.Resource)
	if !ok {
		return verify.Counter{}, fmt.Errorf("counter: unknown resource %q", c.Resource)
	}
	out := verify.Counter{Resource: spec, IDField: c.IDField, Column: c.Column}
	if len(c.Where) > 0 {
		preds := make([]predicate.Predicate, 0, len(c.Where))
		for _, field := range slices.Sorted(maps.Keys(c.Where)) {
			preds = append(preds, predicate.Equals{Field: field, Value: c.Where[field]})
		}
		out.Where = predicate.All(preds...)
	}
	return out, nil
}

func (env *Env) runID() string {
	if env.RunID != "" {
		return env.RunID
	}
	if env.RunIDs != nil {
		return env.RunIDs.Generate()
	}
	return UUIDv7Generator{}.Generate()
}

func (env *Env) logger() *slog.Logger {
	if env.Logger != nil {
		return env.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

