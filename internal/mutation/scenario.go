package mutation

import (
	"context"
	"net/http"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/auth"
	"github.com/roach88/listproof/internal/predicate"
	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/verify"
)

// FlipStatus flips an unreferenced record twice: as the default principal
// with PATCH, then back as alternate (the default principal when nil) with
// PUT. When no record is unreferenced one is primed to ref_count 0. The
// record's state is restored afterwards.
func (v *Verifier) FlipStatus(ctx context.Context, spec resource.Spec, alternate *auth.Provider) error {
	const op = "flip-status"
	if !spec.Flippable() {
		return verify.Unsupported(spec.Name, op, "resource has no status")
	}
	id, primed, err := v.pick(ctx, spec, op, predicate.Equals{Field: spec.Status.RefCount, Value: 0})
	if err != nil {
		return err
	}
	return v.WithRestore(ctx, spec, id, func() error {
		if primed {
			if err := v.Prime(ctx, spec, id, 0); err != nil {
				return err
			}
		}
		rec, err := v.fetch(ctx, spec, op, id)
		if err != nil {
			return err
		}
		if err := v.Flip(ctx, spec, rec, FlipOptions{Method: http.MethodPatch}); err != nil {
			return err
		}
		if rec, err = v.fetch(ctx, spec, op, id); err != nil {
			return err
		}
		return v.Flip(ctx, spec, rec, FlipOptions{Actor: alternate, Method: http.MethodPut})
	})
}

// Guard checks the reference-count guard on an enabled, referenced record,
// priming one when none exists. With the reference then released the same
// PATCH must be accepted. The record's state is restored afterwards.
func (v *Verifier) Guard(ctx context.Context, spec resource.Spec) error {
	const op = "guard"
	if !spec.Flippable() {
		return verify.Unsupported(spec.Name, op, "resource has no status")
	}
	st := spec.Status
	guarded := predicate.All(
		predicate.Equals{Field: st.Field, Value: v.codes.Code(Enabled)},
		predicate.Greater{Field: st.RefCount, Value: 0},
	)
	id, primed, err := v.pick(ctx, spec, op, guarded)
	if err != nil {
		return err
	}
	return v.WithRestore(ctx, spec, id, func() error {
		if primed {
			if err := v.primeStatus(ctx, spec, id, Enabled); err != nil {
				return err
			}
			if err := v.Prime(ctx, spec, id, 1); err != nil {
				return err
			}
		}
		rec, err := v.fetch(ctx, spec, op, id)
		if err != nil {
			return err
		}
		if err := v.VerifyGuard(ctx, spec, rec); err != nil {
			return err
		}

		if err := v.Prime(ctx, spec, id, 0); err != nil {
			return err
		}
		if rec, err = v.fetch(ctx, spec, op, id); err != nil {
			return err
		}
		return v.Flip(ctx, spec, rec, FlipOptions{Method: http.MethodPatch})
	})
}

// pick returns a random record matching pred, or a random record to be
// primed when none does.
func (v *Verifier) pick(ctx context.Context, spec resource.Spec, op string, pred predicate.Predicate) (string, bool, error) {
	keys, err := v.checks.Oracle().Matching(ctx, spec, pred)
	if err != nil {
		return "", false, verify.Fatal(spec.Name, op, err)
	}
	if len(keys) > 0 {
		return keys[v.checks.Rand().IntN(len(keys))], false, nil
	}
	snap, err := v.checks.Snapshot(ctx, spec)
	if err != nil {
		return "", false, err
	}
	if snap.Count == 0 {
		v.logger.Warn("no records to mutate", "resource", spec.Name, "check", op)
		return "", false, verify.Skip(spec.Name, op, "table is empty")
	}
	all := snap.Sorted()
	id := all[v.checks.Rand().IntN(len(all))]
	v.logger.Info("no record matches, priming one", "resource", spec.Name, "check", op, "filter", predicate.Describe(pred), "id", id)
	return id, true, nil
}

// fetch reads one record from the detail endpoint.
func (v *Verifier) fetch(ctx context.Context, spec resource.Spec, op, id string) (api.Record, error) {
	resp, err := v.surface.Detail(ctx, spec.Endpoint, id)
	if err != nil {
		return nil, verify.Fatal(spec.Name, op, err)
	}
	if resp.Status != http.StatusOK {
		return nil, verify.Defect(spec.Name, op, id, "detail status: "+api.Snippet(resp.Body), http.StatusOK, resp.Status)
	}
	rec, err := api.DecodeRecord(resp.Body)
	if err != nil {
		return nil, verify.Fatal(spec.Name, op, &api.DecodeError{URL: resp.URL, Err: err})
	}
	return rec, nil
}
