package mutation

import (
	"context"

	"github.com/roach88/listproof/internal/predicate"
	"github.com/roach88/listproof/internal/querysql"
	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/verify"
)

// WithRestore captures the stored status and ref_count of id, runs fn and
// writes the captured values back whatever fn returned. A capture or
// restore failure is fatal; when fn already failed its error wins and the
// restore failure is logged.
func (v *Verifier) WithRestore(ctx context.Context, spec resource.Spec, id string, fn func() error) (err error) {
	if !spec.Flippable() {
		return verify.Unsupported(spec.Name, "restore", "resource has no status")
	}
	saved, serr := v.State(ctx, spec, id)
	if serr != nil {
		return verify.Fatal(spec.Name, "capture", serr)
	}
	v.logger.Debug("captured state", "resource", spec.Name, "id", id, "status", saved.Status, "ref_count", saved.RefCount)

	defer func() {
		set := []querysql.Assignment{{Column: spec.Status.RefCount, Value: saved.RefCount}}
		if saved.Status != Unknown {
			set = append(set, querysql.Assignment{Column: spec.Status.Field, Value: v.codes.Code(saved.Status)})
		}
		rerr := v.write(ctx, spec, id, set...)
		if rerr == nil {
			return
		}
		if err != nil {
			v.logger.Error("restore failed", "resource", spec.Name, "id", id, "error", rerr)
			return
		}
		err = verify.Fatal(spec.Name, "restore", rerr)
	}()
	return fn()
}

// Prime forces the stored ref_count of id. It is fixture setup: a failure
// is fatal, not a defect.
func (v *Verifier) Prime(ctx context.Context, spec resource.Spec, id string, refCount int64) error {
	if !spec.Flippable() {
		return verify.Unsupported(spec.Name, "prime", "resource has no status")
	}
	v.logger.Info("priming", "resource", spec.Name, "id", id, "ref_count", refCount)
	if err := v.write(ctx, spec, id, querysql.Assignment{Column: spec.Status.RefCount, Value: refCount}); err != nil {
		return verify.Fatal(spec.Name, "prime", err)
	}
	return nil
}

// primeStatus forces the stored status of id.
func (v *Verifier) primeStatus(ctx context.Context, spec resource.Spec, id string, s Status) error {
	v.logger.Info("priming", "resource", spec.Name, "id", id, "status", s)
	if err := v.write(ctx, spec, id, querysql.Assignment{Column: spec.Status.Field, Value: v.codes.Code(s)}); err != nil {
		return verify.Fatal(spec.Name, "prime", err)
	}
	return nil
}

// write updates one stored row and drops the resource's snapshot.
func (v *Verifier) write(ctx context.Context, spec resource.Spec, id string, set ...querysql.Assignment) error {
	query, args, err := v.store.Compiler().Update(querysql.Update{
		Table:  spec.Table,
		Set:    set,
		Filter: predicate.Equals{Field: spec.PrimaryKey, Value: id},
	})
	if err != nil {
		return err
	}
	// MySQL reports unchanged rows as unaffected, so the count is not checked.
	_, err = v.store.Exec(ctx, query, args...)
	v.checks.Invalidate(spec.Name)
	return err
}
