package verify

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/resource"
)

// VerifyOrdering checks that the listing sorted by each field is monotonic.
// It samples two random rows of the first page, anchors on the page's last
// row when the listing is paginated, and carries one random row of the
// next page across the boundary. A field prefixed with "-" is checked as
// descending. With no fields, every orderable attribute is checked.
func (v *Verifier) VerifyOrdering(ctx context.Context, spec resource.Spec, fields []string) error {
	const op = "ordering"
	v.logger.Info("check", "check", op, "resource", spec.Name)

	snap, err := v.Snapshot(ctx, spec)
	if err != nil {
		return err
	}
	if snap.Count <= 1 {
		return v.skip(spec, op, "count %d is too small to order", snap.Count)
	}
	spec, err = v.resolve(ctx, spec)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		fields = spec.OrderFields()
	}
	pageable, err := v.Pageable(ctx, spec)
	if err != nil {
		return err
	}

	checked := 0
	for _, field := range fields {
		ok, err := v.orderField(ctx, spec, op, field, snap.Count, pageable)
		if err != nil {
			return err
		}
		if ok {
			checked++
		}
	}
	if checked == 0 {
		return v.skip(spec, op, "no field had enough rows to compare")
	}
	return nil
}

// orderField checks one ordering field. It returns false when the page was
// too small to compare.
func (v *Verifier) orderField(ctx context.Context, spec resource.Spec, op, field string, count int, pageable bool) (bool, error) {
	name, desc := strings.CutPrefix(field, "-")
	params := url.Values{"ordering": {field}}
	if !pageable {
		params.Set("page_size", strconv.Itoa(count))
	}
	page, err := v.list(ctx, spec, op, params)
	if err != nil {
		return false, err
	}
	if err := v.observe(spec, op, page); err != nil {
		return false, err
	}
	n := len(page.Results)
	if n < 2 {
		v.logger.Warn("page too small to order", "resource", spec.Name, "field", field, "rows", n)
		return false, nil
	}

	idx := v.orderIndices(n, pageable)
	vals := make([]any, 0, len(idx)+1)
	for _, i := range idx {
		val, err := orderValue(spec, op, name, page.Results[i])
		if err != nil {
			return false, err
		}
		vals = append(vals, val)
	}
	if pageable && page.Next != nil {
		next, err := v.follow(ctx, spec, op, *page.Next)
		if err != nil {
			return false, err
		}
		if len(next.Results) > 0 {
			val, err := orderValue(spec, op, name, v.sample(next.Results))
			if err != nil {
				return false, err
			}
			vals = append(vals, val)
		}
	}

	keys := normalizeOrder(vals)
	if !monotonic(keys, desc) {
		dir := "non-decreasing"
		if desc {
			dir = "non-increasing"
		}
		return false, Defect(spec.Name, op, "", fmt.Sprintf("ordering=%s is not %s", field, dir), dir, vals)
	}
	v.logger.Debug("ordering sample", "resource", spec.Name, "field", field, "indices", idx, "values", vals)
	return true, nil
}

// orderIndices picks two distinct indices, plus the last index when the
// listing is paginated, in ascending order.
func (v *Verifier) orderIndices(n int, pageable bool) []int {
	i := v.rng.IntN(n)
	j := v.rng.IntN(n - 1)
	if j >= i {
		j++
	}
	idx := []int{i, j}
	if pageable {
		idx = append(idx, n-1)
	}
	slices.Sort(idx)
	return slices.Compact(idx)
}

func orderValue(spec resource.Spec, op, name string, rec api.Record) (any, error) {
	val, ok := rec[name]
	if !ok {
		id, _ := recordID(spec, rec)
		return nil, Defect(spec.Name, op, id, fmt.Sprintf("ordering field %q missing from record", name), name, rec.Keys())
	}
	return val, nil
}
