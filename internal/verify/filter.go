package verify

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/roach88/listproof/internal/oracle"
	"github.com/roach88/listproof/internal/predicate"
	"github.com/roach88/listproof/internal/resource"
)

// VerifyFilter checks that filtering the listing by param returns exactly
// the rows the equivalent store predicate selects. A nil value is sampled
// from the backing field's distinct values. Contains filters are also
// probed with the value shortened by one character at either end.
//
// Trials whose predicate matches no rows are skipped; when every trial is
// vacuous the check returns a Skip.
func (v *Verifier) VerifyFilter(ctx context.Context, spec resource.Spec, param string, value any) error {
	const op = "filter"
	v.logger.Info("check", "check", op, "resource", spec.Name, "param", param)

	rule, ok := spec.Filter(param)
	if !ok {
		return Unsupported(spec.Name, op, "unsupported filter %q (supported: %v)", param, spec.FilterParams())
	}
	snap, err := v.Snapshot(ctx, spec)
	if err != nil {
		return err
	}
	pageable, err := v.Pageable(ctx, spec)
	if err != nil {
		return err
	}

	if value == nil {
		value, err = v.sampleValue(ctx, spec, rule.Field)
		if err != nil {
			return err
		}
		if value == nil {
			return v.skip(spec, op, "%s has no non-null values", rule.Field)
		}
	}

	trials := filterTrials(rule, value)
	vacuous := 0
	for _, t := range trials {
		pred := filterPredicate(rule, t)
		matching, err := v.oracle.Matching(ctx, spec, pred)
		if err != nil {
			return Fatal(spec.Name, op, err)
		}
		if len(matching) == 0 {
			vacuous++
			v.logger.Warn("no matching rows", "resource", spec.Name, "filter", predicate.Describe(pred))
			continue
		}
		if err := v.filterTrial(ctx, spec, op, param, t, pred, matching, snap, pageable); err != nil {
			return err
		}
	}
	if vacuous == len(trials) {
		return v.skip(spec, op, "no rows match %s=%v", param, value)
	}
	return nil
}

func (v *Verifier) filterTrial(ctx context.Context, spec resource.Spec, op, param string, value any,
	pred predicate.Predicate, matching []string, snap oracle.Snapshot, pageable bool) error {
	params := url.Values{param: {paramString(value)}}
	if pageable && snap.Count > 0 {
		params.Set("page_size", strconv.Itoa(snap.Count))
	}
	page, err := v.list(ctx, spec, op, params)
	if err != nil {
		return err
	}
	if err := v.observe(spec, op, page); err != nil {
		return err
	}

	desc := predicate.Describe(pred)
	if pageable && page.Count != len(page.Results) {
		return Defect(spec.Name, op, "", fmt.Sprintf("%s: count differs from results", desc), page.Count, len(page.Results))
	}
	if len(page.Results) != len(matching) {
		return Defect(spec.Name, op, "", fmt.Sprintf("%s: result size", desc), len(matching), len(page.Results))
	}

	want := oracle.NewSnapshot(matching)
	var extra []string
	for _, rec := range page.Results {
		id, ok := recordID(spec, rec)
		if !ok {
			return Defect(spec.Name, op, "", fmt.Sprintf("listed record has no usable %q", spec.ListKey), spec.ListKey, rec.Keys())
		}
		if !want.Has(id) {
			extra = append(extra, id)
		}
	}
	if len(extra) > 0 {
		return Defect(spec.Name, op, "", fmt.Sprintf("%s: ids outside the store predicate", desc), want.Sorted(), extra)
	}
	return v.VerifyRecord(ctx, spec, v.sample(page.Results), pred)
}

// sampleValue picks a random non-null distinct value of field.
func (v *Verifier) sampleValue(ctx context.Context, spec resource.Spec, field string) (any, error) {
	vals, err := v.oracle.DistinctValues(ctx, spec, field)
	if err != nil {
		return nil, Fatal(spec.Name, "filter", err)
	}
	candidates := vals[:0:0]
	for _, val := range vals {
		if val != nil {
			candidates = append(candidates, val)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return candidates[v.rng.IntN(len(candidates))], nil
}

// filterTrials returns the values one filter check tries. Contains
// filters on text also try the value truncated by one character at
// either end.
func filterTrials(rule resource.FilterRule, value any) []any {
	if rule.Exact {
		return []any{value}
	}
	s := paramString(value)
	switch value.(type) {
	case string, []byte:
	default:
		return []any{s}
	}
	runes := []rune(s)
	if len(runes) <= 1 {
		return []any{s}
	}
	return []any{s, string(runes[1:]), string(runes[:len(runes)-1])}
}

func filterPredicate(rule resource.FilterRule, value any) predicate.Predicate {
	if rule.Exact {
		return predicate.Equals{Field: rule.Field, Value: value}
	}
	return predicate.Contains{Field: rule.Field, Value: paramString(value)}
}
