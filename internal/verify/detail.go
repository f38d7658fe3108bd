package verify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/oracle"
	"github.com/roach88/listproof/internal/predicate"
	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/store"
)

// probeSpread bounds how far outside the key range not-found probes land.
const probeSpread = 9998

// VerifyRecord reconciles one surface record with its backing row. preds
// narrow the row lookup; a filtered listing passes its filter so join
// tables resolve to the row the listing was derived from.
//
// Existence resources first require exactly one backing key to match.
// Every attribute is then compared through the spec's coercion table; an
// attribute with no backing column is reported as schema drift.
func (v *Verifier) VerifyRecord(ctx context.Context, spec resource.Spec, rec api.Record, preds ...predicate.Predicate) error {
	const op = "record"

	raw, ok := rec[spec.ListKey]
	if !ok {
		return Defect(spec.Name, op, "", fmt.Sprintf("record has no %q", spec.ListKey), spec.ListKey, rec.Keys())
	}
	if _, ok := oracle.Int(raw); !ok {
		return Defect(spec.Name, op, fmt.Sprint(raw), fmt.Sprintf("%q is not numeric", spec.ListKey), "integer", raw)
	}
	id, _ := oracle.Key(raw)

	spec, err := v.resolve(ctx, spec)
	if err != nil {
		return err
	}
	pred := predicate.All(preds...)

	if spec.Existence {
		keys, err := v.oracle.Matching(ctx, spec, predicate.All(predicate.Equals{Field: spec.PrimaryKey, Value: id}, pred))
		if err != nil {
			return Fatal(spec.Name, op, err)
		}
		if len(keys) != 1 {
			return Defect(spec.Name, op, id, "backing rows matching "+predicate.Describe(pred), 1, len(keys))
		}
	}

	row, err := v.oracle.RecordWhere(ctx, spec, id, pred)
	if errors.Is(err, oracle.ErrNoRecord) {
		return &Failure{Class: ClassDefect, Resource: spec.Name, Operation: op, ID: id,
			Message: "surface shows a record the store lacks", Err: err}
	}
	if err != nil {
		return Fatal(spec.Name, op, err)
	}
	return v.reconcile(ctx, spec, op, id, rec, row)
}

func (v *Verifier) reconcile(ctx context.Context, spec resource.Spec, op, id string, rec api.Record, row store.Row) error {
	attrs := rec.Keys()

	var drift []string
	for _, attr := range attrs {
		rule := spec.Field(attr)
		if rule.Kind == resource.KindIgnore || rule.Kind == resource.KindRelated {
			continue
		}
		if _, ok := row[spec.Column(attr)]; !ok {
			drift = append(drift, attr)
		}
	}
	if len(drift) > 0 {
		return &Failure{Class: ClassSchemaDrift, Resource: spec.Name, Operation: op, ID: id,
			Message: "attributes without backing column: " + strings.Join(drift, ", "), Actual: drift}
	}

	expected := map[string]any{}
	actual := map[string]any{}
	for _, attr := range attrs {
		got := rec[attr]
		rule := spec.Field(attr)
		switch rule.Kind {
		case resource.KindIgnore:
			continue
		case resource.KindRelated:
			if rule.Relation == nil {
				return Unsupported(spec.Name, op, "related field %q has no relation", attr)
			}
			want, err := v.oracle.Related(ctx, *rule.Relation, id)
			if err != nil {
				return Fatal(spec.Name, op, err)
			}
			list, ok := got.([]any)
			if !ok || !equalLists(list, want) {
				expected[attr], actual[attr] = want, got
			}
		case resource.KindTimestamp:
			stored := row[spec.Column(attr)]
			if stored == nil {
				if got != nil {
					expected[attr], actual[attr] = nil, got
				}
				continue
			}
			want, ok := formatTimestamp(stored, rule)
			if s, isStr := got.(string); !ok || !isStr || s != want {
				expected[attr], actual[attr] = want, got
			}
		default:
			stored := row[spec.Column(attr)]
			if !equalValues(got, stored) {
				expected[attr], actual[attr] = stored, got
			}
		}
	}
	if len(expected) > 0 {
		names := make([]string, 0, len(expected))
		for _, attr := range attrs {
			if _, ok := expected[attr]; ok {
				names = append(names, attr)
			}
		}
		return Defect(spec.Name, op, id, "fields differ: "+strings.Join(names, ", "), expected, actual)
	}
	return nil
}

// VerifyDetail fetches one item from the detail endpoint and reconciles it.
func (v *Verifier) VerifyDetail(ctx context.Context, spec resource.Spec, id string) error {
	const op = "detail"
	v.logger.Info("check", "check", op, "resource", spec.Name, "id", id)

	rec, err := v.detail(ctx, spec, op, id)
	if err != nil {
		return err
	}
	if got, _ := recordID(spec, rec); got != id {
		return Defect(spec.Name, op, id, "detail returned another record", id, rec[spec.ListKey])
	}
	return v.VerifyRecord(ctx, spec, rec)
}

// VerifySampleDetail runs VerifyDetail on a random stored id.
func (v *Verifier) VerifySampleDetail(ctx context.Context, spec resource.Spec) error {
	snap, err := v.Snapshot(ctx, spec)
	if err != nil {
		return err
	}
	if snap.Count == 0 {
		return v.skip(spec, "detail", "no rows")
	}
	ids := snap.Sorted()
	return v.VerifyDetail(ctx, spec, ids[v.rng.IntN(len(ids))])
}

func (v *Verifier) detail(ctx context.Context, spec resource.Spec, op, id string) (api.Record, error) {
	resp, err := v.surface.Detail(ctx, spec.Endpoint, id)
	if err != nil {
		return nil, wrap(spec.Name, op, err)
	}
	if resp.Status != http.StatusOK {
		return nil, Defect(spec.Name, op, id, "detail status: "+api.Snippet(resp.Body), http.StatusOK, resp.Status)
	}
	rec, err := api.DecodeRecord(resp.Body)
	if err != nil {
		return nil, Fatal(spec.Name, op, &api.DecodeError{URL: resp.URL, Err: err})
	}
	return rec, nil
}

// VerifyNotFound requests one id above the largest and one below the
// smallest stored key and expects 404 with exactly the not-found body.
func (v *Verifier) VerifyNotFound(ctx context.Context, spec resource.Spec) error {
	const op = "not_found"
	v.logger.Info("check", "check", op, "resource", spec.Name)

	lo, hi, ok, err := v.oracle.Bounds(ctx, spec)
	if err != nil {
		return Fatal(spec.Name, op, err)
	}
	if !ok {
		return v.skip(spec, op, "no rows")
	}
	probes := []int64{
		hi + 1 + int64(v.rng.IntN(probeSpread)),
		lo - 1 - int64(v.rng.IntN(probeSpread)),
	}
	for _, p := range probes {
		id := strconv.FormatInt(p, 10)
		resp, err := v.surface.Detail(ctx, spec.Endpoint, id)
		if err != nil {
			return wrap(spec.Name, op, err)
		}
		if resp.Status != http.StatusNotFound {
			return Defect(spec.Name, op, id, "status for an absent id", http.StatusNotFound, resp.Status)
		}
		body, err := api.DecodeRecord(resp.Body)
		msg, _ := body["detail"].(string)
		if err != nil || len(body) != 1 || msg != v.notFound {
			return Defect(spec.Name, op, id, "not-found body",
				map[string]string{"detail": v.notFound}, api.Snippet(resp.Body))
		}
	}
	return nil
}
