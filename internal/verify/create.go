package verify

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"strings"

	"github.com/roach88/listproof/internal/api"
	"github.com/roach88/listproof/internal/oracle"
	"github.com/roach88/listproof/internal/predicate"
	"github.com/roach88/listproof/internal/resource"
)

// RandToken is replaced by a random number in string payload values so
// repeated creations do not collide on unique columns.
const RandToken = "{{rand}}"

// Counter names a stored counter a creation must increment: Column of the
// Resource row whose key is the payload's IDField. When the payload has no
// IDField, a row matching Where is picked.
type Counter struct {
	Resource resource.Spec
	IDField  string
	Column   string
	Where    predicate.Predicate
}

// VerifyCreation POSTs payload to spec's endpoint, expects the created
// record back, reconciles it and checks that the counter grew by exactly
// one. Both resources' snapshots are invalidated.
func (v *Verifier) VerifyCreation(ctx context.Context, spec resource.Spec, payload map[string]any, counter Counter) error {
	const op = "create"
	v.logger.Info("check", "check", op, "resource", spec.Name, "counter", counter.Resource.Name)

	body := v.expand(payload)
	ref, ok := body[counter.IDField]
	if !ok {
		keys, err := v.oracle.Matching(ctx, counter.Resource, counter.Where)
		if err != nil {
			return Fatal(spec.Name, op, err)
		}
		if len(keys) == 0 {
			return v.skip(spec, op, "no %s row matches %s", counter.Resource.Name, predicate.Describe(counter.Where))
		}
		key := keys[v.rng.IntN(len(keys))]
		ref = key
		if n, err := strconv.ParseInt(key, 10, 64); err == nil {
			ref = n
		}
		body[counter.IDField] = ref
	}
	refID, ok := oracle.Key(ref)
	if !ok {
		return Unsupported(spec.Name, op, "payload %s=%v is not a key", counter.IDField, ref)
	}

	before, err := v.counterValue(ctx, spec, op, counter, refID)
	if err != nil {
		return err
	}

	resp, err := v.surface.Create(ctx, spec.Endpoint, body)
	if err != nil {
		return wrap(spec.Name, op, err)
	}
	v.Invalidate(spec.Name, counter.Resource.Name)
	if resp.Status != http.StatusOK && resp.Status != http.StatusCreated {
		return Defect(spec.Name, op, "", "creation status: "+api.Snippet(resp.Body), http.StatusCreated, resp.Status)
	}
	rec, err := api.DecodeRecord(resp.Body)
	if err != nil {
		return Fatal(spec.Name, op, &api.DecodeError{URL: resp.URL, Err: err})
	}
	id, ok := recordID(spec, rec)
	if !ok {
		return Defect(spec.Name, op, "", fmt.Sprintf("created record has no %q", spec.ListKey), spec.ListKey, rec.Keys())
	}
	v.logger.Debug("created", "resource", spec.Name, "id", id)

	after, err := v.counterValue(ctx, spec, op, counter, refID)
	if err != nil {
		return err
	}
	if after != before+1 {
		return Defect(counter.Resource.Name, op, refID, counter.Column+" after creation", before+1, after)
	}
	return v.VerifyRecord(ctx, spec, rec)
}

func (v *Verifier) counterValue(ctx context.Context, spec resource.Spec, op string, c Counter, id string) (int64, error) {
	row, err := v.oracle.RecordWhere(ctx, c.Resource, id, nil)
	if err != nil {
		return 0, Fatal(spec.Name, op, err)
	}
	n, ok := oracle.Int(row[c.Column])
	if !ok {
		return 0, Fatal(spec.Name, op, fmt.Errorf("%s.%s=%v is not an integer", c.Resource.Table, c.Column, row[c.Column]))
	}
	return n, nil
}

// expand copies payload, substituting RandToken in string values.
func (v *Verifier) expand(payload map[string]any) map[string]any {
	out := maps.Clone(payload)
	if out == nil {
		out = map[string]any{}
	}
	for k, val := range out {
		if s, ok := val.(string); ok && strings.Contains(s, RandToken) {
			out[k] = strings.ReplaceAll(s, RandToken, strconv.Itoa(10_000_000+v.rng.IntN(90_000_000)))
		}
	}
	return out
}
