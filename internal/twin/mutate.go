package twin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-chi/chi/v5"

	"github.com/roach88/listproof/internal/predicate"
	"github.com/roach88/listproof/internal/querysql"
	"github.com/roach88/listproof/internal/resource"
)

func decodeBody(r *http.Request) (map[string]any, error) {
	var body map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

// handleUpdate applies a status change. The reference-count guard rejects
// disabling an enabled row that is still referenced.
func (s *Server) handleUpdate(spec resource.Spec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !spec.Flippable() {
			writeDetail(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method %q not allowed.", r.Method))
			return
		}
		body, err := decodeBody(r)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "JSON parse error - "+err.Error())
			return
		}
		st := spec.Status
		raw, ok := body[st.Field]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string][]string{st.Field: {"This field is required."}})
			return
		}
		target := fmt.Sprint(raw)
		if target != s.enabled && target != s.disabled {
			writeJSON(w, http.StatusBadRequest, map[string][]string{st.Field: {fmt.Sprintf("%q is not a valid choice.", target)}})
			return
		}

		ctx := r.Context()
		id := chi.URLParam(r, "id")

		s.mu.Lock()
		defer s.mu.Unlock()

		row, err := s.row(ctx, spec, id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if row == nil {
			writeDetail(w, http.StatusNotFound, s.notFound)
			return
		}

		refs, _ := toInt(row[st.RefCount])
		if fmt.Sprint(row[st.Field]) == s.enabled && target == s.disabled && refs > 0 {
			s.logger.Info("guard rejected update", "resource", spec.Name, "id", id, "ref_count", refs)
			writeDetail(w, http.StatusInternalServerError, s.guard)
			return
		}

		now := s.nextTime(row[st.ModifyTime])
		query, args, err := s.db.Compiler().Update(querysql.Update{
			Table: spec.Table,
			Set: []querysql.Assignment{
				{Column: st.Field, Value: target},
				{Column: st.ModifyUser, Value: principal(ctx)},
				{Column: st.ModifyTime, Value: now},
			},
			Filter: predicate.Equals{Field: spec.PrimaryKey, Value: id},
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if _, err := s.db.Exec(ctx, query, args...); err != nil {
			s.fail(w, r, err)
			return
		}
		s.respondRow(w, r, spec, id, http.StatusOK)
	}
}

// nextTime returns the current time, moved past prev so that modification
// times strictly increase.
func (s *Server) nextTime(prev any) time.Time {
	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	var last time.Time
	switch x := prev.(type) {
	case time.Time:
		last = x
	case string:
		last, _ = dateparse.ParseIn(x, time.UTC)
	}
	if !now.After(last) {
		now = last.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}

// handleCreate inserts a row from the writable attributes of the body and
// bumps registered counters.
func (s *Server) handleCreate(spec resource.Spec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := decodeBody(r)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "JSON parse error - "+err.Error())
			return
		}
		ctx := r.Context()

		s.mu.Lock()
		defer s.mu.Unlock()

		cols, err := s.db.Columns(ctx, spec.Table)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		values := map[string]any{}
		for attr, v := range body {
			rule := spec.Field(attr)
			col := spec.Column(attr)
			if rule.Kind == resource.KindRelated || col == spec.PrimaryKey || !slices.Contains(cols, col) {
				continue
			}
			values[col] = plain(v)
		}
		userCol, timeCol := "modify_user", "modify_time"
		if st := spec.Status; st != nil {
			userCol, timeCol = st.ModifyUser, st.ModifyTime
		}
		if slices.Contains(cols, userCol) {
			values[userCol] = principal(ctx)
		}
		if slices.Contains(cols, timeCol) {
			values[timeCol] = s.nextTime(nil)
		}
		if len(values) == 0 {
			writeDetail(w, http.StatusBadRequest, "No writable fields.")
			return
		}

		ins := querysql.Insert{Table: spec.Table}
		for _, c := range cols {
			if v, ok := values[c]; ok {
				ins.Columns = append(ins.Columns, c)
				ins.Values = append(ins.Values, v)
			}
		}
		query, args, err := s.db.Compiler().Insert(ins)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if _, err := s.db.Exec(ctx, query, args...); err != nil {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}

		id, err := s.lastKey(ctx, spec)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		for _, c := range s.counters {
			if c.Resource != spec.Name {
				continue
			}
			if err := s.bump(ctx, c, values[spec.Column(c.Field)]); err != nil {
				s.fail(w, r, err)
				return
			}
		}
		s.respondRow(w, r, spec, id, http.StatusCreated)
	}
}

func (s *Server) lastKey(ctx context.Context, spec resource.Spec) (string, error) {
	query, args, err := s.db.Compiler().Select(querysql.Select{
		From:    spec.Table,
		Columns: []string{"MAX(" + spec.PrimaryKey + ")"},
	})
	if err != nil {
		return "", err
	}
	vals, err := s.db.QueryColumn(ctx, query, args...)
	if err != nil {
		return "", err
	}
	if len(vals) != 1 || vals[0] == nil {
		return "", fmt.Errorf("%s: no key after insert", spec.Table)
	}
	return fmt.Sprint(vals[0]), nil
}

// bump increments a counter column of the row ref points to.
func (s *Server) bump(ctx context.Context, c Counter, ref any) error {
	if ref == nil {
		return nil
	}
	if !querysql.ValidIdentifier(c.Table) || !querysql.ValidIdentifier(c.Column) {
		return fmt.Errorf("counter %s.%s: invalid identifier", c.Table, c.Column)
	}
	where, args, err := s.db.Compiler().Where(predicate.Equals{Field: "id", Value: ref})
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET %s = %s + 1 WHERE %s", c.Table, c.Column, c.Column, where)
	_, err = s.db.Exec(ctx, query, args...)
	return err
}

func (s *Server) respondRow(w http.ResponseWriter, r *http.Request, spec resource.Spec, id string, status int) {
	row, err := s.row(r.Context(), spec, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if row == nil {
		writeDetail(w, http.StatusNotFound, s.notFound)
		return
	}
	it, err := s.render(r.Context(), spec, row)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, it)
}

// plain converts decoded JSON values to driver arguments.
func plain(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any, []any:
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(x)
		return string(bytes.TrimSpace(buf.Bytes()))
	}
	return v
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), x == float64(int64(x))
	case string:
		var n int64
		_, err := fmt.Sscan(x, &n)
		return n, err == nil
	}
	return 0, false
}
