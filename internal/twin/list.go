package twin

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-chi/chi/v5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/listproof/internal/predicate"
	"github.com/roach88/listproof/internal/querysql"
	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/store"
)

var lower = cases.Lower(language.Und)

type item map[string]any

type envelope struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []item  `json:"results"`
}

func (s *Server) handleList(spec resource.Spec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		items, err := s.list(r.Context(), spec, q)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !spec.Paginate {
			writeJSON(w, http.StatusOK, items)
			return
		}

		size := s.pageSize
		if n, err := strconv.Atoi(q.Get("page_size")); err == nil && n > 0 {
			size = n
		}
		page := 1
		if raw := q.Get("page"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeDetail(w, http.StatusNotFound, invalidPageMessage)
				return
			}
			page = n
		}
		pages := max(1, (len(items)+size-1)/size)
		if page > pages {
			writeDetail(w, http.StatusNotFound, invalidPageMessage)
			return
		}

		lo := (page - 1) * size
		hi := min(lo+size, len(items))
		env := envelope{Count: len(items), Results: items[lo:hi]}
		if page < pages {
			env.Next = link(r, page+1)
		}
		if page > 1 {
			env.Previous = link(r, page-1)
		}
		writeJSON(w, http.StatusOK, env)
	}
}

// list returns every item matching the request's filters, sorted.
func (s *Server) list(ctx context.Context, spec resource.Spec, q url.Values) ([]item, error) {
	var preds []predicate.Predicate
	for _, param := range spec.FilterParams() {
		if !q.Has(param) {
			continue
		}
		rule, _ := spec.Filter(param)
		if rule.Exact {
			preds = append(preds, predicate.Equals{Field: rule.Field, Value: q.Get(param)})
		} else {
			preds = append(preds, predicate.Contains{Field: rule.Field, Value: q.Get(param)})
		}
	}

	query, args, err := s.db.Compiler().Select(querysql.Select{
		From:    spec.Table,
		Filter:  predicate.All(preds...),
		OrderBy: []querysql.Order{{Column: spec.PrimaryKey}},
	})
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(rows))
	items := make([]item, 0, len(rows))
	for _, row := range rows {
		if spec.Existence {
			k := fmt.Sprint(row[spec.PrimaryKey])
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		it, err := s.render(ctx, spec, row)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}

	ordering := q.Get("ordering")
	if ordering == "" {
		ordering = spec.Ordering
	}
	sortItems(items, spec.ListKey, ordering)
	return items, nil
}

func (s *Server) handleDetail(spec resource.Spec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		row, err := s.row(r.Context(), spec, chi.URLParam(r, "id"))
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
		writeJSON(w, http.StatusOK, it)
	}
}

// row loads the backing row for id, or nil when there is none.
func (s *Server) row(ctx context.Context, spec resource.Spec, id string) (store.Row, error) {
	query, args, err := s.db.Compiler().Select(querysql.Select{
		From:    spec.Table,
		Filter:  predicate.Equals{Field: spec.PrimaryKey, Value: id},
		OrderBy: []querysql.Order{{Column: spec.PrimaryKey}},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// attributes returns the surface attributes of spec, derived from the
// table's columns when the spec lists none.
func (s *Server) attributes(ctx context.Context, spec resource.Spec) ([]string, error) {
	if len(spec.Attributes) > 0 {
		return spec.Attributes, nil
	}
	if v, ok := s.attrs.Load(spec.Name); ok {
		return v.([]string), nil
	}
	cols, err := s.db.Columns(ctx, spec.Table)
	if err != nil {
		return nil, err
	}
	attrs := spec.DeriveAttributes(cols)
	s.attrs.Store(spec.Name, attrs)
	return attrs, nil
}

// render projects a backing row onto the surface representation.
func (s *Server) render(ctx context.Context, spec resource.Spec, row store.Row) (item, error) {
	attrs, err := s.attributes(ctx, spec)
	if err != nil {
		return nil, err
	}
	out := make(item, len(attrs))
	for _, attr := range attrs {
		rule := spec.Field(attr)
		col := spec.Column(attr)
		switch rule.Kind {
		case resource.KindRelated:
			if rule.Relation == nil {
				continue
			}
			vals, err := s.related(ctx, *rule.Relation, row[spec.PrimaryKey])
			if err != nil {
				return nil, err
			}
			out[attr] = vals
		case resource.KindTimestamp:
			out[attr] = timestamp(row[col], rule)
		case resource.KindIgnore:
			if v, ok := row[col]; ok {
				out[attr] = v
			}
		default:
			out[attr] = row[col]
		}
	}
	return out, nil
}

func (s *Server) related(ctx context.Context, rel resource.Relation, owner any) ([]any, error) {
	sel := querysql.Select{
		From:    rel.Table,
		Columns: []string{rel.Value},
		Filter:  predicate.Equals{Field: rel.Owner, Value: owner},
	}
	if rel.Order != "" {
		sel.OrderBy = []querysql.Order{{Column: rel.Order}}
	}
	query, args, err := s.db.Compiler().Select(sel)
	if err != nil {
		return nil, err
	}
	return s.db.QueryColumn(ctx, query, args...)
}

func timestamp(v any, rule resource.FieldRule) any {
	switch x := v.(type) {
	case time.Time:
		return rule.FormatTime(x)
	case string:
		t, err := dateparse.ParseIn(x, time.UTC)
		if err != nil {
			return x
		}
		return rule.FormatTime(t)
	}
	return v
}

// sortItems orders items by the ordering parameter, ascending by key
// otherwise. Unknown ordering fields are ignored.
func sortItems(items []item, key, ordering string) {
	field, desc := strings.CutPrefix(ordering, "-")
	slices.SortStableFunc(items, func(a, b item) int {
		return compareValues(a[key], b[key])
	})
	if field == "" || len(items) == 0 {
		return
	}
	if _, ok := items[0][field]; !ok {
		return
	}
	slices.SortStableFunc(items, func(a, b item) int {
		c := compareValues(a[field], b[field])
		if desc {
			return -c
		}
		return c
	})
}

// compareValues orders nulls first, numbers by value and everything else
// as lower-cased text.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	x, xok := numeric(a)
	y, yok := numeric(b)
	if xok && yok {
		return cmp.Compare(x, y)
	}
	return strings.Compare(lower.String(fmt.Sprint(a)), lower.String(fmt.Sprint(b)))
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// link builds the absolute URL of another page of the same request.
func link(r *http.Request, page int) *string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: q.Encode()}
	s := u.String()
	return &s
}
