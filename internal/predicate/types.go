package predicate

import (
	"fmt"
	"sort"
	"strings"
)

// Predicate represents a filter condition over one backing table.
//
// This is a sealed interface - only types in this package implement it.
// The marker method prevents external implementations and keeps the type
// switches in the SQL compiler exhaustive.
type Predicate interface {
	predicateNode()
}

// Equals matches rows whose field equals Value.
//
// Value is passed to the driver as a bound parameter; it is never
// interpolated into SQL text.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// Contains matches rows whose field contains Value as a case-sensitive
// substring.
type Contains struct {
	Field string
	Value string
}

func (Contains) predicateNode() {}

// Greater matches rows whose field is strictly greater than Value.
type Greater struct {
	Field string
	Value any
}

func (Greater) predicateNode() {}

// And requires all predicates to hold. An empty And matches every row.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// All joins predicates with And, dropping nils and flattening nested Ands.
// It returns nil when nothing remains and the single predicate when only
// one does.
func All(preds ...Predicate) Predicate {
	var flat []Predicate
	for _, p := range preds {
		switch v := p.(type) {
		case nil:
			continue
		case And:
			if a := All(v.Predicates...); a != nil {
				flat = append(flat, flatten(a)...)
			}
		case *And:
			if v == nil {
				continue
			}
			if a := All(v.Predicates...); a != nil {
				flat = append(flat, flatten(a)...)
			}
		default:
			flat = append(flat, p)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return And{Predicates: flat}
}

func flatten(p Predicate) []Predicate {
	if a, ok := p.(And); ok {
		return a.Predicates
	}
	return []Predicate{p}
}

// Fields returns the sorted, de-duplicated set of fields p references.
func Fields(p Predicate) []string {
	seen := make(map[string]struct{})
	collect(p, seen)
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func collect(p Predicate, seen map[string]struct{}) {
	switch v := p.(type) {
	case Equals:
		seen[v.Field] = struct{}{}
	case *Equals:
		seen[v.Field] = struct{}{}
	case Contains:
		seen[v.Field] = struct{}{}
	case *Contains:
		seen[v.Field] = struct{}{}
	case Greater:
		seen[v.Field] = struct{}{}
	case *Greater:
		seen[v.Field] = struct{}{}
	case And:
		for _, c := range v.Predicates {
			collect(c, seen)
		}
	case *And:
		for _, c := range v.Predicates {
			collect(c, seen)
		}
	}
}

// Describe renders p in a compact, SQL-like form for logs and failure
// messages. It is not valid SQL.
func Describe(p Predicate) string {
	switch v := p.(type) {
	case nil:
		return "true"
	case Equals:
		return fmt.Sprintf("%s = %s", v.Field, literal(v.Value))
	case *Equals:
		return Describe(*v)
	case Contains:
		return fmt.Sprintf("%s contains %q", v.Field, v.Value)
	case *Contains:
		return Describe(*v)
	case Greater:
		return fmt.Sprintf("%s > %s", v.Field, literal(v.Value))
	case *Greater:
		return Describe(*v)
	case And:
		if len(v.Predicates) == 0 {
			return "true"
		}
		parts := make([]string, len(v.Predicates))
		for i, c := range v.Predicates {
			parts[i] = Describe(c)
		}
		return strings.Join(parts, " AND ")
	case *And:
		return Describe(*v)
	default:
		return fmt.Sprintf("<unknown predicate %T>", p)
	}
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return fmt.Sprintf("%q", x)
	case []byte:
		return fmt.Sprintf("%q", string(x))
	default:
		return fmt.Sprint(x)
	}
}
