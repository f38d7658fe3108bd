package resource

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// ContainsSuffix marks a filter parameter as a substring filter when its
// rule does not say otherwise.
const ContainsSuffix = "__contains"

// Defaults applied by Normalize.
const (
	DefaultPrimaryKey      = "id"
	DefaultTimestampLayout = "2006-01-02T15:04:05.000000-07:00"
	DefaultTimestampOffset = 8 * time.Hour
)

// FieldKind selects how a surface attribute is compared with the store.
type FieldKind string

const (
	// KindEqual compares the attribute with the same-named column.
	KindEqual FieldKind = "equal"
	// KindRelated compares an ordered list with the rows of a join table.
	KindRelated FieldKind = "related"
	// KindTimestamp formats the backing UTC time and compares strings.
	KindTimestamp FieldKind = "timestamp"
	// KindColumn compares the attribute with a differently named column.
	KindColumn FieldKind = "column"
	// KindIgnore skips the attribute.
	KindIgnore FieldKind = "ignore"
)

// Relation names the join table a related attribute is read from:
//
//	SELECT <value> FROM <table> WHERE <owner> = ? ORDER BY <order>
type Relation struct {
	Table string `yaml:"table" json:"table"`
	Owner string `yaml:"owner" json:"owner"`
	Value string `yaml:"value" json:"value"`
	Order string `yaml:"order,omitempty" json:"order,omitempty"`
}

// FieldRule is one entry of a resource's coercion table.
type FieldRule struct {
	Kind     FieldKind `yaml:"kind" json:"kind"`
	Column   string    `yaml:"column,omitempty" json:"column,omitempty"`
	Relation *Relation `yaml:"relation,omitempty" json:"relation,omitempty"`
	Layout   string    `yaml:"layout,omitempty" json:"layout,omitempty"`
	Offset   string    `yaml:"offset,omitempty" json:"offset,omitempty"`
}

// OffsetDuration returns the timestamp shift. Normalize guarantees Offset
// parses for timestamp rules.
func (r FieldRule) OffsetDuration() time.Duration {
	if r.Offset == "" {
		return DefaultTimestampOffset
	}
	d, err := time.ParseDuration(r.Offset)
	if err != nil {
		return DefaultTimestampOffset
	}
	return d
}

// FormatTime renders a stored instant the way the surface shows it: shifted
// into a fixed zone of OffsetDuration and formatted with Layout.
func (r FieldRule) FormatTime(t time.Time) string {
	layout := r.Layout
	if layout == "" {
		layout = DefaultTimestampLayout
	}
	zone := time.FixedZone("", int(r.OffsetDuration()/time.Second))
	return t.In(zone).Format(layout)
}

// FilterRule maps a listing filter parameter to a backing field.
type FilterRule struct {
	Field string
	// Exact is false for case-sensitive substring filters.
	Exact bool
}

// StatusSpec names the columns of a status-bearing resource. A zero
// StatusSpec means the resource cannot be flipped.
type StatusSpec struct {
	Field      string `yaml:"field" json:"field"`
	RefCount   string `yaml:"ref_count" json:"ref_count"`
	ModifyUser string `yaml:"modify_user" json:"modify_user"`
	ModifyTime string `yaml:"modify_time" json:"modify_time"`
}

// Spec describes one listable resource: where it lives on the surface,
// where its ground truth lives in the store, and how the two correspond.
//
// A Spec is immutable after loading; the accessors return copies.
type Spec struct {
	Name        string
	Endpoint    string
	Table       string
	DisplayName string

	// PrimaryKey is the backing column the oracle keys snapshots on.
	PrimaryKey string
	// ListKey is the identity attribute of listing records. It differs
	// from PrimaryKey for join-table resources (factor vs factor_id).
	ListKey string
	// Existence marks a join-table resource whose detail check is only
	// "exactly one backing key matches".
	Existence bool

	Filters       map[string]FilterRule
	Attributes    []string
	Renames       map[string]string
	Extra         []string
	Fields        map[string]FieldRule
	OrderExcludes []string
	Status        *StatusSpec

	// Paginate controls whether the reference twin wraps listings in an
	// envelope. Verifiers ignore it and detect pagination from responses;
	// validate only lints against it.
	Paginate bool
	// Ordering is the twin's default listing order ("-modify_time").
	Ordering string
}

// Clone returns a deep copy of s.
func (s Spec) Clone() Spec {
	out := s
	out.Filters = maps.Clone(s.Filters)
	out.Attributes = slices.Clone(s.Attributes)
	out.Renames = maps.Clone(s.Renames)
	out.Extra = slices.Clone(s.Extra)
	out.OrderExcludes = slices.Clone(s.OrderExcludes)
	if s.Fields != nil {
		out.Fields = make(map[string]FieldRule, len(s.Fields))
		for k, v := range s.Fields {
			if v.Relation != nil {
				rel := *v.Relation
				v.Relation = &rel
			}
			out.Fields[k] = v
		}
	}
	if s.Status != nil {
		st := *s.Status
		out.Status = &st
	}
	return out
}

// Filter returns the rule for param.
func (s Spec) Filter(param string) (FilterRule, bool) {
	r, ok := s.Filters[param]
	return r, ok
}

// FilterParams returns the supported filter parameters, sorted.
func (s Spec) FilterParams() []string {
	return slices.Sorted(maps.Keys(s.Filters))
}

// Field returns the coercion rule for attr. Attributes without an entry
// compare by equality with the same-named column.
func (s Spec) Field(attr string) FieldRule {
	if r, ok := s.Fields[attr]; ok {
		return r
	}
	return FieldRule{Kind: KindEqual, Column: attr}
}

// Column returns the backing column attr is read from.
func (s Spec) Column(attr string) string {
	r := s.Field(attr)
	if r.Column != "" {
		return r.Column
	}
	return attr
}

// OrderFields returns Attributes minus OrderExcludes.
func (s Spec) OrderFields() []string {
	var out []string
	for _, a := range s.Attributes {
		if !slices.Contains(s.OrderExcludes, a) {
			out = append(out, a)
		}
	}
	return out
}

// Flippable reports whether s carries status columns.
func (s Spec) Flippable() bool {
	return s.Status != nil && s.Status.Field != ""
}

// DeriveAttributes builds the attribute list from backing columns: renamed
// columns take their surface name, then Extra is appended.
func (s Spec) DeriveAttributes(columns []string) []string {
	out := make([]string, 0, len(columns)+len(s.Extra))
	for _, c := range columns {
		if attr, ok := s.Renames[c]; ok {
			out = append(out, attr)
			continue
		}
		out = append(out, c)
	}
	for _, e := range s.Extra {
		if !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out
}

// WithAttributes returns a copy of s with Attributes replaced.
func (s Spec) WithAttributes(attrs []string) Spec {
	out := s.Clone()
	out.Attributes = slices.Clone(attrs)
	return out
}

// BaseTable strips a version segment from a table name:
// "zhima_score_v20180408_cld" → ("zhima_score", "20180408", "cld").
// Names without a version are returned unchanged.
func BaseTable(name string) (base, version, suffix string) {
	parts := strings.Split(name, "_")
	for i := len(parts) - 1; i > 0; i-- {
		p := parts[i]
		if len(p) == 9 && p[0] == 'v' && isDigits(p[1:]) {
			return strings.Join(parts[:i], "_"), p[1:], strings.Join(parts[i+1:], "_")
		}
	}
	return name, "", ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s Spec) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.Table)
}
