package querysql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/listproof/internal/predicate"
)

var (
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
	aggRe   = regexp.MustCompile(`^(MIN|MAX|COUNT)\(([A-Za-z_][A-Za-z0-9_.]*|\*)\)$`)
)

// ValidIdentifier reports whether s is safe to splice into SQL as a table
// or column name. Identifiers cannot be parameterized, so every name that
// reaches SQL text passes through this check.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// Select describes a single-table read.
//
//	SELECT [DISTINCT] <columns> FROM <from> [WHERE <filter>] [ORDER BY ...] [LIMIT n]
//
// Columns may be plain identifiers or MIN/MAX/COUNT of one; empty means *.
type Select struct {
	From     string
	Columns  []string
	Distinct bool
	Filter   predicate.Predicate
	OrderBy  []Order
	Limit    int
}

// Order is one ORDER BY key.
type Order struct {
	Column string
	Desc   bool
}

// Update describes UPDATE <table> SET ... WHERE <filter>. A nil filter is
// rejected; fixture writes never touch a whole table.
type Update struct {
	Table  string
	Set    []Assignment
	Filter predicate.Predicate
}

// Assignment is one SET column = value pair.
type Assignment struct {
	Column string
	Value  any
}

// Insert describes a single-row INSERT.
type Insert struct {
	Table   string
	Columns []string
	Values  []any
}

// Compiler compiles statements to parameterized SQL for one dialect.
//
// All values are bound parameters; only validated identifiers are
// interpolated. A Compiler is not safe for concurrent use.
type Compiler struct {
	dialect Dialect
	params  []any
}

// NewCompiler creates a Compiler for d.
func NewCompiler(d Dialect) *Compiler {
	return &Compiler{dialect: d}
}

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() Dialect {
	return c.dialect
}

// Select compiles q. Returns (sql, params, error).
func (c *Compiler) Select(q Select) (string, []any, error) {
	c.params = nil
	if !ValidIdentifier(q.From) {
		return "", nil, fmt.Errorf("invalid table name %q", q.From)
	}

	cols := "*"
	if len(q.Columns) > 0 {
		for _, col := range q.Columns {
			if !ValidIdentifier(col) && !aggRe.MatchString(col) {
				return "", nil, fmt.Errorf("invalid column %q", col)
			}
		}
		cols = strings.Join(q.Columns, ", ")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if q.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(cols)
	b.WriteString(" FROM ")
	b.WriteString(q.From)

	if q.Filter != nil {
		where, err := c.predicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	if len(q.OrderBy) > 0 {
		keys := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			if !ValidIdentifier(o.Column) {
				return "", nil, fmt.Errorf("invalid order column %q", o.Column)
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			keys[i] = o.Column + " " + dir
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(keys, ", "))
	}

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), c.params, nil
}

// Update compiles q.
func (c *Compiler) Update(q Update) (string, []any, error) {
	c.params = nil
	if !ValidIdentifier(q.Table) {
		return "", nil, fmt.Errorf("invalid table name %q", q.Table)
	}
	if len(q.Set) == 0 {
		return "", nil, fmt.Errorf("update of %s sets no columns", q.Table)
	}
	if q.Filter == nil {
		return "", nil, fmt.Errorf("update of %s has no filter", q.Table)
	}

	sets := make([]string, len(q.Set))
	for i, a := range q.Set {
		if !ValidIdentifier(a.Column) {
			return "", nil, fmt.Errorf("invalid column %q", a.Column)
		}
		sets[i] = a.Column + " = " + c.bind(a.Value)
	}
	where, err := c.predicate(q.Filter)
	if err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", q.Table, strings.Join(sets, ", "), where)
	return sql, c.params, nil
}

// Insert compiles q.
func (c *Compiler) Insert(q Insert) (string, []any, error) {
	c.params = nil
	if !ValidIdentifier(q.Table) {
		return "", nil, fmt.Errorf("invalid table name %q", q.Table)
	}
	if len(q.Columns) == 0 || len(q.Columns) != len(q.Values) {
		return "", nil, fmt.Errorf("insert into %s: %d columns for %d values", q.Table, len(q.Columns), len(q.Values))
	}
	phs := make([]string, len(q.Columns))
	for i, col := range q.Columns {
		if !ValidIdentifier(col) {
			return "", nil, fmt.Errorf("invalid column %q", col)
		}
		phs[i] = c.bind(q.Values[i])
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", q.Table, strings.Join(q.Columns, ", "), strings.Join(phs, ", "))
	return sql, c.params, nil
}

// Where compiles a bare predicate, for callers assembling their own SQL.
func (c *Compiler) Where(p predicate.Predicate) (string, []any, error) {
	c.params = nil
	sql, err := c.predicate(p)
	if err != nil {
		return "", nil, err
	}
	return sql, c.params, nil
}

func (c *Compiler) bind(v any) string {
	c.params = append(c.params, v)
	return c.dialect.placeholder(len(c.params))
}

func (c *Compiler) predicate(p predicate.Predicate) (string, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil
	case predicate.Equals:
		return c.equals(pred)
	case *predicate.Equals:
		return c.equals(*pred)
	case predicate.Contains:
		return c.contains(pred)
	case *predicate.Contains:
		return c.contains(*pred)
	case predicate.Greater:
		return c.greater(pred)
	case *predicate.Greater:
		return c.greater(*pred)
	case predicate.And:
		return c.and(pred)
	case *predicate.And:
		return c.and(*pred)
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *Compiler) equals(eq predicate.Equals) (string, error) {
	if !ValidIdentifier(eq.Field) {
		return "", fmt.Errorf("invalid field %q", eq.Field)
	}
	if eq.Value == nil {
		return eq.Field + " IS NULL", nil
	}
	return eq.Field + " = " + c.bind(eq.Value), nil
}

func (c *Compiler) contains(co predicate.Contains) (string, error) {
	if !ValidIdentifier(co.Field) {
		return "", fmt.Errorf("invalid field %q", co.Field)
	}
	return c.dialect.contains(co.Field, c.bind(co.Value)), nil
}

func (c *Compiler) greater(g predicate.Greater) (string, error) {
	if !ValidIdentifier(g.Field) {
		return "", fmt.Errorf("invalid field %q", g.Field)
	}
	if g.Value == nil {
		return "", fmt.Errorf("greater on %s has no value", g.Field)
	}
	return g.Field + " > " + c.bind(g.Value), nil
}

func (c *Compiler) and(and predicate.And) (string, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil
	}
	parts := make([]string, 0, len(and.Predicates))
	for _, p := range and.Predicates {
		sql, err := c.predicate(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	return strings.Join(parts, " AND "), nil
}
