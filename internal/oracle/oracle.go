// Package oracle derives ground truth for listing verification from the
// backing store.
//
// Every query is compiled through internal/querysql, so values are bound
// parameters and only validated identifiers reach SQL text. Query errors
// are returned as *QueryError and are fatal to the calling scenario; the
// oracle never retries or recovers locally.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/listproof/internal/predicate"
	"github.com/roach88/listproof/internal/querysql"
	"github.com/roach88/listproof/internal/resource"
	"github.com/roach88/listproof/internal/store"
)

// ErrNoRecord is returned when a keyed lookup matches no backing row.
var ErrNoRecord = errors.New("record not found in store")

// QueryError wraps a failed store query.
type QueryError struct {
	Op       string
	Resource string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("oracle %s %s: %v", e.Op, e.Resource, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Querier is the slice of the store the oracle reads through.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) ([]store.Row, error)
	QueryRow(ctx context.Context, query string, args ...any) (store.Row, error)
	QueryColumn(ctx context.Context, query string, args ...any) ([]any, error)
	Columns(ctx context.Context, table string) ([]string, error)
	Compiler() *querysql.Compiler
}

// Oracle answers ground-truth questions about resources.
type Oracle struct {
	db     Querier
	logger *slog.Logger
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithLogger sets the oracle's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Oracle) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Oracle reading through db.
func New(db Querier, opts ...Option) *Oracle {
	o := &Oracle{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Snapshot returns the distinct primary keys of spec's table.
func (o *Oracle) Snapshot(ctx context.Context, spec resource.Spec) (Snapshot, error) {
	keys, err := o.keys(ctx, "snapshot", spec, nil)
	if err != nil {
		return Snapshot{}, err
	}
	snap := NewSnapshot(keys)
	o.logger.Debug("snapshot", "resource", spec.Name, "count", snap.Count)
	return snap, nil
}

// Matching returns the distinct primary keys of rows satisfying pred. An
// empty result is valid and is not an error.
func (o *Oracle) Matching(ctx context.Context, spec resource.Spec, pred predicate.Predicate) ([]string, error) {
	keys, err := o.keys(ctx, "matching", spec, pred)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		o.logger.Debug("no matching rows", "resource", spec.Name, "filter", predicate.Describe(pred))
	}
	return keys, nil
}

func (o *Oracle) keys(ctx context.Context, op string, spec resource.Spec, pred predicate.Predicate) ([]string, error) {
	query, args, err := o.db.Compiler().Select(querysql.Select{
		From:     spec.Table,
		Columns:  []string{spec.PrimaryKey},
		Distinct: true,
		Filter:   pred,
	})
	if err != nil {
		return nil, &QueryError{Op: op, Resource: spec.Name, Err: err}
	}
	vals, err := o.db.QueryColumn(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{Op: op, Resource: spec.Name, Err: err}
	}
	keys := make([]string, 0, len(vals))
	for _, v := range vals {
		k, ok := Key(v)
		if !ok {
			return nil, &QueryError{Op: op, Resource: spec.Name, Err: fmt.Errorf("unusable key %v (%T)", v, v)}
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Record returns the backing row whose primary key is id.
func (o *Oracle) Record(ctx context.Context, spec resource.Spec, id string) (store.Row, error) {
	return o.RecordWhere(ctx, spec, id, nil)
}

// RecordWhere returns the backing row whose primary key is id and which
// also satisfies pred. Join tables hold several rows per key; pred picks
// the one a filtered listing was derived from.
func (o *Oracle) RecordWhere(ctx context.Context, spec resource.Spec, id string, pred predicate.Predicate) (store.Row, error) {
	query, args, err := o.db.Compiler().Select(querysql.Select{
		From:   spec.Table,
		Filter: predicate.All(predicate.Equals{Field: spec.PrimaryKey, Value: id}, pred),
		Limit:  1,
	})
	if err != nil {
		return nil, &QueryError{Op: "record", Resource: spec.Name, Err: err}
	}
	rows, err := o.db.Query(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{Op: "record", Resource: spec.Name, Err: err}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %s=%s: %w", spec.Table, spec.PrimaryKey, id, ErrNoRecord)
	}
	return rows[0], nil
}

// DistinctValues returns the distinct values of field in spec's table.
func (o *Oracle) DistinctValues(ctx context.Context, spec resource.Spec, field string) ([]any, error) {
	query, args, err := o.db.Compiler().Select(querysql.Select{
		From:     spec.Table,
		Columns:  []string{field},
		Distinct: true,
	})
	if err != nil {
		return nil, &QueryError{Op: "distinct", Resource: spec.Name, Err: err}
	}
	vals, err := o.db.QueryColumn(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{Op: "distinct", Resource: spec.Name, Err: err}
	}
	return vals, nil
}

// Related returns the ordered values of a relationship attribute for the
// owning row id.
func (o *Oracle) Related(ctx context.Context, rel resource.Relation, id string) ([]any, error) {
	sel := querysql.Select{
		From:    rel.Table,
		Columns: []string{rel.Value},
		Filter:  predicate.Equals{Field: rel.Owner, Value: id},
	}
	if rel.Order != "" {
		sel.OrderBy = []querysql.Order{{Column: rel.Order}}
	}
	query, args, err := o.db.Compiler().Select(sel)
	if err != nil {
		return nil, &QueryError{Op: "related", Resource: rel.Table, Err: err}
	}
	vals, err := o.db.QueryColumn(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{Op: "related", Resource: rel.Table, Err: err}
	}
	return vals, nil
}

// Columns returns the backing column names of spec's table.
func (o *Oracle) Columns(ctx context.Context, spec resource.Spec) ([]string, error) {
	cols, err := o.db.Columns(ctx, spec.Table)
	if err != nil {
		return nil, &QueryError{Op: "columns", Resource: spec.Name, Err: err}
	}
	return cols, nil
}

// Attributes returns spec.Attributes, deriving them from the backing
// columns when the spec does not list any.
func (o *Oracle) Attributes(ctx context.Context, spec resource.Spec) ([]string, error) {
	if len(spec.Attributes) > 0 {
		return spec.Attributes, nil
	}
	cols, err := o.Columns(ctx, spec)
	if err != nil {
		return nil, err
	}
	return spec.DeriveAttributes(cols), nil
}

// Bounds returns the smallest and largest primary key. ok is false for an
// empty table.
func (o *Oracle) Bounds(ctx context.Context, spec resource.Spec) (lo, hi int64, ok bool, err error) {
	minCol, maxCol := "MIN("+spec.PrimaryKey+")", "MAX("+spec.PrimaryKey+")"
	query, args, err := o.db.Compiler().Select(querysql.Select{
		From:    spec.Table,
		Columns: []string{minCol, maxCol},
	})
	if err != nil {
		return 0, 0, false, &QueryError{Op: "bounds", Resource: spec.Name, Err: err}
	}
	row, err := o.db.QueryRow(ctx, query, args...)
	if err != nil {
		return 0, 0, false, &QueryError{Op: "bounds", Resource: spec.Name, Err: err}
	}
	if row[minCol] == nil || row[maxCol] == nil {
		return 0, 0, false, nil
	}
	a, aok := Int(row[minCol])
	b, bok := Int(row[maxCol])
	if !aok || !bok {
		return 0, 0, false, &QueryError{Op: "bounds", Resource: spec.Name, Err: fmt.Errorf("non-integer key bounds %v, %v", row[minCol], row[maxCol])}
	}
	return a, b, true, nil
}

// LookupName returns column of the row in table whose id is id. UI rows
// show display names where the API shows foreign keys.
func (o *Oracle) LookupName(ctx context.Context, table, column, id string) (string, error) {
	query, args, err := o.db.Compiler().Select(querysql.Select{
		From:    table,
		Columns: []string{column},
		Filter:  predicate.Equals{Field: "id", Value: id},
		Limit:   1,
	})
	if err != nil {
		return "", &QueryError{Op: "lookup", Resource: table, Err: err}
	}
	vals, err := o.db.QueryColumn(ctx, query, args...)
	if err != nil {
		return "", &QueryError{Op: "lookup", Resource: table, Err: err}
	}
	if len(vals) == 0 {
		return "", fmt.Errorf("%s id=%s: %w", table, id, ErrNoRecord)
	}
	return fmt.Sprint(vals[0]), nil
}
