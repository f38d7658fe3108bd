package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/listproof/internal/querysql"
)

// ErrNoRows is returned by QueryRow when the query matches nothing.
var ErrNoRows = errors.New("no rows")

// Row is one result row keyed by column name.
type Row map[string]any

// Query executes query and returns every row.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.logger.Debug("store query", "sql", query, "args", len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	out := []Row{}
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// QueryRow executes query and returns its single row. Returns ErrNoRows
// when nothing matches and an error when more than one row does.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, ErrNoRows
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("expected one row, got %d", len(rows))
	}
}

// QueryColumn executes query and returns the first column of every row.
func (s *Store) QueryColumn(ctx context.Context, query string, args ...any) ([]any, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.logger.Debug("store query", "sql", query, "args", len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := []any{}
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, normalize(v))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Columns returns the column names of table in declaration order.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	if !querysql.ValidIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	query := "SELECT * FROM " + table + " WHERE 1 = 0"

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	return cols, nil
}

func scanRow(rows *sql.Rows, cols []string) (Row, error) {
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	row := make(Row, len(cols))
	for i, c := range cols {
		row[c] = normalize(vals[i])
	}
	return row, nil
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
