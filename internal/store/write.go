package store

import (
	"context"
	"fmt"
)

// Exec runs a write statement and returns the number of affected rows.
//
// Used for fixture priming, restore and the twin's writes.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.logger.Debug("store exec", "sql", query, "args", len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ExecScript runs a multi-statement script in one call. Only the sqlite3
// driver accepts multiple statements per Exec; it is used to load fixtures.
func (s *Store) ExecScript(ctx context.Context, script string) error {
	if _, err := s.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	return nil
}
