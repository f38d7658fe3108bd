// Package store is the DataStoreClient: a thin database/sql wrapper over the
// relational store that backs the surface under test.
//
// The store is opened read-mostly. Verifiers only read through it; the one
// exception is scenario priming and restore, which write single rows by
// primary key through Exec.
//
// # Drivers
//
//   - mysql   github.com/go-sql-driver/mysql (parseTime forced on, UTC)
//   - sqlite3 github.com/mattn/go-sqlite3 (local stores, test fixtures)
//   - pgx     github.com/jackc/pgx/v5/stdlib
//
// # Row Values
//
// Rows are returned as Row maps keyed by column name. []byte values are
// converted to string so MySQL text columns compare like every other
// driver's. DATETIME/TIMESTAMP columns arrive as time.Time in UTC.
//
// Every query runs under the configured per-query timeout. There are no
// retries; a failed query is returned to the caller.
package store
