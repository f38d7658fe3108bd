package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/listproof/internal/querysql"
)

// DefaultQueryTimeout bounds every query when no timeout is configured.
const DefaultQueryTimeout = 5 * time.Second

// Store provides read access (and fixture writes) to the backing store.
type Store struct {
	db           *sql.DB
	driver       string
	dialect      querysql.Dialect
	queryTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithQueryTimeout sets the per-query timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

// WithLogger sets the logger used for connection and query diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects to the store identified by driver and dsn and verifies the
// connection with a ping.
//
// The driver is one of "mysql", "sqlite3" or "pgx". For MySQL the DSN is
// rewritten to enable parseTime with UTC location so timestamp columns scan
// as time.Time.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	dialect, err := querysql.DialectFor(driver)
	if err != nil {
		return nil, err
	}

	name, dsn, err := prepare(dialect, dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch dialect {
	case querysql.SQLite:
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		db.SetConnMaxLifetime(10 * time.Minute)
		db.SetMaxOpenConns(4)
	}

	s := newStore(db, driver, dialect, opts)

	pingCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", RedactDSN(driver, dsn), err)
	}

	s.logger.Debug("store connected", "driver", driver, "dsn", RedactDSN(driver, dsn))
	return s, nil
}

// New wraps an existing *sql.DB. The caller keeps ownership of connection
// settings; Close still closes db.
func New(db *sql.DB, driver string, opts ...Option) (*Store, error) {
	dialect, err := querysql.DialectFor(driver)
	if err != nil {
		return nil, err
	}
	return newStore(db, driver, dialect, opts), nil
}

func newStore(db *sql.DB, driver string, dialect querysql.Dialect, opts []Option) *Store {
	s := &Store{
		db:           db,
		driver:       driver,
		dialect:      dialect,
		queryTimeout: DefaultQueryTimeout,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func prepare(dialect querysql.Dialect, dsn string) (driverName, out string, err error) {
	switch dialect {
	case querysql.MySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		return "mysql", cfg.FormatDSN(), nil
	case querysql.Postgres:
		return "pgx", dsn, nil
	default:
		return "sqlite3", dsn, nil
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

// Dialect returns the SQL dialect of the store.
func (s *Store) Dialect() querysql.Dialect {
	return s.dialect
}

// Compiler returns a fresh SQL compiler for the store's dialect.
func (s *Store) Compiler() *querysql.Compiler {
	return querysql.NewCompiler(s.dialect)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}
