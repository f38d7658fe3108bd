package querysql

import "fmt"

// Dialect selects placeholder syntax and the substring-match expression.
type Dialect int

const (
	SQLite Dialect = iota
	MySQL
	Postgres
)

// DialectFor maps a database/sql driver name to its Dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	default:
		return 0, fmt.Errorf("unsupported driver %q", driver)
	}
}

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case MySQL:
		return "mysql"
	case Postgres:
		return "postgres"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// contains renders a case-sensitive substring test. LIKE is avoided because
// its case sensitivity depends on collation.
func (d Dialect) contains(field, ph string) string {
	switch d {
	case MySQL:
		return fmt.Sprintf("INSTR(BINARY %s, %s) > 0", field, ph)
	case Postgres:
		return fmt.Sprintf("strpos(CAST(%s AS TEXT), %s) > 0", field, ph)
	default:
		return fmt.Sprintf("instr(%s, %s) > 0", field, ph)
	}
}
