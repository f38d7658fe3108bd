package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listproof/internal/querysql"
)

// createTestStore opens a file-backed sqlite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), "sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.ExecScript(context.Background(), `
		CREATE TABLE factor (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			service_id INTEGER,
			note BLOB,
			modify_time DATETIME
		);
		INSERT INTO factor (id, name, service_id, note, modify_time) VALUES
			(1, 'alpha', 10, X'6869', '2024-03-01 08:00:00.250000'),
			(2, 'beta', NULL, NULL, '2024-03-02 09:30:00');
	`))
	return s
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestQuery_ReturnsRowsKeyedByColumn(t *testing.T) {
	s := createTestStore(t)
	assert.Equal(t, querysql.SQLite, s.Dialect())

	rows, err := s.Query(context.Background(), "SELECT id, name, service_id, note FROM factor ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "alpha", rows[0]["name"])
	assert.Equal(t, "hi", rows[0]["note"], "[]byte normalized to string")
	assert.Nil(t, rows[1]["service_id"])
}

func TestQuery_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)
	rows, err := s.Query(context.Background(), "SELECT id FROM factor WHERE id < 0")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestQuery_TimestampsScanAsTime(t *testing.T) {
	s := createTestStore(t)
	row, err := s.QueryRow(context.Background(), "SELECT modify_time FROM factor WHERE id = ?", 1)
	require.NoError(t, err)

	ts, ok := row["modify_time"].(time.Time)
	require.True(t, ok, "got %T", row["modify_time"])
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 250000000, time.UTC), ts.UTC())
}

func TestQueryRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.QueryRow(ctx, "SELECT * FROM factor WHERE id = ?", 99)
	assert.ErrorIs(t, err, ErrNoRows)

	_, err = s.QueryRow(ctx, "SELECT * FROM factor")
	assert.ErrorContains(t, err, "expected one row")
}

func TestQueryColumn(t *testing.T) {
	s := createTestStore(t)
	vals, err := s.QueryColumn(context.Background(), "SELECT name FROM factor ORDER BY id DESC")
	require.NoError(t, err)
	assert.Equal(t, []any{"beta", "alpha"}, vals)
}

func TestColumns(t *testing.T) {
	s := createTestStore(t)
	cols, err := s.Columns(context.Background(), "factor")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "service_id", "note", "modify_time"}, cols)

	_, err = s.Columns(context.Background(), "factor; DROP TABLE factor")
	assert.ErrorContains(t, err, "invalid table name")
}

func TestExec(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n, err := s.Exec(ctx, "UPDATE factor SET name = ? WHERE id = ?", "gamma", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := s.QueryRow(ctx, "SELECT name FROM factor WHERE id = 2")
	require.NoError(t, err)
	assert.Equal(t, "gamma", row["name"])
}

func TestQuery_PropagatesDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	s, err := New(db, "mysql", WithQueryTimeout(time.Second))
	require.NoError(t, err)
	defer s.Close()

	mock.ExpectQuery("SELECT DISTINCT id FROM factor").WillReturnError(assert.AnError)

	_, err = s.Query(context.Background(), "SELECT DISTINCT id FROM factor")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedactDSN(t *testing.T) {
	tests := []struct {
		driver, dsn, want string
	}{
		{"mysql", "rule:s3cret@tcp(db:3306)/rule", "rule:xxxxxx@tcp(db:3306)/rule"},
		{"pgx", "postgres://rule:s3cret@db:5432/rule?sslmode=disable", "postgres://rule:xxxxx@db:5432/rule?sslmode=disable"},
		{"pgx", "host=db user=rule password=s3cret dbname=rule", "host=db user=rule password=xxxxx dbname=rule"},
		{"sqlite3", "file:fixture.db", "file:fixture.db"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			got := RedactDSN(tt.driver, tt.dsn)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "s3cret")
		})
	}
}
