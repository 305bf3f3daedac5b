package sql

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/dialect"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession(t *testing.T) {
	tests := []struct {
		dialect string
		set     string
		reset   string
	}{
		{dialect.Postgres, "SET LOCAL search_path = 'app'", ""},
		{dialect.MySQL, "SET SESSION sql_mode = 'it''s'", "SET SESSION sql_mode = DEFAULT"},
		{dialect.SQLite, "PRAGMA defer_foreign_keys = 'on'", ""},
	}
	settings := map[string]Setting{
		dialect.Postgres: {Name: "search_path", Value: "app"},
		dialect.MySQL:    {Name: "sql_mode", Value: "it's"},
		dialect.SQLite:   {Name: "defer_foreign_keys", Value: "on"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
			require.NoError(t, err)
			drv := OpenDB(tt.dialect, db, WithSession(settings[tt.dialect]))
			mock.ExpectBegin()
			mock.ExpectExec(tt.set).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec("DELETE FROM t").WillReturnResult(sqlmock.NewResult(0, 0))
			if tt.reset != "" {
				mock.ExpectExec(tt.reset).WillReturnResult(sqlmock.NewResult(0, 0))
			}
			mock.ExpectCommit()
			require.NoError(t, drv.Apply(context.Background(), []*Statement{{SQL: "DELETE FROM t"}}))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSessionRollback(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	drv := OpenDB(dialect.MySQL, db, WithSession(Setting{Name: "foreign_key_checks", Value: "0"}))
	mock.ExpectBegin()
	mock.ExpectExec("SET SESSION foreign_key_checks = '0'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE t").WillReturnError(errors.New("boom"))
	mock.ExpectExec("SET SESSION foreign_key_checks = DEFAULT").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	err = drv.Apply(context.Background(), []*Statement{{SQL: "DROP TABLE t"}})
	assert.ErrorContains(t, err, "boom")
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectBegin()
	mock.ExpectExec("SET SESSION foreign_key_checks = '0'").WillReturnError(errors.New("denied"))
	mock.ExpectRollback()
	_, err = drv.Tx(context.Background())
	assert.ErrorContains(t, err, "session setting")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionInvalid(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
		setting Setting
	}{
		{"injection", dialect.Postgres, Setting{Name: "foo; DROP TABLE users", Value: "x"}},
		{"empty", dialect.Postgres, Setting{Value: "x"}},
		{"leading digit", dialect.SQLite, Setting{Name: "1abc", Value: "x"}},
		{"generic", dialect.Generic, Setting{Name: "search_path", Value: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			drv := OpenDB(tt.dialect, db, WithSession(tt.setting))
			_, err = drv.Tx(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.dialect == dialect.Generic, relvar.IsDialectError(err))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestApply(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	drv := OpenDB(dialect.SQLite, db)
	stmts := []*Statement{
		{SQL: "CREATE TABLE `person` (\n  `id` integer PRIMARY KEY AUTOINCREMENT\n)"},
		{SQL: "CREATE INDEX `person_id` ON `person` (`id`)"},
	}
	mock.ExpectBegin()
	mock.ExpectExec(stmts[0].SQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(stmts[1].SQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	require.NoError(t, drv.Apply(context.Background(), stmts))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRollback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	stats := NewQueryStats()
	drv := OpenDB(dialect.Postgres, db, WithStats(stats))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE UNIQUE INDEX").WillReturnError(&pq.Error{Code: "23505", Message: "could not create unique index"})
	mock.ExpectRollback()
	err = drv.Apply(context.Background(), []*Statement{
		{SQL: `CREATE TABLE "person" ("id" bigint)`},
		{SQL: `CREATE UNIQUE INDEX "person_id" ON "person" ("id")`},
		{SQL: `CREATE TABLE "never" ("id" bigint)`},
	})
	require.Error(t, err)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Statement, "CREATE UNIQUE INDEX")
	assert.True(t, IsUniqueConstraintError(err))
	require.NoError(t, mock.ExpectationsWereMet())

	s := stats.Stats()
	assert.EqualValues(t, 2, s.TotalExecs)
	assert.EqualValues(t, 1, s.Errors)
	assert.EqualValues(t, 1, s.Constraints)
}

func TestApplyUnboundParameters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	drv := OpenDB(dialect.Postgres, db)
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = drv.Apply(context.Background(), []*Statement{{SQL: "SELECT $1", Params: []string{"min"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbound parameters")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryMaps(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	drv := OpenDB(dialect.SQLite, db)
	mock.ExpectQuery("SELECT").
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "boss"}).
			AddRow("Alice", nil).
			AddRow([]byte("Bob"), "Alice"))
	rows, err := drv.Query(context.Background(), "SELECT `t0`.`name` AS `name` FROM `person` AS `t0` WHERE `t0`.`salary` > ?", []any{int64(10)})
	require.NoError(t, err)
	maps, err := rows.Maps()
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"name": "Alice", "boss": nil},
		{"name": "Bob", "boss": "Alice"},
	}, maps)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDialectMethod(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{dialect.MySQL, dialect.MySQL},
		{dialect.SQLite, dialect.SQLite},
		{dialect.Postgres, dialect.Postgres},
		{"postgres+otel", dialect.Postgres},
		{dialect.Generic, dialect.Generic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			assert.Equal(t, tt.want, OpenDB(tt.name, db).Dialect())
		})
	}
}

func TestConstraintOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Constraint
	}{
		{"nil", nil, NoConstraint},
		{"plain", errors.New("connection refused"), NoConstraint},
		{"pq unique", &pq.Error{Code: "23505"}, Unique},
		{"pq foreign key", &pq.Error{Code: "23503"}, ForeignKey},
		{"pq check", &pq.Error{Code: "23514"}, CheckViolation},
		{"pq not null", &pq.Error{Code: "23502"}, NotNull},
		{"pq syntax", &pq.Error{Code: "42601"}, NoConstraint},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, Unique},
		{"mysql parent row", &mysql.MySQLError{Number: 1451}, ForeignKey},
		{"mysql child row", &mysql.MySQLError{Number: 1452}, ForeignKey},
		{"mysql check", &mysql.MySQLError{Number: 3819}, CheckViolation},
		{"wrapped", fmt.Errorf("apply: %w", &ExecError{Statement: "INSERT", Err: &mysql.MySQLError{Number: 1062}}), Unique},
		{"sqlite text", errors.New("constraint failed: UNIQUE constraint failed: person.id (2067)"), Unique},
		{"sqlite fk text", errors.New("FOREIGN KEY constraint failed"), ForeignKey},
		{"postgres text", errors.New(`violates check constraint "person_age_check"`), CheckViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConstraintOf(tt.err))
			assert.Equal(t, tt.want != NoConstraint, IsConstraintError(tt.err))
		})
	}
	assert.True(t, IsForeignKeyConstraintError(&pq.Error{Code: "23503"}))
	assert.True(t, IsCheckConstraintError(&mysql.MySQLError{Number: 3819}))
}

func TestQueryStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	var slow []string
	stats := NewQueryStats(
		WithSlowThreshold(-1),
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)
	drv := OpenDB(dialect.SQLite, db, WithStats(stats))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("DELETE").WillReturnError(errors.New("boom"))

	rows, err := drv.Query(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)
	require.NoError(t, rows.Close())
	_, err = drv.Exec(context.Background(), "DELETE FROM person", nil)
	require.Error(t, err)

	s := stats.Stats()
	assert.EqualValues(t, 1, s.TotalQueries)
	assert.EqualValues(t, 1, s.TotalExecs)
	assert.EqualValues(t, 2, s.SlowQueries)
	assert.EqualValues(t, 1, s.Errors)
	assert.Zero(t, s.Constraints)
	assert.Equal(t, []string{"SELECT 1", "DELETE FROM person"}, slow)
	assert.Contains(t, s.String(), "queries=1 execs=1")

	stats.SetSlowThreshold(time.Hour)
	assert.Equal(t, time.Hour, stats.SlowThreshold())
	stats.Reset()
	assert.Zero(t, stats.Stats().TotalQueries)
	assert.Zero(t, StatsSnapshot{}.AvgQueryDuration())
}
