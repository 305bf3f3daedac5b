package sql_test

import (
	"context"
	stdsql "database/sql"
	"testing"

	"github.com/syssam/relvar/compiler/gen"
	"github.com/syssam/relvar/compiler/query"
	"github.com/syssam/relvar/compiler/typemap"
	"github.com/syssam/relvar/dialect"
	"github.com/syssam/relvar/dialect/sql"
	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/field"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type fixture struct {
	drv      *sql.Driver
	gen      *sql.Generator
	compiler *query.Compiler
	graph    *gen.Graph
}

func open(t *testing.T) *fixture {
	t.Helper()
	s, err := schema.Build("hr", schema.NewEntity("Person").Fields(
		field.String("name"),
		field.Int("salary"),
		field.Ref("manager", "Person").Optional(),
		field.Set("reports", schema.RefTo("Person")),
		field.Enum("status", "Status").Values("active", "retired"),
		field.Maintained("headcount", schema.Int, "count(reports)"),
	))
	require.NoError(t, err)
	opts := dialect.Defaults(dialect.SQLite)
	cfg, err := gen.NewConfig(gen.WithDialect(opts))
	require.NoError(t, err)
	g, err := gen.NewGraph(cfg, s, typemap.New(s, typemap.SQLite))
	require.NoError(t, err)

	db, err := stdsql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		drv:      sql.OpenDB(dialect.SQLite, db),
		gen:      sql.NewGenerator(opts),
		compiler: query.NewCompiler(g.Layout(), s),
		graph:    g,
	}
	ddl, err := f.gen.CreateStatements(g.Layout(), f.compiler)
	require.NoError(t, err)
	require.NoError(t, f.drv.Apply(context.Background(), ddl))
	for _, q := range []string{
		"INSERT INTO person (name, salary, manager_id, status) VALUES ('Ann', 100, NULL, 'active')",
		"INSERT INTO person (name, salary, manager_id, status) VALUES ('Bob', 50, 1, 'active')",
		"INSERT INTO person (name, salary, manager_id, status) VALUES ('Cid', 20, 1, 'retired')",
		"INSERT INTO person_reports (owner_id, report_id) VALUES (1, 2), (1, 3)",
	} {
		_, err := f.drv.Exec(context.Background(), q, nil)
		require.NoError(t, err, q)
	}
	return f
}

func (f *fixture) query(t *testing.T, src string, values map[string]any) []map[string]any {
	t.Helper()
	p, err := f.compiler.Parse(src, "Person")
	require.NoError(t, err)
	stmt, err := f.gen.Select(p)
	require.NoError(t, err)
	args, err := p.Bind(stmt.Params, values)
	require.NoError(t, err)
	rows, err := f.drv.Query(context.Background(), stmt.SQL, args)
	require.NoError(t, err, stmt.SQL)
	maps, err := rows.Maps()
	require.NoError(t, err)
	return maps
}

func TestSQLiteQueries(t *testing.T) {
	f := open(t)

	assert.ElementsMatch(t, []map[string]any{
		{"name": "Ann", "boss": nil},
		{"name": "Bob", "boss": "Ann"},
	}, f.query(t, "select name, manager.name as boss where salary > :min", map[string]any{"min": 30}))

	assert.ElementsMatch(t, []map[string]any{
		{"name": "Ann", "big": int64(1)},
		{"name": "Bob", "big": int64(0)},
		{"name": "Cid", "big": int64(0)},
	}, f.query(t, "select name, count(reports where salary > 30) as big", nil))

	assert.ElementsMatch(t, []map[string]any{
		{"name": "Bob"},
		{"name": "Cid"},
	}, f.query(t, "select name where manager.name = 'Ann'", nil))

	assert.ElementsMatch(t, []map[string]any{
		{"name": "Ann", "report": "Bob"},
		{"name": "Ann", "report": "Cid"},
	}, f.query(t, "flatten select name, reports.name as report", nil))
}

func TestSQLiteRefresh(t *testing.T) {
	f := open(t)
	m, ok := f.graph.Layout().Maintenance("Person", "headcount")
	require.True(t, ok)
	r, err := f.compiler.CompileRefresh(m)
	require.NoError(t, err)
	stmt, err := f.gen.Refresh(r)
	require.NoError(t, err)
	_, err = f.drv.Exec(context.Background(), stmt.SQL, nil)
	require.NoError(t, err, stmt.SQL)

	assert.ElementsMatch(t, []map[string]any{
		{"name": "Ann", "headcount": int64(2)},
		{"name": "Bob", "headcount": int64(0)},
		{"name": "Cid", "headcount": int64(0)},
	}, f.query(t, "select name, headcount", nil))
}

func TestSQLiteConstraints(t *testing.T) {
	f := open(t)
	_, err := f.drv.Exec(context.Background(), "INSERT INTO person (name, salary, status) VALUES ('Dan', 1, 'fired')", nil)
	require.Error(t, err)
	assert.True(t, sql.IsCheckConstraintError(err))

	_, err = f.drv.Exec(context.Background(), "INSERT INTO person_reports (owner_id, report_id) VALUES (1, 2)", nil)
	require.Error(t, err)
	assert.True(t, sql.IsUniqueConstraintError(err))
}
