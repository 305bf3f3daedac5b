// Package sql lowers physical layouts and query plans to the SQL text of a
// dialect, and executes the result through database/sql.
//
// # Generator
//
// A Generator is bound to one set of dialect options. The pieces of SQL that
// differ between databases sit behind the Fragments interface; Base spells
// the ANSI baseline and the SQLite, Postgres and MySQL types override it:
//
//	g := sql.NewGenerator(dialect.Defaults(dialect.Postgres))
//	ddl, err := g.CreateStatements(l, compiler)
//	stmt, err := g.Select(plan)
//	fmt.Println(stmt.SQL)  // SELECT "t0"."name" AS "name" FROM "person" AS "t0" WHERE ...
//
// Tables are created after the tables they reference. Foreign keys that
// point forward are added by ALTER TABLE statements once every table
// exists, except on SQLite which declares them inline.
//
// Features a dialect cannot express are reported as
// *relvar.UnsupportedDialectFeatureError naming the entity and attribute
// that required them.
//
// # Placeholders
//
// Statement.Params lists the parameter name of every placeholder in
// statement order. Bind values with the plan the statement came from:
//
//	args, err := plan.Bind(stmt.Params, map[string]any{"min": 10})
//	rows, err := drv.Query(ctx, stmt.SQL, args)
//
// # Driver
//
// Driver wraps a *sql.DB. Apply runs DDL inside one transaction, and
// failures are classified by ConstraintOf using the typed errors of
// lib/pq, go-sql-driver/mysql and modernc.org/sqlite:
//
//	drv, err := sql.Open(dialect.SQLite, "sqlite", "file:app.db", sql.WithStats(stats))
//	err = drv.Apply(ctx, ddl)
package sql
