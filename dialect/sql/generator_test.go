package sql

import (
	"errors"
	"testing"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/compiler/query"
	"github.com/syssam/relvar/dialect"
	layout "github.com/syssam/relvar/dialect/sql/schema"
	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/formula"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func col(alias, name string) *query.Column { return &query.Column{Alias: alias, Name: name} }

func lit(v any) *query.Literal { return &query.Literal{Value: v} }

func cmp(op formula.Op, l, r query.Expr) *query.Compare { return &query.Compare{Op: op, L: l, R: r} }

func plan(sel *query.Select) *query.Plan {
	return &query.Plan{Scope: "Person", Select: sel}
}

func people(items ...query.Item) *query.Select {
	return &query.Select{From: query.TableRef{Name: "person", Alias: "t0"}, Items: items}
}

func TestSelect(t *testing.T) {
	sel := &query.Select{
		From: query.TableRef{Name: "person", Alias: "t0"},
		Joins: []*query.Join{{
			Kind:  query.LeftJoin,
			Table: query.TableRef{Name: "person", Alias: "t1"},
			On:    cmp(formula.EQ, col("t1", "id"), col("t0", "manager_id")),
		}},
		Where: &query.Logic{Args: []query.Expr{
			cmp(formula.GT, col("t0", "salary"), &query.Placeholder{Name: "min"}),
			cmp(formula.NE, col("t1", "name"), &query.Placeholder{Name: "name"}),
			cmp(formula.LT, col("t0", "salary"), &query.Placeholder{Name: "min"}),
		}},
		Items: []query.Item{
			{Name: "name", Expr: col("t0", "name")},
			{Name: "boss", Expr: col("t1", "name")},
		},
	}
	tests := []struct {
		dialect string
		want    string
	}{
		{
			dialect.SQLite,
			"SELECT `t0`.`name` AS `name`, `t1`.`name` AS `boss` FROM `person` AS `t0` LEFT JOIN `person` AS `t1` ON `t1`.`id` = `t0`.`manager_id` WHERE (`t0`.`salary` > ?) AND (`t1`.`name` <> ?) AND (`t0`.`salary` < ?)",
		},
		{
			dialect.MySQL,
			"SELECT `t0`.`name` AS `name`, `t1`.`name` AS `boss` FROM `person` AS `t0` LEFT JOIN `person` AS `t1` ON `t1`.`id` = `t0`.`manager_id` WHERE (`t0`.`salary` > ?) AND (`t1`.`name` <> ?) AND (`t0`.`salary` < ?)",
		},
		{
			dialect.Postgres,
			`SELECT "t0"."name" AS "name", "t1"."name" AS "boss" FROM "person" AS "t0" LEFT JOIN "person" AS "t1" ON "t1"."id" = "t0"."manager_id" WHERE ("t0"."salary" > $1) AND ("t1"."name" <> $2) AND ("t0"."salary" < $3)`,
		},
		{
			dialect.Generic,
			`SELECT "t0"."name" AS "name", "t1"."name" AS "boss" FROM "person" AS "t0" LEFT JOIN "person" AS "t1" ON "t1"."id" = "t0"."manager_id" WHERE ("t0"."salary" > ?) AND ("t1"."name" <> ?) AND ("t0"."salary" < ?)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			stmt, err := NewGenerator(dialect.Defaults(tt.dialect)).Select(plan(sel))
			require.NoError(t, err)
			assert.Equal(t, tt.want, stmt.SQL)
			assert.Equal(t, []string{"min", "name", "min"}, stmt.Params)
		})
	}
}

func TestBooleanValues(t *testing.T) {
	sel := people(
		query.Item{Name: "rich", Expr: cmp(formula.GT, col("t0", "salary"), lit(int64(10)))},
		query.Item{Name: "active", Expr: lit(false)},
		query.Item{Name: "same", Expr: cmp(formula.EQ, cmp(formula.GT, col("t0", "salary"), lit(int64(10))), lit(true))},
	)
	sel.Where = &query.Logic{Args: []query.Expr{
		&query.NullTest{X: col("t0", "bonus"), Negate: true},
		&query.Not{X: cmp(formula.LE, col("t0", "bonus"), lit(1.5))},
	}}

	stmt, err := NewGenerator(dialect.Defaults(dialect.Postgres)).Select(plan(sel))
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t0"."salary" > 10 AS "rich", FALSE AS "active", ("t0"."salary" > 10) = TRUE AS "same" FROM "person" AS "t0" WHERE ("t0"."bonus" IS NOT NULL) AND (NOT ("t0"."bonus" <= 1.5))`, stmt.SQL)

	stmt, err = NewGenerator(dialect.Defaults(dialect.Generic)).Select(plan(sel))
	require.NoError(t, err)
	assert.Equal(t, `SELECT CASE WHEN "t0"."salary" > 10 THEN 1 ELSE 0 END AS "rich", 0 AS "active", CASE WHEN CASE WHEN "t0"."salary" > 10 THEN 1 ELSE 0 END = 1 THEN 1 ELSE 0 END AS "same" FROM "person" AS "t0" WHERE ("t0"."bonus" IS NOT NULL) AND (NOT ("t0"."bonus" <= 1.5))`, stmt.SQL)
}

func TestExpressions(t *testing.T) {
	sel := people(
		query.Item{Name: "count", Expr: &query.Subquery{Select: &query.Select{
			From:  query.TableRef{Name: "person_reports", Alias: "t1"},
			Where: cmp(formula.EQ, col("t1", "owner_id"), col("t0", "id")),
			Items: []query.Item{{Name: "count", Expr: &query.Aggregate{Fn: "count"}}},
		}}},
		query.Item{Name: "band", Expr: &query.Case{
			When: cmp(formula.GT, col("t0", "salary"), lit(int64(10))),
			Then: lit("high"),
			Else: lit(nil),
		}},
		query.Item{Name: "pay", Expr: &query.Arith{
			Op: formula.Mul,
			L:  &query.Arith{Op: formula.Add, L: col("t0", "salary"), R: lit(int64(1))},
			R:  lit(2.0),
		}},
		query.Item{Name: "debt", Expr: &query.Negate{X: col("t0", "salary")}},
		query.Item{Name: "top", Expr: &query.Subquery{Select: &query.Select{
			From:  query.TableRef{Name: "person", Alias: "t2"},
			Items: []query.Item{{Name: "max", Expr: &query.Aggregate{Fn: "max", Arg: col("t2", "salary")}}},
		}}},
	)
	sel.Where = &query.Exists{Select: &query.Select{
		From:  query.TableRef{Name: "person_reports", Alias: "t3"},
		Where: cmp(formula.EQ, col("t3", "owner_id"), col("t0", "id")),
		Items: []query.Item{{Name: "one", Expr: lit(int64(1))}},
	}}
	stmt, err := NewGenerator(dialect.Defaults(dialect.Postgres)).Select(plan(sel))
	require.NoError(t, err)
	assert.Equal(t, `SELECT (SELECT COUNT(*) AS "count" FROM "person_reports" AS "t1" WHERE "t1"."owner_id" = "t0"."id") AS "count", `+
		`CASE WHEN "t0"."salary" > 10 THEN 'high' ELSE NULL END AS "band", `+
		`("t0"."salary" + 1) * 2.0 AS "pay", `+
		`-"t0"."salary" AS "debt", `+
		`(SELECT MAX("t2"."salary") AS "max" FROM "person" AS "t2") AS "top" `+
		`FROM "person" AS "t0" WHERE EXISTS (SELECT 1 AS "one" FROM "person_reports" AS "t3" WHERE "t3"."owner_id" = "t0"."id")`, stmt.SQL)
	assert.Empty(t, stmt.Params)
}

func TestConcat(t *testing.T) {
	sel := people(query.Item{Name: "label", Expr: &query.Concat{Args: []query.Expr{
		col("t0", "name"), lit(" @ "), &query.Placeholder{Name: "site"},
	}}})
	sel.Where = cmp(formula.EQ, col("t0", "name"), &query.Placeholder{Name: "name"})

	stmt, err := NewGenerator(dialect.Defaults(dialect.MySQL)).Select(plan(sel))
	require.NoError(t, err)
	assert.Equal(t, "SELECT CONCAT(`t0`.`name`, ' @ ', ?) AS `label` FROM `person` AS `t0` WHERE `t0`.`name` = ?", stmt.SQL)
	assert.Equal(t, []string{"site", "name"}, stmt.Params)

	stmt, err = NewGenerator(dialect.Defaults(dialect.Postgres)).Select(plan(sel))
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t0"."name" || ' @ ' || $1 AS "label" FROM "person" AS "t0" WHERE "t0"."name" = $2`, stmt.SQL)
	assert.Equal(t, []string{"site", "name"}, stmt.Params)
}

func TestRegex(t *testing.T) {
	sel := people(query.Item{Name: "name", Expr: col("t0", "name")})
	sel.Where = &query.Regex{X: col("t0", "name"), Pattern: lit("^A")}

	stmt, err := NewGenerator(dialect.Defaults(dialect.Postgres)).Select(plan(sel))
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t0"."name" AS "name" FROM "person" AS "t0" WHERE "t0"."name" ~ '^A'`, stmt.SQL)

	stmt, err = NewGenerator(dialect.Defaults(dialect.MySQL)).Select(plan(sel))
	require.NoError(t, err)
	assert.Equal(t, "SELECT `t0`.`name` AS `name` FROM `person` AS `t0` WHERE `t0`.`name` REGEXP '^A'", stmt.SQL)

	for _, name := range []string{dialect.SQLite, dialect.Generic} {
		_, err = NewGenerator(dialect.Defaults(name)).Select(plan(sel))
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, relvar.ErrUnsupportedDialectFeature))
		var de *relvar.UnsupportedDialectFeatureError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "Person", de.Entity)
		assert.Equal(t, name, de.Dialect)
	}
}

func TestLiterals(t *testing.T) {
	tests := []struct {
		dialect string
		value   any
		want    string
	}{
		{dialect.Postgres, "it's", `'it''s'`},
		{dialect.Postgres, `a\b`, `E'a\\b'`},
		{dialect.MySQL, `a\b's`, `'a\\b''s'`},
		{dialect.SQLite, `a\b`, `'a\b'`},
		{dialect.SQLite, int64(-3), "-3"},
		{dialect.SQLite, 2.0, "2.0"},
		{dialect.SQLite, 1e21, "1e+21"},
		{dialect.SQLite, true, "TRUE"},
		{dialect.Generic, true, "1"},
		{dialect.Generic, nil, "NULL"},
	}
	for _, tt := range tests {
		got, err := literal(FragmentsFor(dialect.Defaults(tt.dialect)), tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %v", tt.dialect, tt.value)
	}
	_, err := literal(Base{}, struct{}{})
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	r := &query.Refresh{
		Table:  "person",
		Column: "headcount",
		Origin: layout.Origin{Entity: "Person", Attribute: "headcount", Role: layout.RoleMaintained},
		Value: &query.Select{
			From:  query.TableRef{Name: "person", Alias: "t0"},
			Where: cmp(formula.EQ, col("t0", "id"), col("person", "id")),
			Items: []query.Item{{Name: "headcount", Expr: &query.Subquery{Select: &query.Select{
				From:  query.TableRef{Name: "person_reports", Alias: "t1"},
				Where: cmp(formula.EQ, col("t1", "owner_id"), col("t0", "id")),
				Items: []query.Item{{Name: "count", Expr: &query.Aggregate{Fn: "count"}}},
			}}}},
		},
	}
	stmt, err := NewGenerator(dialect.Defaults(dialect.SQLite)).Refresh(r)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE `person` SET `headcount` = (SELECT (SELECT COUNT(*) AS `count` FROM `person_reports` AS `t1` WHERE `t1`.`owner_id` = `t0`.`id`) AS `headcount` FROM `person` AS `t0` WHERE `t0`.`id` = `person`.`id`)", stmt.SQL)

	_, err = NewGenerator(dialect.Defaults(dialect.MySQL)).Refresh(r)
	require.Error(t, err)
	var de *relvar.UnsupportedDialectFeatureError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "headcount", de.Attribute)
}

func TestCondition(t *testing.T) {
	g := NewGenerator(dialect.Defaults(dialect.Postgres))
	s, err := g.Condition(cmp(formula.GE, &query.Column{Name: "age"}, lit(int64(0))), relvar.Location{Entity: "Person"})
	require.NoError(t, err)
	assert.Equal(t, `"age" >= 0`, s)

	_, err = g.Condition(cmp(formula.GE, &query.Column{Name: "age"}, &query.Placeholder{Name: "min"}), relvar.Location{Entity: "Person"})
	assert.ErrorContains(t, err, "has parameters")
}

// staticChecks compiles every check to a non-empty test on the column, or to a regex
// match when the check text is "regex".
type staticChecks struct{}

func (staticChecks) CompileCheck(src string, c *layout.Column) (query.Expr, error) {
	if src == "regex" {
		return &query.Regex{X: &query.Column{Name: c.Name}, Pattern: lit("^[a-z]+$")}, nil
	}
	return cmp(formula.NE, &query.Column{Name: c.Name}, lit("")), nil
}

func ident(name string) *layout.Column {
	return &layout.Column{Name: name, Type: schema.KindInt, TypeName: "bigint", Increment: true, Origin: layout.Origin{Entity: "X", Attribute: "id", Role: layout.RoleIdentifier}}
}

func hierarchy() *layout.Layout {
	child := &layout.Table{
		Name: "child",
		Columns: []*layout.Column{
			ident("id"),
			{Name: "parent_id", Type: schema.KindInt, TypeName: "bigint", Nullable: true},
		},
		PrimaryKey: []string{"id"},
		ForeignKeys: []*layout.ForeignKey{{
			Symbol: "child_parent_id_fkey", Columns: []string{"parent_id"},
			RefTable: "parent", RefColumns: []string{"id"}, OnDelete: "SET NULL",
		}},
		Origin: layout.Origin{Entity: "Child", Role: layout.RoleEntity},
	}
	parent := &layout.Table{
		Name: "parent",
		Columns: []*layout.Column{
			ident("id"),
			{Name: "name", Type: schema.KindString, TypeName: "varchar", Size: 255, Default: "'x'"},
		},
		PrimaryKey: []string{"id"},
		Indexes:    []*layout.Index{{Name: "parent_name", Unique: true, Columns: []string{"name"}}},
		Checks:     []*layout.Check{{Name: "parent_name_check", Column: "name", Expr: "value != ''"}},
		Origin:     layout.Origin{Entity: "Parent", Role: layout.RoleEntity},
	}
	return &layout.Layout{Tables: []*layout.Table{child, parent}}
}

func TestCreateStatements(t *testing.T) {
	stmts, err := NewGenerator(dialect.Defaults(dialect.Postgres)).CreateStatements(hierarchy(), staticChecks{})
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE \"parent\" (\n"+
		"  \"id\" bigint NOT NULL GENERATED BY DEFAULT AS IDENTITY,\n"+
		"  \"name\" varchar(255) NOT NULL DEFAULT 'x',\n"+
		"  PRIMARY KEY (\"id\"),\n"+
		"  CONSTRAINT \"parent_name_check\" CHECK (\"name\" <> '')\n"+
		")", stmts[0].SQL)
	assert.Equal(t, `CREATE UNIQUE INDEX "parent_name" ON "parent" ("name")`, stmts[1].SQL)
	assert.Equal(t, "CREATE TABLE \"child\" (\n"+
		"  \"id\" bigint NOT NULL GENERATED BY DEFAULT AS IDENTITY,\n"+
		"  \"parent_id\" bigint,\n"+
		"  PRIMARY KEY (\"id\"),\n"+
		"  CONSTRAINT \"child_parent_id_fkey\" FOREIGN KEY (\"parent_id\") REFERENCES \"parent\" (\"id\") ON DELETE SET NULL\n"+
		")", stmts[2].SQL)

	stmts, err = NewGenerator(dialect.Defaults(dialect.SQLite)).CreateStatements(hierarchy(), staticChecks{})
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE `parent` (\n"+
		"  `id` integer PRIMARY KEY AUTOINCREMENT,\n"+
		"  `name` varchar(255) NOT NULL DEFAULT 'x',\n"+
		"  CONSTRAINT `parent_name_check` CHECK (`name` <> '')\n"+
		")", stmts[0].SQL)

	stmts, err = NewGenerator(dialect.Defaults(dialect.Generic)).CreateStatements(hierarchy(), staticChecks{})
	require.NoError(t, err)
	assert.Contains(t, stmts[0].SQL, "\"id\" bigint NOT NULL,\n")
}

func TestCreateStatementsCycle(t *testing.T) {
	cycle := func() *layout.Layout {
		a := &layout.Table{
			Name:       "a",
			Columns:    []*layout.Column{ident("id"), {Name: "b_id", Type: schema.KindInt, TypeName: "bigint", Nullable: true}},
			PrimaryKey: []string{"id"},
			ForeignKeys: []*layout.ForeignKey{{
				Symbol: "a_b_id_fkey", Columns: []string{"b_id"}, RefTable: "b", RefColumns: []string{"id"},
			}},
		}
		b := &layout.Table{
			Name:       "b",
			Columns:    []*layout.Column{ident("id"), {Name: "a_id", Type: schema.KindInt, TypeName: "bigint"}},
			PrimaryKey: []string{"id"},
			ForeignKeys: []*layout.ForeignKey{{
				Symbol: "b_a_id_fkey", Columns: []string{"a_id"}, RefTable: "a", RefColumns: []string{"id"}, OnDelete: "CASCADE",
			}},
		}
		return &layout.Layout{Tables: []*layout.Table{a, b}}
	}

	stmts, err := NewGenerator(dialect.Defaults(dialect.Postgres)).CreateStatements(cycle(), staticChecks{})
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.NotContains(t, stmts[0].SQL, "FOREIGN KEY")
	assert.Contains(t, stmts[1].SQL, `CONSTRAINT "b_a_id_fkey" FOREIGN KEY ("a_id") REFERENCES "a" ("id") ON DELETE CASCADE`)
	assert.Equal(t, `ALTER TABLE "a" ADD CONSTRAINT "a_b_id_fkey" FOREIGN KEY ("b_id") REFERENCES "b" ("id")`, stmts[2].SQL)

	stmts, err = NewGenerator(dialect.Defaults(dialect.SQLite)).CreateStatements(cycle(), staticChecks{})
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0].SQL, "CONSTRAINT `a_b_id_fkey` FOREIGN KEY (`b_id`) REFERENCES `b` (`id`)")
}

func TestCreateStatementsDialectErrors(t *testing.T) {
	l := hierarchy()
	l.Tables[1].Checks[0].Expr = "regex"
	stmts, err := NewGenerator(dialect.Defaults(dialect.SQLite)).CreateStatements(l, staticChecks{})
	require.Error(t, err)
	assert.True(t, relvar.IsDialectError(err))
	assert.False(t, relvar.IsModelError(err))
	require.Len(t, stmts, 3)
	assert.NotContains(t, stmts[0].SQL, "CHECK")

	stmts, err = NewGenerator(dialect.Defaults(dialect.Postgres)).CreateStatements(l, staticChecks{})
	require.NoError(t, err)
	assert.Contains(t, stmts[0].SQL, `CHECK ("name" ~ '^[a-z]+$')`)
}

func TestCreationOrder(t *testing.T) {
	names := func(ts []*layout.Table) []string {
		out := make([]string, len(ts))
		for i, t := range ts {
			out[i] = t.Name
		}
		return out
	}
	assert.Equal(t, []string{"parent", "child"}, names(CreationOrder(hierarchy())))

	l := hierarchy()
	l.Tables = append(l.Tables, &layout.Table{Name: "solo"})
	assert.Equal(t, []string{"parent", "child", "solo"}, names(CreationOrder(l)))

	drops := NewGenerator(dialect.Defaults(dialect.MySQL)).DropStatements(hierarchy())
	assert.Equal(t, "DROP TABLE IF EXISTS `child`;\nDROP TABLE IF EXISTS `parent`;\n", Script(drops))
}
