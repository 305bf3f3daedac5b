package gen_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/compiler/gen"
	"github.com/syssam/relvar/compiler/typemap"
	"github.com/syssam/relvar/dialect"
	layout "github.com/syssam/relvar/dialect/sql/schema"
	"github.com/syssam/relvar/dialect/sqlschema"
	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/field"
	"github.com/syssam/relvar/schema/index"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, defs ...schema.Definer) *schema.Schema {
	t.Helper()
	s, err := schema.Build("test", defs...)
	require.NoError(t, err)
	return s
}

func mapSchema(t *testing.T, s *schema.Schema, opts ...gen.Option) (*gen.Graph, error) {
	t.Helper()
	cfg, err := gen.NewConfig(append([]gen.Option{gen.WithDialect(dialect.Defaults(dialect.SQLite))}, opts...)...)
	require.NoError(t, err)
	return gen.NewGraph(cfg, s, typemap.New(s, typemap.SQLite))
}

func person() *schema.EntityBuilder {
	return schema.NewEntity("Person").Fields(
		field.String("name"),
		field.Ref("manager", "Person").Optional(),
		field.Set("reports", schema.RefTo("Person")),
	)
}

func columnNames(t *layout.Table) []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func TestPersonLayout(t *testing.T) {
	g, err := mapSchema(t, build(t, person()))
	require.NoError(t, err)
	l := g.Layout()
	require.Len(t, l.Tables, 2)

	p := l.Tables[0]
	assert.Equal(t, "person", p.Name)
	assert.Equal(t, []string{"id", "name", "manager_id"}, columnNames(p))
	assert.Equal(t, []string{"id"}, p.PrimaryKey)
	id, _ := p.Column("id")
	assert.True(t, id.Increment)
	assert.False(t, id.Nullable)
	manager, _ := p.Column("manager_id")
	assert.True(t, manager.Nullable)
	require.Len(t, p.ForeignKeys, 1)
	fk := p.ForeignKeys[0]
	assert.Equal(t, []string{"manager_id"}, fk.Columns)
	assert.Equal(t, "person", fk.RefTable)
	assert.Equal(t, []string{"id"}, fk.RefColumns)

	r := l.Tables[1]
	assert.Equal(t, "person_reports", r.Name)
	assert.True(t, r.Auxiliary())
	assert.Equal(t, []string{"owner_id", "report_id"}, columnNames(r))
	require.Len(t, r.Indexes, 1)
	assert.True(t, r.Indexes[0].Unique)
	assert.Equal(t, []string{"owner_id", "report_id"}, r.Indexes[0].Columns)
	require.Len(t, r.ForeignKeys, 2)
	assert.Equal(t, "CASCADE", r.ForeignKeys[0].OnDelete)
	assert.Equal(t, []string{"report_id"}, r.ForeignKeys[1].Columns)

	o := l.Origins()
	assert.Equal(t, "Person.manager", o["person.manager_id"].String())
	assert.Equal(t, layout.RoleElement, o["person_reports.report_id"].Role)
	assert.Equal(t, layout.RoleOwner, o["person_reports.owner_id"].Role)
}

func TestLayoutIsDeterministic(t *testing.T) {
	s := build(t, person(), schema.NewEntity("Team").Fields(
		field.String("title"),
		field.List("members", schema.RefTo("Person")),
	))
	first, err := mapSchema(t, s)
	require.NoError(t, err)
	for range 5 {
		g, err := mapSchema(t, s)
		require.NoError(t, err)
		assert.Equal(t, first.Layout(), g.Layout())
	}
}

func TestReferenceOrder(t *testing.T) {
	s := build(t,
		schema.NewEntity("Order").Fields(field.Ref("customer", "Customer")),
		schema.NewEntity("Line").Fields(field.Ref("order", "Order"), field.Int("qty")),
		schema.NewEntity("Customer").Fields(field.String("name")),
	)
	g, err := mapSchema(t, s)
	require.NoError(t, err)
	var names []string
	for _, n := range g.Nodes {
		names = append(names, n.Entity.Name)
	}
	assert.Equal(t, []string{"Customer", "Order", "Line"}, names)
}

func TestListTable(t *testing.T) {
	s := build(t, schema.NewEntity("Post").Fields(field.List("tags", schema.String)))
	g, err := mapSchema(t, s)
	require.NoError(t, err)
	tags, ok := g.Layout().CollectionTable("Post", "tags")
	require.True(t, ok)
	assert.Equal(t, "post_tags", tags.Name)
	assert.Equal(t, []string{"owner_id", "position", "tag"}, columnNames(tags))
	assert.Equal(t, []string{"owner_id", "position"}, tags.PrimaryKey)
	assert.Empty(t, tags.Indexes)
}

func TestRelationAndInlineTuple(t *testing.T) {
	s := build(t,
		schema.NewTuple("Address").Fields(field.String("street"), field.String("city").Optional()),
		schema.NewEntity("Customer").Fields(
			field.Tuple("billing", "Address"),
			field.Relation("addresses", "Address"),
		),
	)
	g, err := mapSchema(t, s)
	require.NoError(t, err)
	c, _ := g.Layout().EntityTable("Customer")
	assert.Equal(t, []string{"id", "billing_street", "billing_city"}, columnNames(c))
	city, _ := c.Column("billing_city")
	assert.True(t, city.Nullable)
	assert.Equal(t, "Customer.billing.city", city.Origin.String())

	a, ok := g.Layout().CollectionTable("Customer", "addresses")
	require.True(t, ok)
	assert.Equal(t, []string{"owner_id", "street", "city"}, columnNames(a))
}

func TestCompositeKeyReference(t *testing.T) {
	s := build(t,
		schema.NewEntity("Country").
			Fields(field.String("iso")).
			Indexes(index.Fields("iso").Identifying()),
		schema.NewEntity("Region").
			Fields(field.Ref("country", "Country"), field.String("code")).
			Indexes(index.Fields("country", "code").Identifying()),
		schema.NewEntity("Shop").Fields(field.Ref("region", "Region")),
	)
	g, err := mapSchema(t, s)
	require.NoError(t, err)
	shop, _ := g.Layout().EntityTable("Shop")
	assert.Equal(t, []string{"id", "region_country_iso", "region_code"}, columnNames(shop))
	require.Len(t, shop.ForeignKeys, 1)
	assert.Equal(t, []string{"country_iso", "code"}, shop.ForeignKeys[0].RefColumns)
	region, _ := g.Layout().EntityTable("Region")
	assert.Equal(t, []string{"country_iso", "code"}, region.PrimaryKey)
}

func TestNameCollision(t *testing.T) {
	s := build(t,
		schema.NewEntity("Order").Fields(field.Int("total")),
		schema.NewEntity("order").Fields(field.Int("count")),
	)
	_, err := mapSchema(t, s)
	require.Error(t, err)
	assert.True(t, relvar.IsNameCollision(err))
	var nce *relvar.NameCollisionError
	require.ErrorAs(t, err, &nce)
	assert.Equal(t, "table", nce.Kind)
	assert.Equal(t, "order", nce.Name)
	assert.Equal(t, "Order", nce.First)
	assert.Equal(t, "order", nce.Second)
}

func TestCaseFoldedCollision(t *testing.T) {
	s := build(t, schema.NewEntity("Item").Fields(
		field.String("name"),
		field.String("label").Annotations(sqlschema.Column("Name")),
	))
	_, err := mapSchema(t, s)
	assert.True(t, errors.Is(err, relvar.ErrNameCollision))

	// Case sensitive dialects keep both columns.
	cfg, err := gen.NewConfig(gen.WithDialect(dialect.Defaults(dialect.Postgres)))
	require.NoError(t, err)
	g, err := gen.NewGraph(cfg, s, typemap.New(s, typemap.Postgres))
	require.NoError(t, err)
	item, _ := g.Layout().EntityTable("Item")
	assert.Equal(t, []string{"id", "name", "Name"}, columnNames(item))
}

func TestNamingPolicy(t *testing.T) {
	s := build(t, person())
	g, err := mapSchema(t, s, gen.WithPrefix("hr_"), gen.WithPluralize())
	require.NoError(t, err)
	names := []string{g.Layout().Tables[0].Name, g.Layout().Tables[1].Name}
	assert.Equal(t, []string{"hr_people", "hr_people_reports"}, names)
}

func TestTruncation(t *testing.T) {
	s := build(t, schema.NewEntity("Person").Fields(
		field.String("a_really_long_attribute_name_one"),
		field.String("a_really_long_attribute_name_two"),
	))
	g, err := mapSchema(t, s, gen.WithMaxIdentifierLength(16))
	require.NoError(t, err)
	p := g.Layout().Tables[0]
	require.Len(t, p.Columns, 3)
	one, two := p.Columns[1].Name, p.Columns[2].Name
	assert.Len(t, one, 16)
	assert.Len(t, two, 16)
	assert.NotEqual(t, one, two)
	assert.Equal(t, "Person.a_really_long_attribute_name_one", p.Columns[1].Origin.String())
}

func TestAnnotations(t *testing.T) {
	s := build(t, schema.NewEntity("Person").
		Annotations(sqlschema.Table("staff")).
		Fields(
			field.String("email").Annotations(sqlschema.Size(320), sqlschema.Collation("NOCASE")),
			field.Ref("boss", "Person").Optional().Annotations(sqlschema.OnDelete(sqlschema.SetNull)),
			field.Decimal("salary").Annotations(sqlschema.ColumnTypeFor(dialect.SQLite, "real")),
		).
		Indexes(index.Fields("email").Unique().Annotations(sqlschema.IndexName("staff_email_uq"))),
	)
	g, err := mapSchema(t, s)
	require.NoError(t, err)
	staff := g.Layout().Tables[0]
	assert.Equal(t, "staff", staff.Name)
	email, _ := staff.Column("email")
	assert.EqualValues(t, 320, email.Size)
	assert.Equal(t, "NOCASE", email.Collation)
	salary, _ := staff.Column("salary")
	assert.Equal(t, "real", salary.TypeName)
	require.Len(t, staff.ForeignKeys, 1)
	assert.Equal(t, "SET NULL", staff.ForeignKeys[0].OnDelete)
	require.Len(t, staff.Indexes, 1)
	assert.Equal(t, "staff_email_uq", staff.Indexes[0].Name)
}

func TestChecksAndMaintenance(t *testing.T) {
	s := build(t,
		schema.NewEntity("Person").Fields(
			field.Enum("status", "Status").Values("active", "retired"),
			field.Check("age", "Age", schema.Int, "value >= 0"),
			field.Set("reports", schema.RefTo("Person")),
			field.Maintained("headcount", schema.Int, "count(reports)"),
			field.Derived("label", "name"),
			field.String("name"),
		),
	)
	g, err := mapSchema(t, s)
	require.NoError(t, err)
	p := g.Layout().Tables[0]
	assert.NotContains(t, columnNames(p), "label")
	require.Len(t, p.Checks, 2)
	assert.Equal(t, "status", p.Checks[0].Column)
	assert.Equal(t, "(value = 'active') or (value = 'retired')", p.Checks[0].Expr)
	assert.Equal(t, "person_age_check", p.Checks[1].Name)
	assert.Equal(t, "value >= 0", p.Checks[1].Expr)

	m, ok := g.Layout().Maintenance("Person", "headcount")
	require.True(t, ok)
	assert.Equal(t, "person", m.Table)
	assert.Equal(t, "headcount", m.Column)
	assert.Equal(t, "count(reports)", m.Formula)
	hc, _ := p.Column("headcount")
	assert.Equal(t, layout.RoleMaintained, hc.Origin.Role)
}

func TestUnsupportedTypeAggregated(t *testing.T) {
	s := build(t, schema.NewEntity("Grid").Fields(
		field.List("rows", schema.ListOf(schema.Int)),
		field.Set("cols", schema.SetOf(schema.Int)),
	))
	_, err := mapSchema(t, s)
	require.Error(t, err)
	var agg *relvar.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors, 2)
	assert.True(t, errors.Is(err, relvar.ErrUnsupportedType))
}

func TestNewGraphArguments(t *testing.T) {
	open := schema.New("open")
	cfg, err := gen.NewConfig()
	require.NoError(t, err)
	_, err = gen.NewGraph(cfg, open, typemap.New(open, typemap.Generic))
	assert.True(t, errors.Is(err, relvar.ErrInvalidSchema))
	_, err = gen.NewGraph(nil, open, nil)
	assert.True(t, errors.Is(err, gen.ErrMissingConfig))
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	_, err := mapSchema(t, build(t, person()), gen.WithLogger(logger))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "mapped entity")
	assert.Contains(t, buf.String(), "table=person")

	cfg, err := gen.NewConfig(gen.WithDialect(dialect.Defaults(dialect.SQLite)))
	require.NoError(t, err)
	cfg.Logger = nil
	s := build(t, person())
	_, err = gen.NewGraph(cfg, s, typemap.New(s, typemap.SQLite))
	require.NoError(t, err)
	assert.Nil(t, cfg.Logger)
}
