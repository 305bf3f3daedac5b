package load_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/compiler"
	"github.com/syssam/relvar/compiler/load"
	"github.com/syssam/relvar/dialect"
	"github.com/syssam/relvar/dialect/sqlschema"
	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/field"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	s, err := load.LoadFile("testdata/hr.yaml")
	require.NoError(t, err)
	require.True(t, s.Closed())
	assert.Equal(t, "hr", s.Name)
	require.Len(t, s.Types, 2)
	require.Len(t, s.Tuples, 1)

	dept, ok := s.Entity("Department")
	require.True(t, ok)
	assert.Equal(t, []string{"code"}, dept.Identifier().Attributes)

	person, ok := s.Entity("Person")
	require.True(t, ok)
	assert.Equal(t, "An employee.", person.Comment)
	assert.Equal(t, "people", sqlschema.From(person.Annotations[0]).Table)
	assert.True(t, person.Attributes[0].Implicit)
	assert.Equal(t, "created_at", person.Attributes[1].Name)

	tests := []struct {
		attr string
		typ  schema.Type
		kind schema.AttrKind
	}{
		{"salary", schema.Constrained{Name: "Money", Base: schema.Decimal, Check: "value >= 0"}, schema.Original},
		{"status", schema.Enum{Name: "Status", Values: []string{"active", "retired"}}, schema.Original},
		{"manager", schema.OptionalRef("Person"), schema.Original},
		{"reports", schema.SetOf(schema.RefTo("Person")), schema.Original},
		{"home", schema.TupleOf{Tuple: "Address"}, schema.Original},
		{"boss", nil, schema.Derived},
		{"headcount", schema.Int, schema.Maintained},
	}
	for _, tt := range tests {
		a, ok := person.Attribute(tt.attr)
		require.True(t, ok, tt.attr)
		assert.Equal(t, tt.typ, a.Type, tt.attr)
		assert.Equal(t, tt.kind, a.Kind, tt.attr)
	}
	boss, _ := person.Attribute("boss")
	assert.Equal(t, "manager.name", boss.Formula.String())
	manager, _ := person.Attribute("manager")
	assert.True(t, manager.Optional)
	name, _ := person.Attribute("name")
	assert.Equal(t, int64(100), sqlschema.From(name.Annotations[0]).Size)
	department, _ := person.Attribute("department")
	assert.Equal(t, sqlschema.Cascade, sqlschema.From(department.Annotations[0]).OnDelete)

	_, err = load.LoadFile("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		target error
		msg    string
	}{
		{
			name:   "Empty",
			doc:    "",
			target: relvar.ErrInvalidSchema,
			msg:    "empty schema document",
		},
		{
			name:   "UnknownKey",
			doc:    "schema: hr\nentities:\n  - name: Person\n    nick: p\n",
			target: relvar.ErrInvalidSchema,
			msg:    "field nick not found",
		},
		{
			name:   "NoName",
			doc:    "entities:\n  - name: Person\n",
			target: relvar.ErrInvalidSchema,
			msg:    "schema name is required",
		},
		{
			name:   "UnknownType",
			doc:    "schema: hr\nentities:\n  - name: Person\n    fields:\n      - name: salary\n        type: Money\n",
			target: relvar.ErrUnresolvedReference,
			msg:    `"Money"`,
		},
		{
			name:   "UnknownEntity",
			doc:    "schema: hr\nentities:\n  - name: Person\n    fields:\n      - name: team\n        type: ref<Team>\n",
			target: relvar.ErrUnresolvedReference,
			msg:    `"Team"`,
		},
		{
			name:   "OptionalList",
			doc:    "schema: hr\nentities:\n  - name: Person\n    fields:\n      - name: tags\n        type: list<string>?\n",
			target: relvar.ErrInvalidSchema,
			msg:    "only references can be optional",
		},
		{
			name:   "Malformed",
			doc:    "schema: hr\nentities:\n  - name: Person\n    fields:\n      - name: tags\n        type: list<string\n",
			target: relvar.ErrInvalidSchema,
			msg:    `malformed type "list<string"`,
		},
		{
			name:   "MissingType",
			doc:    "schema: hr\nentities:\n  - name: Person\n    fields:\n      - name: age\n",
			target: relvar.ErrInvalidSchema,
			msg:    "attribute type is required",
		},
		{
			name:   "DerivedAndMaintained",
			doc:    "schema: hr\nentities:\n  - name: Person\n    fields:\n      - name: n\n        type: int\n        derived: id\n        maintained: id\n",
			target: relvar.ErrInvalidSchema,
			msg:    "both derived and maintained",
		},
		{
			name:   "UnknownMixin",
			doc:    "schema: hr\nentities:\n  - name: Person\n    mixins: [audit]\n",
			target: relvar.ErrInvalidSchema,
			msg:    `unknown mixin "audit"`,
		},
		{
			name:   "UnknownAction",
			doc:    "schema: hr\nentities:\n  - name: Person\n    fields:\n      - name: boss\n        type: ref<Person>\n        sql: {on_delete: EXPLODE}\n",
			target: relvar.ErrInvalidSchema,
			msg:    `unknown referential action "EXPLODE"`,
		},
		{
			name:   "TypeShape",
			doc:    "schema: hr\ntypes:\n  - name: Money\n",
			target: relvar.ErrInvalidSchema,
			msg:    "needs a base or values",
		},
		{
			name:   "BadCheck",
			doc:    "schema: hr\ntypes:\n  - name: Money\n    base: decimal\n    check: value >=\n",
			target: relvar.ErrInvalidSchema,
			msg:    "Money",
		},
		{
			name:   "BadFormula",
			doc:    "schema: hr\nentities:\n  - name: Person\n    fields:\n      - name: boss\n        derived: 'count('\n",
			target: relvar.ErrInvalidSchema,
			msg:    "boss",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load.Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestMarshal(t *testing.T) {
	s, err := schema.Build("shop", schema.NewEntity("Order").Fields(
		field.Enum("state", "State").Values("open", "closed"),
		field.Check("total", "Money", schema.Decimal, "value >= 0"),
		field.List("tags", schema.String),
		field.Derived("expensive", "total > 100"),
	))
	require.NoError(t, err)
	out, err := load.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "name: id\n")

	doc, err := load.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Len(t, doc.Types, 2)
	assert.Equal(t, "State", doc.Types[0].Name)
	assert.Equal(t, []string{"open", "closed"}, doc.Types[0].Values)
	assert.Equal(t, "decimal", doc.Types[1].Base)
	fields := doc.Entities[0].Fields
	require.Len(t, fields, 4)
	assert.Equal(t, "State", fields[0].Type)
	assert.Equal(t, "list<string>", fields[2].Type)
	assert.Empty(t, fields[3].Type)
	assert.Equal(t, "total > 100", fields[3].Derived)
	assert.Empty(t, doc.Entities[0].Keys)

	loaded, err := load.Parse(out)
	require.NoError(t, err)
	order, ok := loaded.Entity("Order")
	require.True(t, ok)
	state, ok := order.Attribute("state")
	require.True(t, ok)
	assert.Equal(t, schema.Enum{Name: "State", Values: []string{"open", "closed"}}, state.Type)
}

func TestRoundTrip(t *testing.T) {
	s, err := load.LoadFile("testdata/hr.yaml")
	require.NoError(t, err)
	first, err := load.Marshal(s)
	require.NoError(t, err)
	again, err := load.Parse(first)
	require.NoError(t, err)
	second, err := load.Marshal(again)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), "fields: [code]")
}

func TestCompileLoaded(t *testing.T) {
	s, err := load.LoadFile("testdata/hr.yaml")
	require.NoError(t, err)
	res, err := compiler.Compile(context.Background(), s, compiler.WithDialect(dialect.Postgres))
	if err != nil {
		require.True(t, relvar.IsDialectError(err), err)
	}
	require.NotNil(t, res)
	tbl, ok := res.Layout.EntityTable("Person")
	require.True(t, ok)
	assert.Equal(t, "people", tbl.Name)
	_, ok = res.Query("Person.boss")
	assert.True(t, ok)
	require.Len(t, res.Refresh, 1)
}
