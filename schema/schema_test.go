package schema_test

import (
	"errors"
	"testing"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/field"
	"github.com/syssam/relvar/schema/index"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommentAnnotation(t *testing.T) {
	ann := schema.Comment("Person is a member of staff.")
	require.NotNil(t, ann)
	assert.Equal(t, "Person is a member of staff.", ann.Text)
	assert.Equal(t, "Comment", ann.Name())
	var _ schema.Annotation = (*schema.CommentAnnotation)(nil)
}

type mockMerger struct {
	values []string
}

func (*mockMerger) Name() string { return "mock" }

func (m *mockMerger) Merge(other schema.Annotation) schema.Annotation {
	if o, ok := other.(*mockMerger); ok {
		return &mockMerger{values: append(append([]string{}, m.values...), o.values...)}
	}
	return m
}

func TestAnnotationMerge(t *testing.T) {
	a := field.String("name").
		Annotations(&mockMerger{values: []string{"a"}}, &mockMerger{values: []string{"b"}}).
		Descriptor()
	got, ok := a.Annotation("mock").(*mockMerger)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got.values)
	assert.Nil(t, a.Annotation("missing"))
}

func person() *schema.EntityBuilder {
	return schema.NewEntity("Person").Fields(
		field.String("name"),
		field.Ref("manager", "Person").Optional(),
		field.Set("reports", schema.RefTo("Person")),
	)
}

func TestBuildImplicitIdentifier(t *testing.T) {
	s, err := schema.Build("hr", person())
	require.NoError(t, err)
	require.True(t, s.Closed())

	e, ok := s.Entity("Person")
	require.True(t, ok)
	require.Len(t, e.Attributes, 4)
	id := e.Attributes[0]
	assert.Equal(t, "id", id.Name)
	assert.True(t, id.Implicit)
	assert.Equal(t, schema.Int, id.Type)
	assert.Equal(t, []string{"id"}, e.Identifier().Attributes)
	assert.Same(t, s, e.Schema())

	manager, _ := e.Attribute("manager")
	assert.True(t, manager.Nullable())
	assert.Equal(t, schema.OptionalRef("Person"), manager.Type)
	name, _ := e.Attribute("name")
	assert.False(t, name.Nullable())
}

func TestExplicitIdentifier(t *testing.T) {
	s, err := schema.Build("geo",
		schema.NewEntity("Country").
			Fields(field.String("iso"), field.String("name")).
			Indexes(index.Fields("iso").Identifying(), index.Fields("name").Unique()),
		schema.NewEntity("Thing").Fields(field.UUID("id")),
	)
	require.NoError(t, err)

	country, _ := s.Entity("Country")
	assert.Len(t, country.Attributes, 2)
	assert.Equal(t, []string{"iso"}, country.Identifier().Attributes)
	assert.Equal(t, "name", country.Keys[1].Name)

	thing, _ := s.Entity("Thing")
	require.Len(t, thing.Attributes, 1)
	assert.False(t, thing.Attributes[0].Implicit)
	assert.Equal(t, []string{"id"}, thing.Identifier().Attributes)
}

func TestClosedSchemaIsImmutable(t *testing.T) {
	s, err := schema.Build("hr", person())
	require.NoError(t, err)
	err = s.Add(schema.NewEntity("Team"))
	require.ErrorIs(t, err, relvar.ErrSchemaClosed)
	require.NoError(t, s.Close())
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		defs   []schema.Definer
		target error
		msg    string
	}{
		{
			name: "duplicate_entity",
			defs: []schema.Definer{
				schema.NewEntity("A"), schema.NewEntity("A"),
			},
			target: relvar.ErrInvalidSchema,
			msg:    `entity "A" already declared as entity`,
		},
		{
			name: "entity_and_tuple",
			defs: []schema.Definer{
				schema.NewTuple("A").Fields(field.Int("x")), schema.NewEntity("A"),
			},
			target: relvar.ErrInvalidSchema,
			msg:    `entity "A" already declared as tuple`,
		},
		{
			name:   "unknown_reference",
			defs:   []schema.Definer{schema.NewEntity("A").Fields(field.Ref("b", "B"))},
			target: relvar.ErrUnresolvedReference,
			msg:    `unresolved reference at s.A.b: "B"`,
		},
		{
			name:   "unknown_tuple",
			defs:   []schema.Definer{schema.NewEntity("A").Fields(field.Relation("rows", "Row"))},
			target: relvar.ErrUnresolvedReference,
			msg:    `"Row"`,
		},
		{
			name:   "duplicate_attribute",
			defs:   []schema.Definer{schema.NewEntity("A").Fields(field.Int("x"), field.String("x"))},
			target: relvar.ErrInvalidSchema,
			msg:    "s.A.x: duplicate attribute",
		},
		{
			name:   "bad_formula",
			defs:   []schema.Definer{schema.NewEntity("A").Fields(field.Derived("x", "1 +"))},
			target: relvar.ErrInvalidSchema,
			msg:    "formula syntax error",
		},
		{
			name:   "maintained_without_type",
			defs:   []schema.Definer{schema.NewEntity("A").Fields(field.Maintained("x", nil, "1"))},
			target: relvar.ErrInvalidSchema,
			msg:    "maintained attribute requires a declared type",
		},
		{
			name: "two_identifying_keys",
			defs: []schema.Definer{schema.NewEntity("A").
				Fields(field.Int("x"), field.Int("y")).
				Indexes(index.Fields("x").Identifying(), index.Fields("y").Identifying())},
			target: relvar.ErrInvalidSchema,
			msg:    "exactly one identifying key, found 2",
		},
		{
			name: "key_on_collection",
			defs: []schema.Definer{schema.NewEntity("A").
				Fields(field.List("xs", schema.Int)).
				Indexes(index.Fields("xs").Unique())},
			target: relvar.ErrInvalidSchema,
			msg:    "collection attribute cannot be part of key",
		},
		{
			name: "key_on_unknown",
			defs: []schema.Definer{schema.NewEntity("A").
				Indexes(index.Fields("nope").Unique())},
			target: relvar.ErrUnresolvedReference,
			msg:    `"nope" in scope key nope`,
		},
		{
			name: "optional_identifier",
			defs: []schema.Definer{schema.NewEntity("A").
				Fields(field.String("code").Optional()).
				Indexes(index.Fields("code").Identifying())},
			target: relvar.ErrInvalidSchema,
			msg:    "optional attribute cannot be part of identifying key",
		},
		{
			name: "empty_enum",
			defs: []schema.Definer{schema.NewEntity("A").
				Fields(field.Enum("status", "Status").Builder)},
			target: relvar.ErrInvalidSchema,
			msg:    "enum Status has no values",
		},
		{
			name: "self_containing_tuple",
			defs: []schema.Definer{
				schema.NewTuple("Node").Fields(field.Tuple("next", "Node")),
			},
			target: relvar.ErrInvalidSchema,
			msg:    "tuple contains itself",
		},
		{
			name:   "invalid_name",
			defs:   []schema.Definer{schema.NewEntity("1st")},
			target: relvar.ErrInvalidSchema,
			msg:    `invalid entity name "1st"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.Build("s", tt.defs...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), err.Error())
			assert.Contains(t, err.Error(), tt.msg)
			assert.True(t, relvar.IsModelError(err))
		})
	}
}

func TestDeclaredTypes(t *testing.T) {
	email := schema.Constrained{Name: "Email", Base: schema.String, Check: "value ~ '@'"}
	s, err := schema.Build("crm",
		schema.DeclareType(email),
		schema.DeclareType(schema.Enum{Name: "Tier", Values: []string{"gold", "silver"}}),
		schema.NewEntity("Customer").Fields(field.Of("email", email)),
	)
	require.NoError(t, err)
	got, ok := s.DeclaredType("Email")
	require.True(t, ok)
	assert.Equal(t, email, got)
	_, ok = s.DeclaredType("Tier")
	assert.True(t, ok)
	_, ok = s.DeclaredType("Nope")
	assert.False(t, ok)

	_, err = schema.Build("crm", schema.DeclareType(schema.Int))
	require.Error(t, err)
}

func TestTypeStrings(t *testing.T) {
	tests := []struct {
		typ  schema.Type
		want string
	}{
		{schema.Int, "int"},
		{schema.RefTo("Person"), "ref<Person>"},
		{schema.OptionalRef("Person"), "ref<Person>?"},
		{schema.SetOf(schema.RefTo("Person")), "set<ref<Person>>"},
		{schema.ListOf(schema.String), "list<string>"},
		{schema.RelationOf("Address"), "relation<Address>"},
		{schema.TupleOf{Tuple: "Address"}, "tuple<Address>"},
		{schema.Constrained{Name: "Age", Base: schema.Int}, "Age<int>"},
		{schema.Enum{Name: "Tier", Values: []string{"a", "b"}}, "enum<Tier:a|b>"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.typ.String())
	}
	assert.True(t, schema.IsCollection(schema.RelationOf("Address")))
	assert.False(t, schema.IsCollection(schema.RefTo("A")))
	elem, ok := schema.Elem(schema.RelationOf("Address"))
	require.True(t, ok)
	assert.Equal(t, schema.TupleOf{Tuple: "Address"}, elem)
	assert.Equal(t, schema.KindString, schema.ScalarKind(schema.Enum{Name: "E"}))
	assert.Equal(t, schema.KindInt, schema.ScalarKind(schema.Constrained{Base: schema.Int}))
	assert.True(t, schema.Equal(schema.Int, schema.Scalar{Kind: schema.KindInt}))
	k, ok := schema.ParseKind("UUID")
	assert.True(t, ok)
	assert.Equal(t, schema.KindUUID, k)
}
