package field_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/field"
	"github.com/syssam/relvar/schema/formula"
)

func TestScalars(t *testing.T) {
	tests := []struct {
		b    *field.Builder
		want schema.Type
	}{
		{field.Int("a"), schema.Int},
		{field.Float("a"), schema.Float},
		{field.Decimal("a"), schema.Decimal},
		{field.String("a"), schema.String},
		{field.Bool("a"), schema.Bool},
		{field.Time("a"), schema.Time},
		{field.UUID("a"), schema.UUID},
		{field.Bytes("a"), schema.Bytes},
	}
	for _, tt := range tests {
		d := tt.b.Descriptor()
		assert.Equal(t, tt.want, d.Type)
		assert.Equal(t, schema.Original, d.Kind)
		assert.Nil(t, d.Formula)
	}
}

func TestOptionalReference(t *testing.T) {
	d := field.Ref("manager", "Person").Optional().Comment("reports to").Descriptor()
	assert.Equal(t, schema.OptionalRef("Person"), d.Type)
	assert.True(t, d.Optional)
	assert.Equal(t, "reports to", d.Comment)
}

func TestCollections(t *testing.T) {
	assert.Equal(t, schema.SetOf(schema.RefTo("Person")), field.Set("reports", schema.RefTo("Person")).Descriptor().Type)
	assert.Equal(t, schema.ListOf(schema.String), field.List("aliases", schema.String).Descriptor().Type)
	assert.Equal(t, schema.RelationOf("Address"), field.Relation("addresses", "Address").Descriptor().Type)
	assert.Equal(t, schema.TupleOf{Tuple: "Address"}, field.Tuple("home", "Address").Descriptor().Type)
}

func TestDerived(t *testing.T) {
	d := field.Derived("boss", "manager.name").Descriptor()
	assert.Equal(t, schema.Derived, d.Kind)
	assert.Nil(t, d.Type)
	assert.Equal(t, formula.P("manager.name"), d.Formula)
	require.NoError(t, d.Err)

	d = field.Derived("boss", "manager.").Returns(schema.String).Descriptor()
	require.Error(t, d.Err)
	assert.Contains(t, d.Err.Error(), `formula of "boss"`)
	assert.Equal(t, schema.String, d.Type)

	d = field.Derived("x", "1").Expr(formula.Int(2)).Descriptor()
	assert.Equal(t, formula.Int(2), d.Formula)
}

func TestMaintained(t *testing.T) {
	d := field.Maintained("report_count", schema.Int, "count(reports)").Descriptor()
	assert.Equal(t, schema.Maintained, d.Kind)
	assert.Equal(t, schema.Int, d.Type)
	assert.IsType(t, &formula.Count{}, d.Formula)
}

func TestEnumAndCheck(t *testing.T) {
	d := field.Enum("status", "Status").Values("active", "retired").Descriptor()
	assert.Equal(t, schema.Enum{Name: "Status", Values: []string{"active", "retired"}}, d.Type)

	d = field.Check("age", "Age", schema.Int, "value >= 0").Descriptor()
	assert.Equal(t, schema.Constrained{Name: "Age", Base: schema.Int, Check: "value >= 0"}, d.Type)
	require.NoError(t, d.Err)

	d = field.Check("age", "Age", schema.Int, "value >=").Descriptor()
	require.Error(t, d.Err)
}
