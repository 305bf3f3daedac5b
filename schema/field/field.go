package field

import (
	"fmt"

	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/formula"
)

// Builder builds an attribute descriptor.
type Builder struct {
	desc *schema.Attribute
}

// Of returns a builder for an original attribute of any type.
func Of(name string, t schema.Type) *Builder {
	return &Builder{desc: &schema.Attribute{Name: name, Type: t}}
}

// Int returns a builder for an integer attribute.
func Int(name string) *Builder { return Of(name, schema.Int) }

// Float returns a builder for a floating point attribute.
func Float(name string) *Builder { return Of(name, schema.Float) }

// Decimal returns a builder for an exact numeric attribute.
func Decimal(name string) *Builder { return Of(name, schema.Decimal) }

// String returns a builder for a string attribute.
func String(name string) *Builder { return Of(name, schema.String) }

// Bool returns a builder for a boolean attribute.
func Bool(name string) *Builder { return Of(name, schema.Bool) }

// Time returns a builder for a timestamp attribute.
func Time(name string) *Builder { return Of(name, schema.Time) }

// UUID returns a builder for a UUID attribute.
func UUID(name string) *Builder { return Of(name, schema.UUID) }

// Bytes returns a builder for a binary attribute.
func Bytes(name string) *Builder { return Of(name, schema.Bytes) }

// Ref returns a builder for a reference to another entity.
func Ref(name, entity string) *Builder { return Of(name, schema.RefTo(entity)) }

// List returns a builder for an ordered collection.
func List(name string, elem schema.Type) *Builder { return Of(name, schema.ListOf(elem)) }

// Set returns a builder for an unordered collection without duplicates.
func Set(name string, elem schema.Type) *Builder { return Of(name, schema.SetOf(elem)) }

// Relation returns a builder for a set of tuples.
func Relation(name, tuple string) *Builder { return Of(name, schema.RelationOf(tuple)) }

// Tuple returns a builder for an inline tuple value.
func Tuple(name, tuple string) *Builder { return Of(name, schema.TupleOf{Tuple: tuple}) }

// Derived returns a builder for an attribute computed on read. The result
// type is inferred from the formula unless declared with Returns.
func Derived(name, src string) *Builder {
	b := &Builder{desc: &schema.Attribute{Name: name, Kind: schema.Derived}}
	return b.formula(src)
}

// Maintained returns a builder for a stored attribute refreshed from its
// formula.
func Maintained(name string, t schema.Type, src string) *Builder {
	b := &Builder{desc: &schema.Attribute{Name: name, Type: t, Kind: schema.Maintained}}
	return b.formula(src)
}

func (b *Builder) formula(src string) *Builder {
	x, err := formula.Parse(src)
	if err != nil {
		b.desc.Err = fmt.Errorf("formula of %q: %w", b.desc.Name, err)
		return b
	}
	b.desc.Formula = x
	return b
}

// Expr sets the formula from an expression tree.
func (b *Builder) Expr(x formula.Expr) *Builder {
	b.desc.Formula = x
	return b
}

// Returns declares the result type of a derived attribute.
func (b *Builder) Returns(t schema.Type) *Builder {
	b.desc.Type = t
	return b
}

// Optional marks the attribute as not required. Optional references have
// cardinality zero-or-one.
func (b *Builder) Optional() *Builder {
	b.desc.Optional = true
	if r, ok := b.desc.Type.(schema.Reference); ok {
		r.Card = schema.ZeroOrOne
		b.desc.Type = r
	}
	return b
}

// Comment sets the attribute comment.
func (b *Builder) Comment(c string) *Builder {
	b.desc.Comment = c
	return b
}

// Annotations attaches annotations to the attribute.
func (b *Builder) Annotations(anns ...schema.Annotation) *Builder {
	b.desc.Annotations = append(b.desc.Annotations, anns...)
	return b
}

// Descriptor implements schema.Field.
func (b *Builder) Descriptor() *schema.Attribute {
	return b.desc
}

// EnumBuilder builds an enumeration attribute.
type EnumBuilder struct {
	*Builder
	typ schema.Enum
}

// Enum returns a builder for an attribute of the named enumeration type.
func Enum(name, typeName string) *EnumBuilder {
	e := &EnumBuilder{typ: schema.Enum{Name: typeName}}
	e.Builder = Of(name, e.typ)
	return e
}

// Values sets the enumeration values.
func (e *EnumBuilder) Values(values ...string) *EnumBuilder {
	e.typ.Values = append(e.typ.Values, values...)
	e.desc.Type = e.typ
	return e
}

// Check returns a builder for an attribute of a constrained type: base
// restricted by a formula over value.
//
//	field.Check("age", "Age", schema.Int, "value >= 0")
func Check(name, typeName string, base schema.Scalar, check string) *Builder {
	b := Of(name, schema.Constrained{Name: typeName, Base: base, Check: check})
	if _, err := formula.Parse(check); err != nil {
		b.desc.Err = fmt.Errorf("check of type %q: %w", typeName, err)
	}
	return b
}
