package schema

import (
	"fmt"
	"strings"

	"github.com/syssam/relvar"
)

// Field is implemented by attribute builders, see the field package.
type Field interface {
	Descriptor() *Attribute
}

// Index is implemented by key builders, see the index package.
type Index interface {
	Descriptor() *Key
}

// Mixin is a reusable group of attributes and keys.
type Mixin interface {
	Fields() []Field
	Indexes() []Index
}

// Definer is a top level schema definition: an entity, a tuple or a
// declared type.
type Definer interface {
	define(*Schema) error
}

// EntityBuilder declares an entity.
type EntityBuilder struct {
	name    string
	fields  []Field
	indexes []Index
	mixins  []Mixin
	anns    []Annotation
	comment string
}

// NewEntity starts the declaration of an entity.
//
//	schema.NewEntity("Person").Fields(
//		field.String("name"),
//		field.Ref("manager", "Person").Optional(),
//	)
func NewEntity(name string) *EntityBuilder {
	return &EntityBuilder{name: name}
}

// Fields appends attributes.
func (b *EntityBuilder) Fields(fields ...Field) *EntityBuilder {
	b.fields = append(b.fields, fields...)
	return b
}

// Indexes appends keys and indexes.
func (b *EntityBuilder) Indexes(indexes ...Index) *EntityBuilder {
	b.indexes = append(b.indexes, indexes...)
	return b
}

// Mixin appends mixins. Mixin attributes precede the entity's own.
func (b *EntityBuilder) Mixin(mixins ...Mixin) *EntityBuilder {
	b.mixins = append(b.mixins, mixins...)
	return b
}

// Annotations attaches annotations to the entity.
func (b *EntityBuilder) Annotations(anns ...Annotation) *EntityBuilder {
	b.anns = append(b.anns, anns...)
	return b
}

// Comment sets the entity comment.
func (b *EntityBuilder) Comment(c string) *EntityBuilder {
	b.comment = c
	return b
}

func (b *EntityBuilder) define(s *Schema) error {
	if b.name == "" {
		return &relvar.SchemaError{Location: relvar.Location{Schema: s.Name}, Message: "entity", Cause: errNoName}
	}
	e := &Entity{Name: b.name, Annotations: b.anns, Comment: b.comment, schema: s}
	for _, m := range b.mixins {
		for _, f := range m.Fields() {
			e.Attributes = append(e.Attributes, f.Descriptor())
		}
		for _, i := range m.Indexes() {
			e.Keys = append(e.Keys, i.Descriptor())
		}
	}
	for _, f := range b.fields {
		e.Attributes = append(e.Attributes, f.Descriptor())
	}
	for _, i := range b.indexes {
		e.Keys = append(e.Keys, i.Descriptor())
	}
	for _, k := range e.Keys {
		if k.Name == "" {
			k.Name = keyName(k)
		}
	}
	s.Entities = append(s.Entities, e)
	return nil
}

func keyName(k *Key) string {
	return strings.Join(k.Attributes, "_")
}

// TupleBuilder declares a tuple type.
type TupleBuilder struct {
	name   string
	fields []Field
}

// NewTuple starts the declaration of a tuple type.
func NewTuple(name string) *TupleBuilder {
	return &TupleBuilder{name: name}
}

// Fields appends tuple fields.
func (b *TupleBuilder) Fields(fields ...Field) *TupleBuilder {
	b.fields = append(b.fields, fields...)
	return b
}

func (b *TupleBuilder) define(s *Schema) error {
	if b.name == "" {
		return &relvar.SchemaError{Location: relvar.Location{Schema: s.Name}, Message: "tuple", Cause: errNoName}
	}
	t := &Tuple{Name: b.name}
	for _, f := range b.fields {
		t.Attributes = append(t.Attributes, f.Descriptor())
	}
	s.Tuples = append(s.Tuples, t)
	return nil
}

// TypeDecl declares a named Constrained or Enum type at the schema level.
type TypeDecl struct {
	Type Type
}

// DeclareType returns a declaration of a named type.
func DeclareType(t Type) TypeDecl {
	return TypeDecl{Type: t}
}

func (d TypeDecl) define(s *Schema) error {
	switch d.Type.(type) {
	case Constrained, Enum:
		s.Types = append(s.Types, d.Type)
		return nil
	default:
		return relvar.NewSchemaError(relvar.Location{Schema: s.Name}, "cannot declare %v as a named type", d.Type)
	}
}

// String implements fmt.Stringer.
func (d TypeDecl) String() string {
	return fmt.Sprintf("type %s", d.Type)
}
