package mixin

import (
	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/field"
	"github.com/syssam/relvar/schema/index"
)

// Schema is the default implementation of schema.Mixin. Embed it in custom
// mixins.
type Schema struct{}

// Fields returns the attributes of the mixin.
func (Schema) Fields() []schema.Field { return nil }

// Indexes returns the keys of the mixin.
func (Schema) Indexes() []schema.Index { return nil }

var _ schema.Mixin = (*Schema)(nil)

// Time adds created_at and updated_at timestamps.
type Time struct {
	Schema
}

// Fields returns the timestamp attributes.
func (Time) Fields() []schema.Field {
	return []schema.Field{
		field.Time("created_at").
			Comment("Timestamp when the entity was created"),
		field.Time("updated_at").
			Comment("Timestamp when the entity was last updated"),
	}
}

// SoftDelete adds an optional deleted_at timestamp.
type SoftDelete struct {
	Schema
}

// Fields returns the soft delete attribute.
func (SoftDelete) Fields() []schema.Field {
	return []schema.Field{
		field.Time("deleted_at").
			Optional().
			Comment("Timestamp when the entity was soft deleted"),
	}
}

// Code identifies an entity by a natural string key named code instead of
// the implicit integer identifier.
type Code struct {
	Schema
}

// Fields returns the code attribute.
func (Code) Fields() []schema.Field {
	return []schema.Field{
		field.String("code"),
	}
}

// Indexes makes code the identifying key.
func (Code) Indexes() []schema.Index {
	return []schema.Index{
		index.Fields("code").Identifying(),
	}
}

// AnnotateFields wraps a mixin and adds annotations to all its attributes.
func AnnotateFields(m schema.Mixin, annotations ...schema.Annotation) schema.Mixin {
	return fieldAnnotator{Mixin: m, annotations: annotations}
}

type fieldAnnotator struct {
	schema.Mixin
	annotations []schema.Annotation
}

func (a fieldAnnotator) Fields() []schema.Field {
	fields := a.Mixin.Fields()
	for i := range fields {
		desc := fields[i].Descriptor()
		desc.Annotations = append(desc.Annotations, a.annotations...)
	}
	return fields
}
