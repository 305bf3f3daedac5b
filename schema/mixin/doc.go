// Package mixin provides reusable groups of attributes and keys.
//
// A mixin embeds Schema and overrides the methods it needs:
//
//	type Audit struct{ mixin.Schema }
//
//	func (Audit) Fields() []schema.Field {
//		return []schema.Field{
//			field.String("created_by"),
//			field.String("updated_by").Optional(),
//		}
//	}
//
// and is attached to entities with EntityBuilder.Mixin:
//
//	schema.NewEntity("Invoice").Mixin(mixin.Time{}, Audit{})
//
// Mixin attributes are placed before the entity's own attributes.
package mixin
