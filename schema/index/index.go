// Package index provides builders for entity keys and indexes.
//
//	index.Fields("code").Identifying()      // primary key
//	index.Fields("email").Unique()          // unique constraint
//	index.Fields("last", "first")           // plain index
package index

import (
	"errors"

	"github.com/syssam/relvar/schema"
)

// Builder builds a key descriptor.
type Builder struct {
	desc *schema.Key
}

// Fields returns a builder for a key over the given attributes.
func Fields(attrs ...string) *Builder {
	b := &Builder{desc: &schema.Key{Attributes: attrs}}
	if len(attrs) == 0 {
		b.desc.Err = errors.New("index requires at least one attribute")
	}
	return b
}

// Unique makes the key a uniqueness constraint.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// Identifying makes the key the entity's identifying key. Identifying keys
// are unique.
func (b *Builder) Identifying() *Builder {
	b.desc.Identifying = true
	b.desc.Unique = true
	return b
}

// Name sets the logical key name. It defaults to the attribute names
// joined by underscores.
func (b *Builder) Name(name string) *Builder {
	b.desc.Name = name
	return b
}

// Annotations attaches annotations to the key.
func (b *Builder) Annotations(anns ...schema.Annotation) *Builder {
	b.desc.Annotations = append(b.desc.Annotations, anns...)
	return b
}

// Descriptor implements schema.Index.
func (b *Builder) Descriptor() *schema.Key {
	return b.desc
}
