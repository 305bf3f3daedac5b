// Package sqlschema provides SQL annotations for relvar schemas.
//
// Functional style:
//
//	field.String("code").Annotations(sqlschema.Size(10))
//	field.Ref("owner", "Person").Annotations(sqlschema.OnDelete(sqlschema.Cascade))
//	schema.NewEntity("Person").Annotations(sqlschema.Table("people"))
//
// Struct literal style:
//
//	sqlschema.Annotation{Size: 10, Collation: "NOCASE"}
//
// Annotations of the same element are merged; later settings win.
package sqlschema

import (
	"github.com/syssam/relvar/schema"
)

// AnnotationName is the name used for SQL annotations.
const AnnotationName = "sql"

// CascadeAction defines the referential action of a foreign key.
type CascadeAction string

const (
	Cascade    CascadeAction = "CASCADE"
	SetNull    CascadeAction = "SET NULL"
	Restrict   CascadeAction = "RESTRICT"
	SetDefault CascadeAction = "SET DEFAULT"
	NoAction   CascadeAction = "NO ACTION"
)

// Annotation holds SQL settings for entities, attributes and keys.
type Annotation struct {
	// Table overrides the generated table name of an entity, or of the
	// auxiliary table of a collection attribute.
	Table string

	// Column overrides the generated column name of a scalar attribute.
	Column string

	// Size sets the column size, e.g. VARCHAR(Size).
	Size int64

	// ColumnType sets a custom column type for every dialect.
	ColumnType string

	// ColumnTypes sets custom column types per dialect name.
	ColumnTypes map[string]string

	// Collation sets the collation of string columns.
	Collation string

	// Default is the SQL literal default value.
	Default string

	// OnDelete sets the ON DELETE action of reference foreign keys.
	OnDelete CascadeAction

	// OnUpdate sets the ON UPDATE action of reference foreign keys.
	OnUpdate CascadeAction

	// IndexName overrides the generated name of a key's index.
	IndexName string
}

// Name implements schema.Annotation.
func (Annotation) Name() string {
	return AnnotationName
}

// Merge implements schema.Merger.
func (a Annotation) Merge(other schema.Annotation) schema.Annotation {
	switch o := other.(type) {
	case Annotation:
		return Merge(a, o)
	case *Annotation:
		if o != nil {
			return Merge(a, *o)
		}
	}
	return a
}

var (
	_ schema.Annotation = (*Annotation)(nil)
	_ schema.Merger     = Annotation{}
)

// Table sets the table name of an entity or collection attribute.
func Table(name string) Annotation {
	return Annotation{Table: name}
}

// Column sets the column name of an attribute.
func Column(name string) Annotation {
	return Annotation{Column: name}
}

// Size sets the column size override.
func Size(size int64) Annotation {
	return Annotation{Size: size}
}

// ColumnType sets a custom column type.
func ColumnType(typ string) Annotation {
	return Annotation{ColumnType: typ}
}

// ColumnTypeFor sets a custom column type for one dialect.
func ColumnTypeFor(dialect, typ string) Annotation {
	return Annotation{ColumnTypes: map[string]string{dialect: typ}}
}

// Collation sets the collation of a string column.
func Collation(c string) Annotation {
	return Annotation{Collation: c}
}

// Default sets a literal default value.
func Default(value string) Annotation {
	return Annotation{Default: value}
}

// OnDelete sets the ON DELETE action of a reference.
func OnDelete(action CascadeAction) Annotation {
	return Annotation{OnDelete: action}
}

// OnUpdate sets the ON UPDATE action of a reference.
func OnUpdate(action CascadeAction) Annotation {
	return Annotation{OnUpdate: action}
}

// IndexName sets the physical name of a key's index.
func IndexName(name string) Annotation {
	return Annotation{IndexName: name}
}

// TypeFor returns the custom column type for the dialect, if any.
func (a Annotation) TypeFor(dialect string) string {
	if t, ok := a.ColumnTypes[dialect]; ok {
		return t
	}
	return a.ColumnType
}

// Merge combines annotations. Later annotations override earlier ones.
func Merge(annotations ...Annotation) Annotation {
	result := Annotation{}
	for _, a := range annotations {
		if a.Table != "" {
			result.Table = a.Table
		}
		if a.Column != "" {
			result.Column = a.Column
		}
		if a.Size != 0 {
			result.Size = a.Size
		}
		if a.ColumnType != "" {
			result.ColumnType = a.ColumnType
		}
		for d, t := range a.ColumnTypes {
			if result.ColumnTypes == nil {
				result.ColumnTypes = make(map[string]string)
			}
			result.ColumnTypes[d] = t
		}
		if a.Collation != "" {
			result.Collation = a.Collation
		}
		if a.Default != "" {
			result.Default = a.Default
		}
		if a.OnDelete != "" {
			result.OnDelete = a.OnDelete
		}
		if a.OnUpdate != "" {
			result.OnUpdate = a.OnUpdate
		}
		if a.IndexName != "" {
			result.IndexName = a.IndexName
		}
	}
	return result
}

// From extracts the SQL annotation of an element. It returns the zero
// Annotation when none is attached.
func From(ann schema.Annotation) Annotation {
	switch a := ann.(type) {
	case Annotation:
		return a
	case *Annotation:
		if a != nil {
			return *a
		}
	}
	return Annotation{}
}
