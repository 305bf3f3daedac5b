package load

import (
	"bytes"
	"fmt"
	"reflect"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/syssam/relvar/dialect/sqlschema"
	"github.com/syssam/relvar/schema"
)

// Schema is the document form of a schema.
type Schema struct {
	Name     string    `yaml:"schema"`
	Types    []*Type   `yaml:"types,omitempty"`
	Tuples   []*Tuple  `yaml:"tuples,omitempty"`
	Entities []*Entity `yaml:"entities,omitempty"`
}

// Type declares a named type: a constrained scalar when Base is set, an
// enumeration when Values is set.
type Type struct {
	Name   string   `yaml:"name"`
	Base   string   `yaml:"base,omitempty"`
	Check  string   `yaml:"check,omitempty"`
	Values []string `yaml:"values,omitempty"`
}

// Tuple declares a tuple type.
type Tuple struct {
	Name   string   `yaml:"name"`
	Fields []*Field `yaml:"fields"`
}

// Entity declares an entity.
type Entity struct {
	Name    string   `yaml:"name"`
	Comment string   `yaml:"comment,omitempty"`
	Mixins  []string `yaml:"mixins,omitempty"`
	SQL     *SQL     `yaml:"sql,omitempty"`
	Fields  []*Field `yaml:"fields,omitempty"`
	Keys    []*Key   `yaml:"keys,omitempty"`
}

// Field declares an attribute. Type holds the canonical spelling of the
// attribute type, or the name of a declared type. At most one of Derived
// and Maintained holds a formula.
type Field struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type,omitempty"`
	Optional   bool   `yaml:"optional,omitempty"`
	Comment    string `yaml:"comment,omitempty"`
	Derived    string `yaml:"derived,omitempty"`
	Maintained string `yaml:"maintained,omitempty"`
	SQL        *SQL   `yaml:"sql,omitempty"`
}

// Key declares a key or a plain index.
type Key struct {
	Fields      []string `yaml:"fields,flow"`
	Name        string   `yaml:"name,omitempty"`
	Unique      bool     `yaml:"unique,omitempty"`
	Identifying bool     `yaml:"identifying,omitempty"`
	SQL         *SQL     `yaml:"sql,omitempty"`
}

// SQL is the document form of sqlschema.Annotation.
type SQL struct {
	Table     string            `yaml:"table,omitempty"`
	Column    string            `yaml:"column,omitempty"`
	Size      int64             `yaml:"size,omitempty"`
	Type      string            `yaml:"type,omitempty"`
	Types     map[string]string `yaml:"types,omitempty"`
	Collation string            `yaml:"collation,omitempty"`
	Default   string            `yaml:"default,omitempty"`
	OnDelete  string            `yaml:"on_delete,omitempty"`
	OnUpdate  string            `yaml:"on_update,omitempty"`
	IndexName string            `yaml:"index_name,omitempty"`
}

// Annotation returns the annotation described by s.
func (s *SQL) Annotation() (sqlschema.Annotation, error) {
	a := sqlschema.Annotation{
		Table:       s.Table,
		Column:      s.Column,
		Size:        s.Size,
		ColumnType:  s.Type,
		ColumnTypes: s.Types,
		Collation:   s.Collation,
		Default:     s.Default,
	}
	var err error
	if a.OnDelete, err = action(s.OnDelete); err != nil {
		return a, err
	}
	if a.OnUpdate, err = action(s.OnUpdate); err != nil {
		return a, err
	}
	a.IndexName = s.IndexName
	return a, nil
}

func action(s string) (sqlschema.CascadeAction, error) {
	if s == "" {
		return "", nil
	}
	for _, a := range []sqlschema.CascadeAction{sqlschema.Cascade, sqlschema.SetNull, sqlschema.Restrict, sqlschema.SetDefault, sqlschema.NoAction} {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown referential action %q", s)
}

func newSQL(anns []schema.Annotation) *SQL {
	if len(anns) == 0 {
		return nil
	}
	var merged []sqlschema.Annotation
	for _, ann := range anns {
		merged = append(merged, sqlschema.From(ann))
	}
	a := sqlschema.Merge(merged...)
	if reflect.ValueOf(a).IsZero() {
		return nil
	}
	return &SQL{
		Table:     a.Table,
		Column:    a.Column,
		Size:      a.Size,
		Type:      a.ColumnType,
		Types:     a.ColumnTypes,
		Collation: a.Collation,
		Default:   a.Default,
		OnDelete:  string(a.OnDelete),
		OnUpdate:  string(a.OnUpdate),
		IndexName: a.IndexName,
	}
}

// NewSchema returns the document form of s. Named types used by attributes
// are declared even when s does not declare them, and the implicit
// identifier is left out.
func NewSchema(s *schema.Schema) *Schema {
	doc := &Schema{Name: s.Name}
	declared := make(map[string]bool)
	declare := func(t schema.Type) {
		var d *Type
		switch t := t.(type) {
		case schema.Constrained:
			d = &Type{Name: t.Name, Base: t.Base.String(), Check: t.Check}
		case schema.Enum:
			d = &Type{Name: t.Name, Values: slices.Clone(t.Values)}
		default:
			return
		}
		if !declared[d.Name] {
			declared[d.Name] = true
			doc.Types = append(doc.Types, d)
		}
	}
	for _, t := range s.Types {
		declare(t)
	}
	fields := func(attrs []*schema.Attribute) []*Field {
		var out []*Field
		for _, a := range attrs {
			if a.Implicit {
				continue
			}
			f := &Field{Name: a.Name, Optional: a.Optional, Comment: a.Comment, SQL: newSQL(a.Annotations)}
			if a.Type != nil {
				f.Type = typeName(a.Type)
				declare(a.Type)
				if e, ok := schema.Elem(a.Type); ok {
					declare(e)
				}
			}
			switch a.Kind {
			case schema.Derived:
				f.Derived = a.Formula.String()
			case schema.Maintained:
				f.Maintained = a.Formula.String()
			}
			out = append(out, f)
		}
		return out
	}
	for _, t := range s.Tuples {
		doc.Tuples = append(doc.Tuples, &Tuple{Name: t.Name, Fields: fields(t.Attributes)})
	}
	for _, e := range s.Entities {
		d := &Entity{Name: e.Name, Comment: e.Comment, SQL: newSQL(e.Annotations), Fields: fields(e.Attributes)}
		for _, k := range e.Keys {
			if implicitKey(e, k) {
				continue
			}
			d.Keys = append(d.Keys, &Key{
				Fields:      slices.Clone(k.Attributes),
				Name:        k.Name,
				Unique:      k.Unique && !k.Identifying,
				Identifying: k.Identifying,
				SQL:         newSQL(k.Annotations),
			})
		}
		doc.Entities = append(doc.Entities, d)
	}
	return doc
}

func implicitKey(e *schema.Entity, k *schema.Key) bool {
	if !k.Identifying || len(k.Attributes) != 1 {
		return false
	}
	a, ok := e.Attribute(k.Attributes[0])
	return ok && a.Implicit
}

// typeName spells t, naming declared types by their name.
func typeName(t schema.Type) string {
	switch t := t.(type) {
	case schema.Constrained:
		return t.Name
	case schema.Enum:
		return t.Name
	case schema.List:
		return "list<" + typeName(t.Elem) + ">"
	case schema.Set:
		return "set<" + typeName(t.Elem) + ">"
	default:
		return t.String()
	}
}

// Marshal encodes s as a YAML document that Parse reads back.
func Marshal(s *schema.Schema) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(NewSchema(s)); err != nil {
		return nil, fmt.Errorf("encoding schema %q: %w", s.Name, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
