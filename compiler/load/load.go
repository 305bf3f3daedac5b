// Package load reads schemas from YAML documents.
//
//	schema: hr
//	types:
//	  - name: Money
//	    base: decimal
//	    check: value >= 0
//	entities:
//	  - name: Person
//	    mixins: [time]
//	    fields:
//	      - name: name
//	        type: string
//	        sql: {size: 100}
//	      - name: salary
//	        type: Money
//	      - name: manager
//	        type: ref<Person>
//	        optional: true
//	      - name: boss
//	        derived: manager.name
//	    keys:
//	      - fields: [name]
//	        unique: true
//
// Attribute types use the canonical spelling of schema types, such as
// list<string> or set<ref<Person>>, and the names of declared types.
package load

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/field"
	"github.com/syssam/relvar/schema/formula"
	"github.com/syssam/relvar/schema/index"
	"github.com/syssam/relvar/schema/mixin"
)

// Mixins maps the mixin names accepted by entity declarations to mixins.
var Mixins = map[string]schema.Mixin{
	"time":        mixin.Time{},
	"soft_delete": mixin.SoftDelete{},
	"code":        mixin.Code{},
}

// Parse decodes and closes the schema held by a YAML document. Unknown
// document keys are rejected.
func Parse(buf []byte) (*schema.Schema, error) {
	return Load(bytes.NewReader(buf))
}

// Load is like Parse but reads the document from r.
func Load(r io.Reader) (*schema.Schema, error) {
	doc, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return doc.Build()
}

// LoadFile is like Load but reads the document from the named file.
func LoadFile(path string) (*schema.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Decode decodes a schema document without building it.
func Decode(r io.Reader) (*Schema, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	doc := &Schema{}
	if err := dec.Decode(doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty schema document: %w", relvar.ErrInvalidSchema)
		}
		return nil, &relvar.SchemaError{Message: "decoding document", Cause: err}
	}
	return doc, nil
}

// Build returns the closed schema described by doc. Every malformed
// declaration is reported.
func (doc *Schema) Build() (*schema.Schema, error) {
	loc := relvar.Location{Schema: doc.Name}
	if doc.Name == "" {
		return nil, relvar.NewSchemaError(loc, "schema name is required")
	}
	b := &builder{types: make(map[string]schema.Type)}
	var defs []schema.Definer
	for _, t := range doc.Types {
		typ, err := b.declare(loc, t)
		if err != nil {
			b.errs = append(b.errs, err)
			continue
		}
		defs = append(defs, schema.DeclareType(typ))
	}
	for _, t := range doc.Tuples {
		tb := schema.NewTuple(t.Name)
		for _, f := range t.Fields {
			if fb := b.field(relvar.Location{Schema: doc.Name, Entity: t.Name}, f); fb != nil {
				tb.Fields(fb)
			}
		}
		defs = append(defs, tb)
	}
	for _, e := range doc.Entities {
		defs = append(defs, b.entity(relvar.Location{Schema: doc.Name, Entity: e.Name}, e))
	}
	if err := relvar.NewAggregateError(b.errs...); err != nil {
		return nil, err
	}
	return schema.Build(doc.Name, defs...)
}

type builder struct {
	types map[string]schema.Type
	errs  []error
}

func (b *builder) fail(loc relvar.Location, format string, args ...any) {
	b.errs = append(b.errs, relvar.NewSchemaError(loc, format, args...))
}

func (b *builder) declare(loc relvar.Location, t *Type) (schema.Type, error) {
	loc = loc.At(t.Name)
	var typ schema.Type
	switch {
	case t.Base != "" && len(t.Values) > 0:
		return nil, relvar.NewSchemaError(loc, "type %q has both a base and values", t.Name)
	case t.Base != "":
		k, ok := schema.ParseKind(t.Base)
		if !ok {
			return nil, relvar.NewSchemaError(loc, "unknown base type %q", t.Base)
		}
		if t.Check != "" {
			if _, err := formula.Parse(t.Check); err != nil {
				return nil, &relvar.SchemaError{Location: loc, Message: "check", Cause: err}
			}
		}
		typ = schema.Constrained{Name: t.Name, Base: schema.Scalar{Kind: k}, Check: t.Check}
	case len(t.Values) > 0:
		if t.Check != "" {
			return nil, relvar.NewSchemaError(loc, "enumeration %q cannot have a check", t.Name)
		}
		typ = schema.Enum{Name: t.Name, Values: t.Values}
	default:
		return nil, relvar.NewSchemaError(loc, "type %q needs a base or values", t.Name)
	}
	b.types[t.Name] = typ
	return typ, nil
}

func (b *builder) entity(loc relvar.Location, e *Entity) *schema.EntityBuilder {
	eb := schema.NewEntity(e.Name).Comment(e.Comment)
	for _, name := range e.Mixins {
		m, ok := Mixins[name]
		if !ok {
			b.fail(loc, "unknown mixin %q", name)
			continue
		}
		eb.Mixin(m)
	}
	if e.SQL != nil {
		a, err := e.SQL.Annotation()
		if err != nil {
			b.errs = append(b.errs, &relvar.SchemaError{Location: loc, Message: "sql", Cause: err})
		}
		eb.Annotations(a)
	}
	for _, f := range e.Fields {
		if fb := b.field(loc, f); fb != nil {
			eb.Fields(fb)
		}
	}
	for _, k := range e.Keys {
		ib := index.Fields(k.Fields...)
		if k.Name != "" {
			ib.Name(k.Name)
		}
		if k.Unique {
			ib.Unique()
		}
		if k.Identifying {
			ib.Identifying()
		}
		if k.SQL != nil {
			a, err := k.SQL.Annotation()
			if err != nil {
				b.errs = append(b.errs, &relvar.SchemaError{Location: loc, Message: "key sql", Cause: err})
			}
			ib.Annotations(a)
		}
		eb.Indexes(ib)
	}
	return eb
}

// field returns the builder of f, or nil after recording an error.
func (b *builder) field(loc relvar.Location, f *Field) *field.Builder {
	loc = loc.At(f.Name)
	var typ schema.Type
	if f.Type != "" {
		t, err := b.parseType(loc, f.Type)
		if err != nil {
			b.errs = append(b.errs, err)
			return nil
		}
		typ = t
	}
	var fb *field.Builder
	switch {
	case f.Derived != "" && f.Maintained != "":
		b.fail(loc, "attribute cannot be both derived and maintained")
		return nil
	case f.Derived != "":
		fb = field.Derived(f.Name, f.Derived)
		if typ != nil {
			fb.Returns(typ)
		}
	case typ == nil:
		b.fail(loc, "attribute type is required")
		return nil
	case f.Maintained != "":
		fb = field.Maintained(f.Name, typ, f.Maintained)
	default:
		fb = field.Of(f.Name, typ)
	}
	if f.Optional {
		fb.Optional()
	}
	if f.Comment != "" {
		fb.Comment(f.Comment)
	}
	if f.SQL != nil {
		a, err := f.SQL.Annotation()
		if err != nil {
			b.errs = append(b.errs, &relvar.SchemaError{Location: loc, Message: "sql", Cause: err})
		}
		fb.Annotations(a)
	}
	return fb
}

// parseType parses the spelling of a type. Entity and tuple names are
// resolved when the schema is closed; declared type names are resolved
// here.
func (b *builder) parseType(loc relvar.Location, src string) (schema.Type, error) {
	src = strings.TrimSpace(src)
	if k, ok := schema.ParseKind(src); ok {
		return schema.Scalar{Kind: k}, nil
	}
	if t, ok := b.types[src]; ok {
		return t, nil
	}
	open := strings.IndexByte(src, '<')
	if open < 0 {
		return nil, &relvar.UnresolvedReferenceError{Location: loc, Name: src, Scope: "types"}
	}
	body, optional := strings.CutSuffix(src, "?")
	if !strings.HasSuffix(body, ">") {
		return nil, relvar.NewSchemaError(loc, "malformed type %q", src)
	}
	ctor, arg := body[:open], strings.TrimSpace(body[open+1:len(body)-1])
	if arg == "" {
		return nil, relvar.NewSchemaError(loc, "malformed type %q", src)
	}
	if optional && ctor != "ref" {
		return nil, relvar.NewSchemaError(loc, "only references can be optional in %q", src)
	}
	switch ctor {
	case "ref":
		if optional {
			return schema.OptionalRef(arg), nil
		}
		return schema.RefTo(arg), nil
	case "list", "set":
		elem, err := b.parseType(loc, arg)
		if err != nil {
			return nil, err
		}
		if ctor == "list" {
			return schema.ListOf(elem), nil
		}
		return schema.SetOf(elem), nil
	case "relation":
		return schema.RelationOf(arg), nil
	case "tuple":
		return schema.TupleOf{Tuple: arg}, nil
	case "enum":
		name, values, ok := strings.Cut(arg, ":")
		if !ok || values == "" {
			return nil, relvar.NewSchemaError(loc, "enumeration %q has no values", src)
		}
		return schema.Enum{Name: name, Values: strings.Split(values, "|")}, nil
	default:
		return nil, relvar.NewSchemaError(loc, "unknown type constructor %q", ctor)
	}
}
