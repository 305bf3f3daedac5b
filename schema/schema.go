package schema

import (
	"errors"
	"fmt"
	"slices"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/schema/formula"
)

// Annotation is attached to entities, attributes and keys to carry
// generator specific settings.
type Annotation interface {
	// Name identifies the annotation. Annotations with the same name are
	// merged when they implement Merger, otherwise the last one wins.
	Name() string
}

// Merger is implemented by annotations that can be combined.
type Merger interface {
	Merge(Annotation) Annotation
}

// CommentAnnotation carries a human readable description.
type CommentAnnotation struct {
	Text string
}

// Name implements Annotation.
func (*CommentAnnotation) Name() string { return "Comment" }

// Comment returns a comment annotation.
func Comment(text string) *CommentAnnotation {
	return &CommentAnnotation{Text: text}
}

// AttrKind tells how an attribute gets its value.
type AttrKind uint8

// Attribute kinds.
const (
	// Original attributes are stored as written.
	Original AttrKind = iota
	// Derived attributes are computed by their formula on every read.
	Derived
	// Maintained attributes are computed by their formula, stored, and
	// refreshed when an attribute they depend on is written.
	Maintained
)

func (k AttrKind) String() string {
	switch k {
	case Derived:
		return "derived"
	case Maintained:
		return "maintained"
	default:
		return "original"
	}
}

// Attribute is a named, typed member of an entity or tuple.
type Attribute struct {
	Name        string
	Type        Type // nil for derived attributes whose type is inferred
	Kind        AttrKind
	Optional    bool
	Formula     formula.Expr
	Comment     string
	Annotations []Annotation
	// Implicit marks the generated identifier attribute.
	Implicit bool
	// Err is a deferred builder error reported when the schema is closed.
	Err error
}

// Nullable reports whether the attribute may have no value.
func (a *Attribute) Nullable() bool {
	if a.Optional {
		return true
	}
	r, ok := a.Type.(Reference)
	return ok && r.Card == ZeroOrOne
}

// Stored reports whether the attribute is materialized.
func (a *Attribute) Stored() bool {
	return a.Kind != Derived
}

// Annotation returns the annotation with the given name, if any.
func (a *Attribute) Annotation(name string) Annotation {
	return lookupAnnotation(a.Annotations, name)
}

// Key is a uniqueness constraint, or a plain index when not Unique.
type Key struct {
	Name        string
	Attributes  []string
	Unique      bool
	Identifying bool
	Annotations []Annotation
	Err         error
}

// Entity is a named, identifiable aggregate.
type Entity struct {
	Name        string
	Attributes  []*Attribute
	Keys        []*Key
	Annotations []Annotation
	Comment     string
	schema      *Schema
}

// Attribute returns the attribute with the given name.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	for _, a := range e.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Identifier returns the identifying key. It is nil only before the schema
// is closed.
func (e *Entity) Identifier() *Key {
	for _, k := range e.Keys {
		if k.Identifying {
			return k
		}
	}
	return nil
}

// Schema returns the schema owning the entity.
func (e *Entity) Schema() *Schema { return e.schema }

// Annotation returns the annotation with the given name, if any.
func (e *Entity) Annotation(name string) Annotation {
	return lookupAnnotation(e.Annotations, name)
}

// Location returns the logical location of the entity.
func (e *Entity) Location() relvar.Location {
	loc := relvar.Location{Entity: e.Name}
	if e.schema != nil {
		loc.Schema = e.schema.Name
	}
	return loc
}

// Tuple is a named, fixed-shape row type.
type Tuple struct {
	Name       string
	Attributes []*Attribute
}

// Attribute returns the tuple field with the given name.
func (t *Tuple) Attribute(name string) (*Attribute, bool) {
	for _, a := range t.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Schema is the root of a logical model. It is immutable once closed.
type Schema struct {
	Name     string
	Entities []*Entity
	Tuples   []*Tuple
	Types    []Type // declared Constrained and Enum types
	closed   bool
}

// New returns an open schema.
func New(name string) *Schema {
	return &Schema{Name: name}
}

// Build returns a closed schema holding the given definitions.
func Build(name string, defs ...Definer) (*Schema, error) {
	s := New(name)
	if err := s.Add(defs...); err != nil {
		return nil, err
	}
	if err := s.Close(); err != nil {
		return nil, err
	}
	return s, nil
}

// Closed reports whether the schema was closed.
func (s *Schema) Closed() bool { return s.closed }

// Add adds definitions to an open schema.
func (s *Schema) Add(defs ...Definer) error {
	if s.closed {
		return fmt.Errorf("adding to schema %q: %w", s.Name, relvar.ErrSchemaClosed)
	}
	for _, d := range defs {
		if err := d.define(s); err != nil {
			return err
		}
	}
	return nil
}

// Entity returns the entity with the given name.
func (s *Schema) Entity(name string) (*Entity, bool) {
	for _, e := range s.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Tuple returns the tuple with the given name.
func (s *Schema) Tuple(name string) (*Tuple, bool) {
	for _, t := range s.Tuples {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// DeclaredType returns the declared Constrained or Enum type with the given name.
func (s *Schema) DeclaredType(name string) (Type, bool) {
	for _, t := range s.Types {
		switch t := t.(type) {
		case Constrained:
			if t.Name == name {
				return t, true
			}
		case Enum:
			if t.Name == name {
				return t, true
			}
		}
	}
	return nil, false
}

// Close validates the schema and freezes it. Closing twice is a no-op.
// Every entity without an identifying key receives an implicit integer
// identifier named id.
func (s *Schema) Close() error {
	if s.closed {
		return nil
	}
	for _, e := range s.Entities {
		identify(e)
	}
	if err := s.validate(); err != nil {
		return err
	}
	s.closed = true
	return nil
}

func identify(e *Entity) {
	if e.Identifier() != nil {
		return
	}
	if a, ok := e.Attribute("id"); ok && a.Kind == Original && !IsCollection(a.Type) {
		e.Keys = append(e.Keys, &Key{Name: "id", Attributes: []string{"id"}, Unique: true, Identifying: true})
		return
	}
	id := &Attribute{Name: "id", Type: Int, Implicit: true}
	e.Attributes = append([]*Attribute{id}, e.Attributes...)
	e.Keys = append(e.Keys, &Key{Name: "id", Attributes: []string{"id"}, Unique: true, Identifying: true})
}

func (s *Schema) validate() error {
	var errs []error
	names := make(map[string]string)
	declare := func(kind, name string) {
		if !isIdent(name) {
			errs = append(errs, relvar.NewSchemaError(relvar.Location{Schema: s.Name, Entity: name}, "invalid %s name %q", kind, name))
			return
		}
		if prev, ok := names[name]; ok {
			errs = append(errs, relvar.NewSchemaError(relvar.Location{Schema: s.Name, Entity: name}, "%s %q already declared as %s", kind, name, prev))
			return
		}
		names[name] = kind
	}
	for _, t := range s.Types {
		switch t := t.(type) {
		case Constrained:
			declare("type", t.Name)
		case Enum:
			declare("type", t.Name)
		default:
			errs = append(errs, relvar.NewSchemaError(relvar.Location{Schema: s.Name}, "only constrained and enum types can be declared, got %s", t))
		}
	}
	for _, t := range s.Tuples {
		declare("tuple", t.Name)
	}
	for _, e := range s.Entities {
		declare("entity", e.Name)
	}
	for _, t := range s.Tuples {
		loc := relvar.Location{Schema: s.Name, Entity: t.Name}
		errs = append(errs, s.validateAttrs(loc, t.Attributes, true)...)
	}
	for _, e := range s.Entities {
		errs = append(errs, s.validateEntity(e)...)
	}
	if err := s.checkTupleCycles(); err != nil {
		errs = append(errs, err)
	}
	return relvar.NewAggregateError(errs...)
}

func (s *Schema) validateEntity(e *Entity) []error {
	loc := e.Location()
	errs := s.validateAttrs(loc, e.Attributes, false)
	identifying := 0
	keyNames := make(map[string]bool)
	for _, k := range e.Keys {
		if k.Err != nil {
			errs = append(errs, &relvar.SchemaError{Location: loc, Message: "invalid key", Cause: k.Err})
			continue
		}
		if k.Identifying {
			identifying++
		}
		if keyNames[k.Name] {
			errs = append(errs, relvar.NewSchemaError(loc, "duplicate key name %q", k.Name))
		}
		keyNames[k.Name] = true
		if len(k.Attributes) == 0 {
			errs = append(errs, relvar.NewSchemaError(loc, "key %q has no attributes", k.Name))
		}
		for i, name := range k.Attributes {
			if slices.Index(k.Attributes, name) != i {
				errs = append(errs, relvar.NewSchemaError(loc.At(name), "attribute repeated in key %q", k.Name))
				continue
			}
			a, ok := e.Attribute(name)
			switch {
			case !ok:
				errs = append(errs, &relvar.UnresolvedReferenceError{Location: loc, Name: name, Scope: "key " + k.Name})
			case a.Kind == Derived:
				errs = append(errs, relvar.NewSchemaError(loc.At(name), "derived attribute cannot be part of key %q", k.Name))
			case IsCollection(a.Type):
				errs = append(errs, relvar.NewSchemaError(loc.At(name), "collection attribute cannot be part of key %q", k.Name))
			case k.Identifying && a.Nullable():
				errs = append(errs, relvar.NewSchemaError(loc.At(name), "optional attribute cannot be part of identifying key %q", k.Name))
			}
		}
	}
	if identifying != 1 {
		errs = append(errs, relvar.NewSchemaError(loc, "entity must have exactly one identifying key, found %d", identifying))
	}
	return errs
}

func (s *Schema) validateAttrs(loc relvar.Location, attrs []*Attribute, tuple bool) []error {
	var (
		errs []error
		seen = make(map[string]bool)
	)
	for _, a := range attrs {
		at := loc.At(a.Name)
		if a.Err != nil {
			errs = append(errs, &relvar.SchemaError{Location: at, Message: "invalid attribute", Cause: a.Err})
			continue
		}
		if !isIdent(a.Name) {
			errs = append(errs, relvar.NewSchemaError(at, "invalid attribute name %q", a.Name))
			continue
		}
		if seen[a.Name] {
			errs = append(errs, relvar.NewSchemaError(at, "duplicate attribute"))
			continue
		}
		seen[a.Name] = true
		switch a.Kind {
		case Original:
			if a.Formula != nil {
				errs = append(errs, relvar.NewSchemaError(at, "original attribute cannot have a formula"))
			}
			if a.Type == nil {
				errs = append(errs, relvar.NewSchemaError(at, "missing type"))
			}
		case Derived, Maintained:
			if tuple {
				errs = append(errs, relvar.NewSchemaError(at, "tuple fields cannot be %s", a.Kind))
			}
			if a.Formula == nil {
				errs = append(errs, relvar.NewSchemaError(at, "%s attribute requires a formula", a.Kind))
			}
			if a.Kind == Maintained && a.Type == nil {
				errs = append(errs, relvar.NewSchemaError(at, "maintained attribute requires a declared type"))
			}
			if a.Type != nil && IsCollection(a.Type) {
				errs = append(errs, relvar.NewSchemaError(at, "%s attribute cannot have collection type %s", a.Kind, a.Type))
			}
		}
		if a.Type != nil {
			errs = append(errs, s.validateType(at, a.Type)...)
		}
	}
	return errs
}

func (s *Schema) validateType(at relvar.Location, t Type) []error {
	switch t := t.(type) {
	case Scalar:
		if t.Kind == KindInvalid || t.Kind > KindBytes {
			return []error{relvar.NewSchemaError(at, "invalid scalar kind")}
		}
	case Reference:
		if _, ok := s.Entity(t.Entity); !ok {
			return []error{&relvar.UnresolvedReferenceError{Location: at, Name: t.Entity, Scope: "entities of " + s.Name}}
		}
	case List:
		return s.validateType(at, t.Elem)
	case Set:
		return s.validateType(at, t.Elem)
	case Relation:
		if _, ok := s.Tuple(t.Tuple); !ok {
			return []error{&relvar.UnresolvedReferenceError{Location: at, Name: t.Tuple, Scope: "tuples of " + s.Name}}
		}
	case TupleOf:
		if _, ok := s.Tuple(t.Tuple); !ok {
			return []error{&relvar.UnresolvedReferenceError{Location: at, Name: t.Tuple, Scope: "tuples of " + s.Name}}
		}
	case Constrained:
		if t.Name == "" {
			return []error{relvar.NewSchemaError(at, "constrained type requires a name")}
		}
		if t.Check != "" {
			if _, err := formula.Parse(t.Check); err != nil {
				return []error{&relvar.SchemaError{Location: at, Message: "invalid check of type " + t.Name, Cause: err}}
			}
		}
		return s.validateType(at, t.Base)
	case Enum:
		if t.Name == "" {
			return []error{relvar.NewSchemaError(at, "enum type requires a name")}
		}
		if len(t.Values) == 0 {
			return []error{relvar.NewSchemaError(at, "enum %s has no values", t.Name)}
		}
		for i, v := range t.Values {
			if slices.Index(t.Values, v) != i {
				return []error{relvar.NewSchemaError(at, "enum %s repeats value %q", t.Name, v)}
			}
		}
	case nil:
		return []error{relvar.NewSchemaError(at, "missing type")}
	}
	return nil
}

// checkTupleCycles rejects tuples that contain themselves inline. Relations
// and references break containment and are allowed to recurse.
func (s *Schema) checkTupleCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(s.Tuples))
	var visit func(t *Tuple, path []string) error
	visit = func(t *Tuple, path []string) error {
		switch state[t.Name] {
		case visiting:
			return relvar.NewSchemaError(relvar.Location{Schema: s.Name, Entity: t.Name}, "tuple contains itself: %v", append(path, t.Name))
		case done:
			return nil
		}
		state[t.Name] = visiting
		for _, a := range t.Attributes {
			in, ok := a.Type.(TupleOf)
			if !ok {
				continue
			}
			if next, ok := s.Tuple(in.Tuple); ok {
				if err := visit(next, append(path, t.Name)); err != nil {
					return err
				}
			}
		}
		state[t.Name] = done
		return nil
	}
	for _, t := range s.Tuples {
		if err := visit(t, nil); err != nil {
			return err
		}
	}
	return nil
}

func isIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func lookupAnnotation(anns []Annotation, name string) Annotation {
	var found Annotation
	for _, a := range anns {
		if a.Name() != name {
			continue
		}
		if m, ok := found.(Merger); ok {
			found = m.Merge(a)
		} else {
			found = a
		}
	}
	return found
}

var errNoName = errors.New("name is required")
