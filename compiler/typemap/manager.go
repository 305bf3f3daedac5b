package typemap

import (
	"fmt"
	"strings"
	"sync"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/schema"
)

// Column is a physical column derived from a logical type. Its final name
// is the attribute's column name followed by Suffix.
type Column struct {
	Suffix   string
	Path     string // dotted tuple field path, empty for non-tuple columns
	Kind     schema.Kind
	TypeName string
	Size     int64
	Nullable bool
	Enums    []string
	// Check is a formula over value restricting the column, with CheckType
	// naming the constrained type it came from.
	Check     string
	CheckType string
	// Ref is set when the column copies a key column of another entity.
	Ref *Ref
}

// Ref locates a referenced key column: the Index'th column of the
// attribute Attribute of entity Entity.
type Ref struct {
	Entity    string
	Attribute string
	Index     int
}

// Aux directs the mapper to create an auxiliary table for a collection.
type Aux struct {
	Ordered bool // lists carry a position column
	Unique  bool // sets are unique on (owner, element)
	// Elem is the representation of a single element.
	Elem *Representation
	// Tuple is set when elements are tuples; their columns are named by field.
	Tuple string
}

// Representation is the physical form of a logical type.
type Representation struct {
	Columns []Column
	Aux     *Aux
}

// Option configures a Manager.
type Option func(*Manager)

// WithoutBoolean makes booleans use the table's fallback type.
func WithoutBoolean() Option {
	return func(m *Manager) { m.boolean = false }
}

// Manager resolves logical types to representations. It is safe for
// concurrent use and memoizes results per type.
type Manager struct {
	schema  *schema.Schema
	table   Table
	boolean bool

	mu    sync.RWMutex
	cache map[string]*Representation
	named map[string]string // declared name -> canonical definition
}

// New returns a manager for the closed schema s.
func New(s *schema.Schema, t Table, opts ...Option) *Manager {
	m := &Manager{
		schema:  s,
		table:   t,
		boolean: true,
		cache:   make(map[string]*Representation),
		named:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if s != nil {
		for _, t := range s.Types {
			switch t := t.(type) {
			case schema.Constrained:
				m.named[t.Name] = definition(t)
			case schema.Enum:
				m.named[t.Name] = "enum:" + strings.Join(t.Values, "|")
			}
		}
	}
	return m
}

// Dialect returns the dialect of the manager's type table.
func (m *Manager) Dialect() string { return m.table.Dialect }

// Represent returns the representation of t. The location is only used for
// error reporting.
func (m *Manager) Represent(loc relvar.Location, t schema.Type) (*Representation, error) {
	if t == nil {
		return nil, relvar.NewSchemaError(loc, "attribute has no type")
	}
	key := m.table.Dialect + "|" + canonical(t)
	m.mu.RLock()
	r, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return r, nil
	}
	r, err := m.represent(loc, t, nil)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if prev, ok := m.cache[key]; ok {
		r = prev
	} else {
		m.cache[key] = r
	}
	m.mu.Unlock()
	return r, nil
}

// represent resolves t. visiting holds the entities whose keys are being
// expanded, to detect references that identify each other.
func (m *Manager) represent(loc relvar.Location, t schema.Type, visiting []string) (*Representation, error) {
	switch t := t.(type) {
	case schema.Scalar:
		c, err := m.scalar(loc, t)
		if err != nil {
			return nil, err
		}
		return &Representation{Columns: []Column{c}}, nil
	case schema.Constrained:
		return m.constrained(loc, t)
	case schema.Enum:
		return m.enum(loc, t)
	case schema.Reference:
		return m.reference(loc, t, visiting)
	case schema.TupleOf:
		return m.tuple(loc, t, visiting)
	case schema.List, schema.Set, schema.Relation:
		return m.collection(loc, t, visiting)
	default:
		return nil, m.unsupported(loc, t, "unknown type")
	}
}

func (m *Manager) scalar(loc relvar.Location, s schema.Scalar) (Column, error) {
	name, ok := m.table.Names[s.Kind]
	if !ok {
		return Column{}, m.unsupported(loc, s, "no physical type")
	}
	c := Column{Kind: s.Kind, TypeName: name, Size: m.table.Sizes[s.Kind]}
	if s.Kind == schema.KindBool && !m.boolean {
		if m.table.BoolFallback == "" {
			return Column{}, m.unsupported(loc, s, "no boolean type")
		}
		c.TypeName = m.table.BoolFallback
	}
	return c, nil
}

// canonical spells t as a memo key. Unlike Type.String, it includes the
// checks of constrained types.
func canonical(t schema.Type) string {
	switch t := t.(type) {
	case schema.Constrained:
		return definition(t) + " as " + t.Name
	case schema.List:
		return "list<" + canonical(t.Elem) + ">"
	case schema.Set:
		return "set<" + canonical(t.Elem) + ">"
	default:
		return t.String()
	}
}

// definition is the registered definition of a constrained type.
func definition(t schema.Constrained) string {
	if t.Check == "" {
		return t.Base.String()
	}
	return t.Base.String() + " check (" + t.Check + ")"
}

// register records the definition of a named type and reports a conflict
// when the name was registered with a different definition.
func (m *Manager) register(loc relvar.Location, name, def string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.named[name]; ok && prev != def {
		return &relvar.TypeConflictError{Location: loc, Name: name, Existing: prev, Requested: def}
	}
	m.named[name] = def
	return nil
}

func (m *Manager) constrained(loc relvar.Location, t schema.Constrained) (*Representation, error) {
	if o, ok := m.table.Overrides[t.Name]; ok && o.Base != t.Base.Kind {
		return nil, &relvar.TypeConflictError{Location: loc, Name: t.Name, Existing: o.Base.String(), Requested: t.Base.String()}
	}
	if err := m.register(loc, t.Name, definition(t)); err != nil {
		return nil, err
	}
	c, err := m.scalar(loc, t.Base)
	if err != nil {
		return nil, err
	}
	m.override(&c, t.Name)
	c.Check, c.CheckType = t.Check, t.Name
	return &Representation{Columns: []Column{c}}, nil
}

func (m *Manager) enum(loc relvar.Location, t schema.Enum) (*Representation, error) {
	if o, ok := m.table.Overrides[t.Name]; ok && o.Base != schema.KindString {
		return nil, &relvar.TypeConflictError{Location: loc, Name: t.Name, Existing: o.Base.String(), Requested: "enum"}
	}
	if err := m.register(loc, t.Name, "enum:"+strings.Join(t.Values, "|")); err != nil {
		return nil, err
	}
	c, err := m.scalar(loc, schema.String)
	if err != nil {
		return nil, err
	}
	m.override(&c, t.Name)
	c.Enums = append([]string(nil), t.Values...)
	c.CheckType = t.Name
	return &Representation{Columns: []Column{c}}, nil
}

func (m *Manager) override(c *Column, name string) {
	if o, ok := m.table.Overrides[name]; ok {
		c.TypeName, c.Size = o.TypeName, o.Size
	}
}

func (m *Manager) reference(loc relvar.Location, t schema.Reference, visiting []string) (*Representation, error) {
	e, ok := m.schema.Entity(t.Entity)
	if !ok {
		return nil, &relvar.UnresolvedReferenceError{Location: loc, Name: t.Entity, Scope: "entities"}
	}
	for _, v := range visiting {
		if v == e.Name {
			return nil, relvar.NewSchemaError(loc, "identifying keys of %s reference each other", strings.Join(append(visiting, e.Name), " -> "))
		}
	}
	key := e.Identifier()
	if key == nil {
		return nil, relvar.NewSchemaError(e.Location(), "entity has no identifying key")
	}
	visiting = append(visiting, e.Name)
	r := &Representation{}
	for _, name := range key.Attributes {
		a, ok := e.Attribute(name)
		if !ok {
			return nil, &relvar.UnresolvedReferenceError{Location: e.Location(), Name: name, Scope: "key " + key.Name}
		}
		sub, err := m.represent(e.Location().At(name), a.Type, visiting)
		if err != nil {
			return nil, err
		}
		if sub.Aux != nil {
			return nil, m.unsupported(loc, t, "key attribute "+name+" is a collection")
		}
		for i, c := range sub.Columns {
			c.Suffix = "_" + name + c.Suffix
			c.Path = ""
			c.Nullable = t.Card == schema.ZeroOrOne
			c.Check, c.CheckType = "", ""
			c.Ref = &Ref{Entity: e.Name, Attribute: name, Index: i}
			r.Columns = append(r.Columns, c)
		}
	}
	return r, nil
}

func (m *Manager) tuple(loc relvar.Location, t schema.TupleOf, visiting []string) (*Representation, error) {
	tu, ok := m.schema.Tuple(t.Tuple)
	if !ok {
		return nil, &relvar.UnresolvedReferenceError{Location: loc, Name: t.Tuple, Scope: "tuples"}
	}
	r := &Representation{}
	for _, a := range tu.Attributes {
		if a.Kind == schema.Derived {
			continue
		}
		sub, err := m.represent(loc, a.Type, visiting)
		if err != nil {
			return nil, err
		}
		if sub.Aux != nil {
			return nil, m.unsupported(loc, t, fmt.Sprintf("field %s of an inline tuple is a collection", a.Name))
		}
		for _, c := range sub.Columns {
			c.Suffix = "_" + a.Name + c.Suffix
			if c.Path == "" {
				c.Path = a.Name
			} else {
				c.Path = a.Name + "." + c.Path
			}
			c.Nullable = c.Nullable || a.Nullable()
			r.Columns = append(r.Columns, c)
		}
	}
	return r, nil
}

func (m *Manager) collection(loc relvar.Location, t schema.Type, visiting []string) (*Representation, error) {
	elem, _ := schema.Elem(t)
	if schema.IsCollection(elem) {
		return nil, m.unsupported(loc, t, "nested collections are not supported")
	}
	er, err := m.represent(loc, elem, visiting)
	if err != nil {
		return nil, err
	}
	aux := &Aux{Elem: er}
	switch t := t.(type) {
	case schema.List:
		aux.Ordered = true
	case schema.Set:
		aux.Unique = true
	case schema.Relation:
		aux.Unique = true
		aux.Tuple = t.Tuple
	}
	return &Representation{Aux: aux}, nil
}

func (m *Manager) unsupported(loc relvar.Location, t schema.Type, reason string) error {
	return &relvar.UnsupportedTypeError{Location: loc, Type: t.String(), Dialect: m.table.Dialect, Reason: reason}
}
