package schema

import (
	"strings"
)

// Type is the closed set of logical attribute types: Scalar, Reference,
// List, Set, Relation, TupleOf, Constrained and Enum.
type Type interface {
	// String returns the canonical spelling of the type. Equal types have
	// equal spellings.
	String() string
	typ()
}

// Kind is a scalar kind.
type Kind uint8

// Scalar kinds.
const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindBool
	KindTime
	KindUUID
	KindBytes
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindInt:     "int",
	KindFloat:   "float",
	KindDecimal: "decimal",
	KindString:  "string",
	KindBool:    "bool",
	KindTime:    "time",
	KindUUID:    "uuid",
	KindBytes:   "bytes",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Numeric reports whether k is a number kind.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat || k == KindDecimal
}

// Ordered reports whether values of k can be compared with < and >.
func (k Kind) Ordered() bool {
	return k.Numeric() || k == KindString || k == KindTime
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if k != int(KindInvalid) && n == strings.ToLower(name) {
			return Kind(k), true
		}
	}
	return KindInvalid, false
}

// Cardinality of a reference.
type Cardinality uint8

// Reference cardinalities.
const (
	One Cardinality = iota
	ZeroOrOne
)

type (
	// Scalar is a primitive value.
	Scalar struct{ Kind Kind }

	// Reference is a name based link to another entity. It is represented by
	// a copy of the referenced entity's identifying key.
	Reference struct {
		Entity string
		Card   Cardinality
	}

	// List is an ordered collection.
	List struct{ Elem Type }

	// Set is an unordered collection without duplicates.
	Set struct{ Elem Type }

	// Relation is a set of tuples, i.e. a sub-table owned by the entity.
	Relation struct{ Tuple string }

	// TupleOf is an inline tuple value stored as prefixed columns.
	TupleOf struct{ Tuple string }

	// Constrained is a named scalar restricted by a check formula over value.
	Constrained struct {
		Name  string
		Base  Scalar
		Check string
	}

	// Enum is a named string type restricted to a fixed set of values.
	Enum struct {
		Name   string
		Values []string
	}
)

// Scalar types.
var (
	Int     = Scalar{Kind: KindInt}
	Float   = Scalar{Kind: KindFloat}
	Decimal = Scalar{Kind: KindDecimal}
	String  = Scalar{Kind: KindString}
	Bool    = Scalar{Kind: KindBool}
	Time    = Scalar{Kind: KindTime}
	UUID    = Scalar{Kind: KindUUID}
	Bytes   = Scalar{Kind: KindBytes}
)

// RefTo returns a required reference to entity.
func RefTo(entity string) Reference { return Reference{Entity: entity} }

// OptionalRef returns an optional reference to entity.
func OptionalRef(entity string) Reference { return Reference{Entity: entity, Card: ZeroOrOne} }

// ListOf returns a list of elem.
func ListOf(elem Type) List { return List{Elem: elem} }

// SetOf returns a set of elem.
func SetOf(elem Type) Set { return Set{Elem: elem} }

// RelationOf returns a relation of the named tuple.
func RelationOf(tuple string) Relation { return Relation{Tuple: tuple} }

func (Scalar) typ()      {}
func (Reference) typ()   {}
func (List) typ()        {}
func (Set) typ()         {}
func (Relation) typ()    {}
func (TupleOf) typ()     {}
func (Constrained) typ() {}
func (Enum) typ()        {}

func (s Scalar) String() string { return s.Kind.String() }

func (r Reference) String() string {
	if r.Card == ZeroOrOne {
		return "ref<" + r.Entity + ">?"
	}
	return "ref<" + r.Entity + ">"
}

func (l List) String() string     { return "list<" + l.Elem.String() + ">" }
func (s Set) String() string      { return "set<" + s.Elem.String() + ">" }
func (r Relation) String() string { return "relation<" + r.Tuple + ">" }
func (t TupleOf) String() string  { return "tuple<" + t.Tuple + ">" }

func (c Constrained) String() string {
	return c.Name + "<" + c.Base.String() + ">"
}

func (e Enum) String() string {
	return "enum<" + e.Name + ":" + strings.Join(e.Values, "|") + ">"
}

// Elem returns the element type of a collection type. Relations return
// the TupleOf their tuple.
func Elem(t Type) (Type, bool) {
	switch t := t.(type) {
	case List:
		return t.Elem, true
	case Set:
		return t.Elem, true
	case Relation:
		return TupleOf{Tuple: t.Tuple}, true
	default:
		return nil, false
	}
}

// IsCollection reports whether t is stored in an auxiliary table.
func IsCollection(t Type) bool {
	_, ok := Elem(t)
	return ok
}

// ScalarKind returns the scalar kind values of t are compared as, or
// KindInvalid when t is not scalar-like.
func ScalarKind(t Type) Kind {
	switch t := t.(type) {
	case Scalar:
		return t.Kind
	case Constrained:
		return t.Base.Kind
	case Enum:
		return KindString
	default:
		return KindInvalid
	}
}

// Equal reports whether two types are the same.
func Equal(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}
