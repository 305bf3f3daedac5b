package query

import (
	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/formula"
)

// Plan is a compiled formula: a dialect independent select statement with
// its parameter slots and result columns.
type Plan struct {
	// Scope is the entity the formula was compiled against.
	Scope string
	// Source is the canonical text of the compiled formula.
	Source string
	Select *Select
	// Params holds the distinct parameters in order of first appearance.
	Params []Param
	Result []ResultColumn
}

// Param is a parameter slot.
type Param struct {
	Name string
	Kind schema.Kind
}

// ResultColumn describes one projected value.
type ResultColumn struct {
	Name     string
	Kind     schema.Kind
	Type     schema.Type // declared type, when the value is an attribute
	Nullable bool
}

// JoinKind is the kind of a join.
type JoinKind uint8

// Join kinds.
const (
	InnerJoin JoinKind = iota
	LeftJoin
)

func (k JoinKind) String() string {
	if k == LeftJoin {
		return "LEFT JOIN"
	}
	return "JOIN"
}

// TableRef is an aliased table.
type TableRef struct {
	Name  string
	Alias string
}

// Join joins a table on a condition.
type Join struct {
	Kind  JoinKind
	Table TableRef
	On    Expr
}

// Item is a projected expression.
type Item struct {
	Name string
	Expr Expr
}

// Select is a select statement.
type Select struct {
	From  TableRef
	Joins []*Join
	Where Expr
	Items []Item
}

// Expr is a node of the relational expression tree.
type Expr interface {
	expr()
}

type (
	// Column is a column of an aliased table. An empty alias renders the
	// bare column name, as in check constraints.
	Column struct {
		Alias string
		Name  string
	}

	// Literal is a constant: nil, bool, int64, float64 or string.
	Literal struct {
		Value any
	}

	// Placeholder is an occurrence of a named parameter. Generators number
	// occurrences in statement order; see Plan.Bind.
	Placeholder struct {
		Name string
	}

	// Compare is a binary comparison.
	Compare struct {
		Op   formula.Op
		L, R Expr
	}

	// Logic is a conjunction, or a disjunction when Or is set.
	Logic struct {
		Or   bool
		Args []Expr
	}

	// Not negates a predicate.
	Not struct {
		X Expr
	}

	// NullTest is IS NULL, or IS NOT NULL when Negate is set.
	NullTest struct {
		X      Expr
		Negate bool
	}

	// Arith is a binary arithmetic operation.
	Arith struct {
		Op   formula.Op
		L, R Expr
	}

	// Negate is unary minus.
	Negate struct {
		X Expr
	}

	// Concat concatenates strings.
	Concat struct {
		Args []Expr
	}

	// Regex matches X against a regular expression.
	Regex struct {
		X, Pattern Expr
	}

	// Case is a two-way conditional.
	Case struct {
		When, Then, Else Expr
	}

	// Aggregate is an aggregate call. A nil Arg with Fn "count" counts rows.
	Aggregate struct {
		Fn  string
		Arg Expr
	}

	// Subquery is a scalar subquery.
	Subquery struct {
		Select *Select
	}

	// Exists tests whether a subquery returns rows.
	Exists struct {
		Select *Select
	}
)

func (*Column) expr()      {}
func (*Literal) expr()     {}
func (*Placeholder) expr() {}
func (*Compare) expr()     {}
func (*Logic) expr()       {}
func (*Not) expr()         {}
func (*NullTest) expr()    {}
func (*Arith) expr()       {}
func (*Negate) expr()      {}
func (*Concat) expr()      {}
func (*Regex) expr()       {}
func (*Case) expr()        {}
func (*Aggregate) expr()   {}
func (*Subquery) expr()    {}
func (*Exists) expr()      {}

// IsPredicate reports whether x is a condition rather than a value. SQL
// dialects without a boolean type can only use predicates in conditions.
func IsPredicate(x Expr) bool {
	switch x.(type) {
	case *Compare, *Logic, *Not, *NullTest, *Regex, *Exists:
		return true
	default:
		return false
	}
}

// WalkExpr calls fn for x and its sub-expressions, descending into
// subqueries.
func WalkExpr(x Expr, fn func(Expr)) {
	if x == nil {
		return
	}
	fn(x)
	switch x := x.(type) {
	case *Compare:
		WalkExpr(x.L, fn)
		WalkExpr(x.R, fn)
	case *Logic:
		for _, a := range x.Args {
			WalkExpr(a, fn)
		}
	case *Not:
		WalkExpr(x.X, fn)
	case *NullTest:
		WalkExpr(x.X, fn)
	case *Arith:
		WalkExpr(x.L, fn)
		WalkExpr(x.R, fn)
	case *Negate:
		WalkExpr(x.X, fn)
	case *Concat:
		for _, a := range x.Args {
			WalkExpr(a, fn)
		}
	case *Regex:
		WalkExpr(x.X, fn)
		WalkExpr(x.Pattern, fn)
	case *Case:
		WalkExpr(x.When, fn)
		WalkExpr(x.Then, fn)
		WalkExpr(x.Else, fn)
	case *Aggregate:
		WalkExpr(x.Arg, fn)
	case *Subquery:
		WalkSelect(x.Select, fn)
	case *Exists:
		WalkSelect(x.Select, fn)
	}
}

// WalkSelect calls WalkExpr for every expression of s.
func WalkSelect(s *Select, fn func(Expr)) {
	if s == nil {
		return
	}
	for _, j := range s.Joins {
		WalkExpr(j.On, fn)
	}
	WalkExpr(s.Where, fn)
	for _, it := range s.Items {
		WalkExpr(it.Expr, fn)
	}
}
