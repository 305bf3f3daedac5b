// Package formula defines the expression language of derived and maintained
// attributes, constrained types and ad-hoc queries.
//
// Formulas are pure trees. They are either built directly:
//
//	formula.Eq(formula.P("manager.name"), formula.Str("Ada"))
//
// or parsed from their textual form:
//
//	formula.Parse("count(reports where salary > :min)")
//
// The String method of every node prints a canonical form that parses back
// to an equal tree.
package formula

import (
	"strconv"
	"strings"
)

// Expr is a formula expression node.
type Expr interface {
	String() string
	node()
}

// Op is a binary operator.
type Op string

// Comparison operators.
const (
	EQ Op = "="
	NE Op = "!="
	LT Op = "<"
	LE Op = "<="
	GT Op = ">"
	GE Op = ">="
)

// Arithmetic operators.
const (
	Add Op = "+"
	Sub Op = "-"
	Mul Op = "*"
	Div Op = "/"
)

// AggFunc is an aggregate function over a collection.
type AggFunc string

// Aggregate functions.
const (
	Sum AggFunc = "sum"
	Min AggFunc = "min"
	Max AggFunc = "max"
	Avg AggFunc = "avg"
)

type (
	// Lit is a literal value: nil, bool, int64, float64 or string.
	Lit struct{ Value any }

	// Param is a placeholder bound at evaluation time.
	Param struct{ Name string }

	// Path is a dotted attribute path, resolved from the current scope.
	Path struct{ Steps []string }

	// Compare compares two operands.
	Compare struct {
		Op   Op
		L, R Expr
	}

	// And is a conjunction.
	And struct{ Args []Expr }

	// Or is a disjunction.
	Or struct{ Args []Expr }

	// Not negates its operand.
	Not struct{ X Expr }

	// IsNull tests for a missing value.
	IsNull struct {
		X      Expr
		Negate bool
	}

	// Arith applies an arithmetic operator.
	Arith struct {
		Op   Op
		L, R Expr
	}

	// Neg is the arithmetic negation.
	Neg struct{ X Expr }

	// Concat concatenates strings.
	Concat struct{ Args []Expr }

	// Match matches a string against a regular expression.
	Match struct{ X, Pattern Expr }

	// If selects between two values.
	If struct{ Cond, Then, Else Expr }

	// Count counts the elements of a collection, optionally restricted.
	Count struct {
		Over  *Path
		Where Expr
	}

	// Exists reports whether a collection has an element, optionally restricted.
	Exists struct {
		Over  *Path
		Where Expr
	}

	// Agg aggregates a value over the elements of a collection.
	Agg struct {
		Fn    AggFunc
		Over  *Path
		Value Expr
		Where Expr
	}

	// Item is a named projection entry.
	Item struct {
		Name string
		Expr Expr
	}

	// Query is a projection with an optional restriction. A flattening query
	// produces one row per element of the to-many paths it projects.
	Query struct {
		Items   []Item
		Where   Expr
		Flatten bool
	}
)

func (*Lit) node()     {}
func (*Param) node()   {}
func (*Path) node()    {}
func (*Compare) node() {}
func (*And) node()     {}
func (*Or) node()      {}
func (*Not) node()     {}
func (*IsNull) node()  {}
func (*Arith) node()   {}
func (*Neg) node()     {}
func (*Concat) node()  {}
func (*Match) node()   {}
func (*If) node()      {}
func (*Count) node()   {}
func (*Exists) node()  {}
func (*Agg) node()     {}
func (*Query) node()   {}

// P returns the path of a dotted name.
func P(dotted string) *Path {
	return &Path{Steps: strings.Split(dotted, ".")}
}

// Int returns an integer literal.
func Int(v int64) *Lit { return &Lit{Value: v} }

// Float returns a float literal.
func Float(v float64) *Lit { return &Lit{Value: v} }

// Str returns a string literal.
func Str(v string) *Lit { return &Lit{Value: v} }

// Bool returns a boolean literal.
func Bool(v bool) *Lit { return &Lit{Value: v} }

// Null returns the null literal.
func Null() *Lit { return &Lit{} }

// Eq returns l = r.
func Eq(l, r Expr) *Compare { return &Compare{Op: EQ, L: l, R: r} }

// Cmp returns the comparison l op r.
func Cmp(op Op, l, r Expr) *Compare { return &Compare{Op: op, L: l, R: r} }

// String returns the dotted form of the path.
func (p *Path) String() string { return strings.Join(p.Steps, ".") }

// Head returns the first step of the path.
func (p *Path) Head() string { return p.Steps[0] }

// Tail returns the path without its first step, or nil.
func (p *Path) Tail() *Path {
	if len(p.Steps) < 2 {
		return nil
	}
	return &Path{Steps: p.Steps[1:]}
}

func (l *Lit) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	default:
		return "null"
	}
}

func (p *Param) String() string { return ":" + p.Name }

func (c *Compare) String() string {
	return operand(c.L) + " " + string(c.Op) + " " + operand(c.R)
}

func (a *And) String() string { return join(a.Args, " and ") }

func (o *Or) String() string { return join(o.Args, " or ") }

func (n *Not) String() string { return "not " + operand(n.X) }

func (n *IsNull) String() string {
	if n.Negate {
		return operand(n.X) + " is not null"
	}
	return operand(n.X) + " is null"
}

func (a *Arith) String() string {
	return operand(a.L) + " " + string(a.Op) + " " + operand(a.R)
}

func (n *Neg) String() string { return "-" + operand(n.X) }

func (c *Concat) String() string { return join(c.Args, " || ") }

func (m *Match) String() string { return operand(m.X) + " ~ " + operand(m.Pattern) }

func (i *If) String() string {
	return "if(" + i.Cond.String() + ", " + i.Then.String() + ", " + i.Else.String() + ")"
}

func (c *Count) String() string {
	return "count(" + c.Over.String() + where(c.Where) + ")"
}

func (e *Exists) String() string {
	return "exists(" + e.Over.String() + where(e.Where) + ")"
}

func (a *Agg) String() string {
	return string(a.Fn) + "(" + a.Over.String() + ", " + a.Value.String() + where(a.Where) + ")"
}

func (q *Query) String() string {
	var b strings.Builder
	if q.Flatten {
		b.WriteString("flatten ")
	}
	b.WriteString("select ")
	for i, it := range q.Items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(it.Expr.String())
		if it.Name != "" {
			b.WriteString(" as ")
			b.WriteString(it.Name)
		}
	}
	b.WriteString(where(q.Where))
	return b.String()
}

func where(x Expr) string {
	if x == nil {
		return ""
	}
	return " where " + x.String()
}

func join(args []Expr, sep string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = operand(a)
	}
	return strings.Join(parts, sep)
}

// operand wraps compound operands in parentheses.
func operand(x Expr) string {
	switch x.(type) {
	case *Compare, *And, *Or, *Not, *IsNull, *Arith, *Concat, *Match, *Neg:
		return "(" + x.String() + ")"
	default:
		return x.String()
	}
}

// Walk calls fn for x and its sub-expressions in depth-first order. Children
// are skipped when fn returns false.
func Walk(x Expr, fn func(Expr) bool) {
	if x == nil || !fn(x) {
		return
	}
	switch x := x.(type) {
	case *Compare:
		Walk(x.L, fn)
		Walk(x.R, fn)
	case *And:
		for _, a := range x.Args {
			Walk(a, fn)
		}
	case *Or:
		for _, a := range x.Args {
			Walk(a, fn)
		}
	case *Not:
		Walk(x.X, fn)
	case *IsNull:
		Walk(x.X, fn)
	case *Arith:
		Walk(x.L, fn)
		Walk(x.R, fn)
	case *Neg:
		Walk(x.X, fn)
	case *Concat:
		for _, a := range x.Args {
			Walk(a, fn)
		}
	case *Match:
		Walk(x.X, fn)
		Walk(x.Pattern, fn)
	case *If:
		Walk(x.Cond, fn)
		Walk(x.Then, fn)
		Walk(x.Else, fn)
	case *Count:
		Walk(x.Over, fn)
		Walk(x.Where, fn)
	case *Exists:
		Walk(x.Over, fn)
		Walk(x.Where, fn)
	case *Agg:
		Walk(x.Over, fn)
		Walk(x.Value, fn)
		Walk(x.Where, fn)
	case *Query:
		for _, it := range x.Items {
			Walk(it.Expr, fn)
		}
		Walk(x.Where, fn)
	}
}

// Params returns the distinct parameter names of x in first-use order.
func Params(x Expr) []string {
	var (
		names []string
		seen  = make(map[string]bool)
	)
	Walk(x, func(e Expr) bool {
		if p, ok := e.(*Param); ok && !seen[p.Name] {
			seen[p.Name] = true
			names = append(names, p.Name)
		}
		return true
	})
	return names
}
