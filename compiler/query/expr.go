package query

import (
	"fmt"
	"slices"

	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/formula"
)

// expr compiles x in frame f.
func (s *state) expr(f *frame, x formula.Expr) (value, error) {
	switch x := x.(type) {
	case *formula.Lit:
		return literal(x)
	case *formula.Param:
		return s.param(x.Name), nil
	case *formula.Path:
		return s.path(f, x)
	case *formula.Compare:
		l, err := s.expr(f, x.L)
		if err != nil {
			return value{}, err
		}
		r, err := s.expr(f, x.R)
		if err != nil {
			return value{}, err
		}
		return s.compare(x.Op, l, r)
	case *formula.And:
		return s.logic(f, x.Args, false)
	case *formula.Or:
		return s.logic(f, x.Args, true)
	case *formula.Not:
		c, err := s.cond(f, x.X)
		if err != nil {
			return value{}, err
		}
		return value{x: &Not{X: c}, kind: schema.KindBool}, nil
	case *formula.IsNull:
		v, err := s.expr(f, x.X)
		if err != nil {
			return value{}, err
		}
		if v.param != "" && v.kind == schema.KindInvalid {
			return value{}, s.mismatch("is null", typeName(v), "", "cannot test a parameter of unknown type for null")
		}
		return value{x: &NullTest{X: v.x, Negate: x.Negate}, kind: schema.KindBool}, nil
	case *formula.Arith:
		return s.arith(f, x)
	case *formula.Neg:
		v, err := s.expr(f, x.X)
		if err != nil {
			return value{}, err
		}
		if err := s.settle(&v, schema.KindFloat); err != nil {
			return value{}, err
		}
		if !v.kind.Numeric() {
			return value{}, s.mismatch("-", typeName(v), "", "negation of a non-numeric value")
		}
		return value{x: &Negate{X: v.x}, kind: v.kind, nullable: v.nullable}, nil
	case *formula.Concat:
		out := value{kind: schema.KindString}
		args := make([]Expr, 0, len(x.Args))
		for _, a := range x.Args {
			v, err := s.expr(f, a)
			if err != nil {
				return value{}, err
			}
			if err := s.settle(&v, schema.KindString); err != nil {
				return value{}, err
			}
			if v.kind != schema.KindString && !v.null {
				return value{}, s.mismatch("||", typeName(v), "", "concatenation of a non-string value")
			}
			out.nullable = out.nullable || v.nullable || v.null
			args = append(args, v.x)
		}
		out.x = &Concat{Args: args}
		return out, nil
	case *formula.Match:
		v, err := s.expr(f, x.X)
		if err != nil {
			return value{}, err
		}
		p, err := s.expr(f, x.Pattern)
		if err != nil {
			return value{}, err
		}
		for _, w := range []*value{&v, &p} {
			if err := s.settle(w, schema.KindString); err != nil {
				return value{}, err
			}
			if w.kind != schema.KindString {
				return value{}, s.mismatch("~", typeName(v), typeName(p), "regular expressions match strings")
			}
		}
		return s.guard(&Regex{X: v.x, Pattern: p.x}, v, p), nil
	case *formula.If:
		return s.cases(f, x)
	case *formula.Count:
		g, err := s.collection(f, x.Over, "count")
		if err != nil {
			return value{}, err
		}
		if err := s.restrict(g, x.Where); err != nil {
			return value{}, err
		}
		g.scope.sel.Items = []Item{{Name: "count", Expr: &Aggregate{Fn: "count"}}}
		return value{x: &Subquery{Select: g.scope.sel}, kind: schema.KindInt}, nil
	case *formula.Exists:
		g, err := s.collection(f, x.Over, "exists")
		if err != nil {
			return value{}, err
		}
		if err := s.restrict(g, x.Where); err != nil {
			return value{}, err
		}
		g.scope.sel.Items = []Item{{Name: "one", Expr: &Literal{Value: int64(1)}}}
		return value{x: &Exists{Select: g.scope.sel}, kind: schema.KindBool}, nil
	case *formula.Agg:
		return s.aggregate(f, x)
	case *formula.Query:
		return value{}, s.mismatch("select", "", "", "queries cannot be nested")
	case nil:
		return value{}, s.mismatch("", "", "", "missing operand")
	default:
		return value{}, s.mismatch("", "", "", fmt.Sprintf("unsupported expression %T", x))
	}
}

func literal(l *formula.Lit) (value, error) {
	switch v := l.Value.(type) {
	case nil:
		return value{x: &Literal{}, null: true, nullable: true}, nil
	case bool:
		return value{x: &Literal{Value: v}, kind: schema.KindBool}, nil
	case int:
		return value{x: &Literal{Value: int64(v)}, kind: schema.KindInt}, nil
	case int64:
		return value{x: &Literal{Value: v}, kind: schema.KindInt}, nil
	case float64:
		return value{x: &Literal{Value: v}, kind: schema.KindFloat}, nil
	case string:
		return value{x: &Literal{Value: v}, kind: schema.KindString}, nil
	default:
		return value{}, fmt.Errorf("relvar: unsupported literal %T", l.Value)
	}
}

// param returns a placeholder for the named parameter, registering its slot
// on first use.
func (s *state) param(name string) value {
	v := value{x: &Placeholder{Name: name}, param: name}
	i := slices.IndexFunc(s.plan.Params, func(p Param) bool { return p.Name == name })
	if i < 0 {
		s.plan.Params = append(s.plan.Params, Param{Name: name})
	} else {
		v.kind = s.plan.Params[i].Kind
	}
	return v
}

// settle assigns kind k to an untyped parameter value. Values of known
// kind are left alone.
func (s *state) settle(v *value, k schema.Kind) error {
	if v.param == "" || v.kind != schema.KindInvalid || k == schema.KindInvalid {
		return nil
	}
	for i := range s.plan.Params {
		p := &s.plan.Params[i]
		if p.Name != v.param {
			continue
		}
		if p.Kind != schema.KindInvalid && p.Kind != k {
			return s.mismatch("bind", ":"+p.Name, k.String(), fmt.Sprintf("parameter already used as %s", p.Kind))
		}
		p.Kind = k
	}
	v.kind = k
	return nil
}

// cond compiles x as a two-valued condition.
func (s *state) cond(f *frame, x formula.Expr) (Expr, error) {
	v, err := s.expr(f, x)
	if err != nil {
		return nil, err
	}
	return s.condition(v)
}

func (s *state) condition(v value) (Expr, error) {
	if err := s.settle(&v, schema.KindBool); err != nil {
		return nil, err
	}
	if v.kind != schema.KindBool {
		return nil, s.mismatch("where", typeName(v), "", "condition must be boolean")
	}
	if IsPredicate(v.x) {
		return v.x, nil
	}
	c := value{x: &Literal{Value: true}, kind: schema.KindBool}
	return s.guard(&Compare{Op: formula.EQ, L: v.x, R: c.x}, v, c).x, nil
}

func (s *state) logic(f *frame, args []formula.Expr, or bool) (value, error) {
	l := &Logic{Or: or}
	for _, a := range args {
		c, err := s.cond(f, a)
		if err != nil {
			return value{}, err
		}
		l.Args = append(l.Args, c)
	}
	return value{x: l, kind: schema.KindBool}, nil
}

// guard makes a predicate over nullable operands false, rather than
// unknown, when an operand is null. Operands evaluating a subquery are not
// repeated: the predicate is folded by CASE, which maps unknown to false.
func (s *state) guard(p Expr, operands ...value) value {
	var args []Expr
	for _, o := range operands {
		if !o.nullable || o.null {
			continue
		}
		if subquery(o.x) {
			one := &Literal{Value: int64(1)}
			x := &Compare{Op: formula.EQ, L: &Case{When: p, Then: one, Else: &Literal{Value: int64(0)}}, R: one}
			return value{x: x, kind: schema.KindBool}
		}
		args = append(args, &NullTest{X: o.x, Negate: true})
	}
	if len(args) == 0 {
		return value{x: p, kind: schema.KindBool}
	}
	return value{x: &Logic{Args: append(args, p)}, kind: schema.KindBool}
}

// subquery reports whether evaluating x runs a subquery.
func subquery(x Expr) bool {
	var found bool
	WalkExpr(x, func(e Expr) {
		switch e.(type) {
		case *Subquery, *Exists, *Aggregate:
			found = true
		}
	})
	return found
}

func (s *state) compare(op formula.Op, l, r value) (value, error) {
	if l.null || r.null {
		if l.null && r.null {
			return value{}, s.mismatch(string(op), "null", "null", "comparison of two nulls")
		}
		other := l
		if l.null {
			other = r
		}
		if other.param != "" && other.kind == schema.KindInvalid {
			return value{}, s.mismatch(string(op), typeName(other), "null", "cannot compare a parameter of unknown type with null")
		}
		switch op {
		case formula.EQ:
			return value{x: &NullTest{X: other.x}, kind: schema.KindBool}, nil
		case formula.NE:
			return value{x: &NullTest{X: other.x, Negate: true}, kind: schema.KindBool}, nil
		default:
			return value{}, s.mismatch(string(op), typeName(l), typeName(r), "only = and != compare with null")
		}
	}
	if l.param != "" && r.param != "" && l.kind == schema.KindInvalid && r.kind == schema.KindInvalid {
		return value{}, s.mismatch(string(op), typeName(l), typeName(r), "cannot infer parameter types")
	}
	if err := s.settle(&l, r.kind); err != nil {
		return value{}, err
	}
	if err := s.settle(&r, l.kind); err != nil {
		return value{}, err
	}
	if err := s.comparable(op, l, r); err != nil {
		return value{}, err
	}
	return s.guard(&Compare{Op: op, L: l.x, R: r.x}, l, r), nil
}

func (s *state) comparable(op formula.Op, l, r value) error {
	switch {
	case l.kind.Numeric() && r.kind.Numeric():
	case l.kind != r.kind:
		return s.mismatch(string(op), typeName(l), typeName(r), "")
	}
	ordering := op == formula.LT || op == formula.LE || op == formula.GT || op == formula.GE
	if ordering && !l.kind.Ordered() {
		return s.mismatch(string(op), typeName(l), typeName(r), "values are not ordered")
	}
	if lr, ok := l.typ.(schema.Reference); ok {
		if rr, ok := r.typ.(schema.Reference); ok && lr.Entity != rr.Entity {
			return s.mismatch(string(op), typeName(l), typeName(r), "references to different entities")
		}
	}
	for _, pair := range [][2]value{{l, r}, {r, l}} {
		e, ok := pair[0].typ.(schema.Enum)
		if !ok {
			continue
		}
		lit, ok := pair[1].x.(*Literal)
		if !ok {
			continue
		}
		if v, ok := lit.Value.(string); ok && !slices.Contains(e.Values, v) {
			return s.mismatch(string(op), typeName(pair[0]), typeName(pair[1]), fmt.Sprintf("%q is not a value of %s", v, e.Name))
		}
	}
	return nil
}

func (s *state) arith(f *frame, x *formula.Arith) (value, error) {
	l, err := s.expr(f, x.L)
	if err != nil {
		return value{}, err
	}
	r, err := s.expr(f, x.R)
	if err != nil {
		return value{}, err
	}
	if err := s.settle(&l, r.kind); err != nil {
		return value{}, err
	}
	if err := s.settle(&r, l.kind); err != nil {
		return value{}, err
	}
	if !l.kind.Numeric() || !r.kind.Numeric() {
		return value{}, s.mismatch(string(x.Op), typeName(l), typeName(r), "arithmetic on non-numeric values")
	}
	return value{
		x:        &Arith{Op: x.Op, L: l.x, R: r.x},
		kind:     promote(l.kind, r.kind),
		nullable: l.nullable || r.nullable,
	}, nil
}

// promote returns the kind of an arithmetic result.
func promote(a, b schema.Kind) schema.Kind {
	switch {
	case a == schema.KindFloat || b == schema.KindFloat:
		return schema.KindFloat
	case a == schema.KindDecimal || b == schema.KindDecimal:
		return schema.KindDecimal
	default:
		return schema.KindInt
	}
}

func (s *state) cases(f *frame, x *formula.If) (value, error) {
	c, err := s.cond(f, x.Cond)
	if err != nil {
		return value{}, err
	}
	t, err := s.expr(f, x.Then)
	if err != nil {
		return value{}, err
	}
	e, err := s.expr(f, x.Else)
	if err != nil {
		return value{}, err
	}
	if err := s.settle(&t, e.kind); err != nil {
		return value{}, err
	}
	if err := s.settle(&e, t.kind); err != nil {
		return value{}, err
	}
	out := value{x: &Case{When: c, Then: t.x, Else: e.x}, nullable: t.nullable || e.nullable}
	switch {
	case t.null && e.null:
		return value{}, s.mismatch("if", "null", "null", "both branches are null")
	case t.null:
		out.kind, out.typ = e.kind, e.typ
	case e.null:
		out.kind, out.typ = t.kind, t.typ
	case t.kind.Numeric() && e.kind.Numeric():
		out.kind = promote(t.kind, e.kind)
	case t.kind != e.kind:
		return value{}, s.mismatch("if", typeName(t), typeName(e), "branches have different types")
	default:
		out.kind = t.kind
		if schema.Equal(t.typ, e.typ) {
			out.typ = t.typ
		}
	}
	return out, nil
}

// restrict adds an element condition to a collection subquery.
func (s *state) restrict(g *frame, where formula.Expr) error {
	if where == nil {
		return nil
	}
	flatten := s.flatten
	s.flatten = false
	defer func() { s.flatten = flatten }()
	c, err := s.cond(g, where)
	if err != nil {
		return err
	}
	g.scope.sel.Where = and(g.scope.sel.Where, c)
	return nil
}

func (s *state) aggregate(f *frame, x *formula.Agg) (value, error) {
	g, err := s.collection(f, x.Over, string(x.Fn))
	if err != nil {
		return value{}, err
	}
	flatten := s.flatten
	s.flatten = false
	v, err := s.expr(g, x.Value)
	s.flatten = flatten
	if err != nil {
		return value{}, err
	}
	if err := s.restrict(g, x.Where); err != nil {
		return value{}, err
	}
	if err := s.settle(&v, schema.KindFloat); err != nil {
		return value{}, err
	}
	out := value{kind: v.kind, nullable: true}
	switch x.Fn {
	case formula.Sum:
		if !v.kind.Numeric() {
			return value{}, s.mismatch(string(x.Fn), typeName(v), "", "sum of non-numeric values")
		}
	case formula.Avg:
		if !v.kind.Numeric() {
			return value{}, s.mismatch(string(x.Fn), typeName(v), "", "average of non-numeric values")
		}
		if v.kind == schema.KindInt {
			out.kind = schema.KindFloat
		}
	case formula.Min, formula.Max:
		if !v.kind.Ordered() {
			return value{}, s.mismatch(string(x.Fn), typeName(v), "", "values are not ordered")
		}
		out.typ = v.typ
	default:
		return value{}, s.mismatch(string(x.Fn), typeName(v), "", "unknown aggregate")
	}
	g.scope.sel.Items = []Item{{Name: string(x.Fn), Expr: &Aggregate{Fn: string(x.Fn), Arg: v.x}}}
	out.x = &Subquery{Select: g.scope.sel}
	return out, nil
}
