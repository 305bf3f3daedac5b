package query

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/syssam/relvar"
	layout "github.com/syssam/relvar/dialect/sql/schema"
	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/formula"
)

// Compiler compiles formulas against a schema and its physical layout.
// A Compiler is immutable and safe for concurrent use; every compilation
// keeps its own state.
type Compiler struct {
	layout *layout.Layout
	schema *schema.Schema
	logger *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger of the compiler.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCompiler returns a compiler for the layout l of the closed schema s.
func NewCompiler(l *layout.Layout, s *schema.Schema, opts ...Option) *Compiler {
	c := &Compiler{
		layout: l,
		schema: s,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile compiles x in the scope of the named entity. Queries produce one
// item per projection; any other formula produces a single item named
// value.
func (c *Compiler) Compile(x formula.Expr, scope string) (*Plan, error) {
	return c.compile(x, scope, "")
}

// CompileAttribute compiles the formula of a derived or maintained attribute.
func (c *Compiler) CompileAttribute(entity, attribute string) (*Plan, error) {
	e, ok := c.schema.Entity(entity)
	if !ok {
		return nil, &relvar.UnresolvedReferenceError{Location: relvar.Location{Schema: c.schema.Name}, Name: entity, Scope: "entities of " + c.schema.Name}
	}
	a, ok := e.Attribute(attribute)
	if !ok {
		return nil, &relvar.UnresolvedReferenceError{Location: e.Location(), Name: attribute, Scope: entity}
	}
	if a.Formula == nil {
		return nil, relvar.NewSchemaError(e.Location().At(attribute), "%s attribute has no formula", a.Kind)
	}
	return c.compile(a.Formula, entity, attribute)
}

// Parse parses src and compiles it in the scope of the named entity.
func (c *Compiler) Parse(src, scope string) (*Plan, error) {
	x, err := formula.Parse(src)
	if err != nil {
		return nil, err
	}
	return c.Compile(x, scope)
}

func (c *Compiler) compile(x formula.Expr, scope, attribute string) (*Plan, error) {
	if x == nil {
		return nil, fmt.Errorf("relvar: nil formula")
	}
	e, ok := c.schema.Entity(scope)
	if !ok {
		return nil, &relvar.UnresolvedReferenceError{Location: relvar.Location{Schema: c.schema.Name}, Name: scope, Scope: "entities of " + c.schema.Name}
	}
	t, ok := c.layout.EntityTable(e.Name)
	if !ok {
		return nil, relvar.NewSchemaError(e.Location(), "entity has no table")
	}
	s := &state{
		c:    c,
		loc:  e.Location().At(attribute),
		plan: &Plan{Scope: e.Name, Source: x.String()},
	}
	if attribute != "" {
		if a, ok := e.Attribute(attribute); ok && a.Kind == schema.Derived {
			s.visiting = append(s.visiting, e.Name+"."+attribute)
		}
	}
	root := s.newScope(t.Name)
	f := &frame{scope: root, entity: e, table: t, alias: root.sel.From.Alias}
	var err error
	if q, ok := x.(*formula.Query); ok {
		err = s.query(f, q)
	} else {
		err = s.single(f, x, attribute)
	}
	if err != nil {
		return nil, err
	}
	s.plan.Select = root.sel
	c.logger.Debug("formula compiled",
		slog.String("scope", scope),
		slog.String("formula", s.plan.Source),
		slog.Int("joins", len(root.sel.Joins)),
		slog.Int("params", len(s.plan.Params)),
	)
	return s.plan, nil
}

type (
	// state is the state of one compilation.
	state struct {
		c       *Compiler
		loc     relvar.Location
		plan    *Plan
		aliases int
		// flatten allows to-many paths to join into the current select.
		flatten bool
		// visiting is the stack of derived attributes being substituted.
		visiting []string
	}

	// scope is one select statement under construction.
	scope struct {
		sel   *Select
		joins map[joinKey]*frame
	}

	joinKey struct {
		alias string
		attr  string
	}

	// frame is a navigation position: a row of an entity table, a collection
	// element, or the value column of a check constraint.
	frame struct {
		scope    *scope
		entity   *schema.Entity
		table    *layout.Table
		alias    string
		optional bool // reached through a left join
		// elem is set for collection element frames.
		elem *element
		// check is set for check constraint frames.
		check *layout.Column
	}

	element struct {
		attr  *schema.Attribute
		typ   schema.Type
		table *layout.Table // auxiliary table
		alias string        // alias of the auxiliary table
	}

	// value is a typed compiled expression.
	value struct {
		x        Expr
		kind     schema.Kind
		typ      schema.Type
		nullable bool
		null     bool   // the null literal
		param    string // name of a bare placeholder
	}
)

func (s *state) alias() string {
	a := fmt.Sprintf("t%d", s.aliases)
	s.aliases++
	return a
}

func (s *state) newScope(table string) *scope {
	return &scope{
		sel:   &Select{From: TableRef{Name: table, Alias: s.alias()}},
		joins: make(map[joinKey]*frame),
	}
}

func (s *state) single(f *frame, x formula.Expr, attribute string) error {
	v, err := s.expr(f, x)
	if err != nil {
		return err
	}
	name := "value"
	if attribute != "" {
		name = attribute
		a, _ := f.entity.Attribute(attribute)
		if v, err = s.conform(v, a, f.entity.Name+"."+attribute); err != nil {
			return err
		}
	}
	if err := s.projectable(v, name); err != nil {
		return err
	}
	f.scope.sel.Items = []Item{{Name: name, Expr: v.x}}
	s.plan.Result = []ResultColumn{{Name: name, Kind: v.kind, Type: v.typ, Nullable: v.nullable}}
	return nil
}

func (s *state) query(f *frame, q *formula.Query) error {
	if len(q.Items) == 0 {
		return relvar.NewSchemaError(s.loc, "query selects nothing")
	}
	s.flatten = q.Flatten
	defer func() { s.flatten = false }()
	seen := make(map[string]bool, len(q.Items))
	for i, it := range q.Items {
		name := it.Name
		if name == "" {
			if p, ok := it.Expr.(*formula.Path); ok {
				name = p.String()
			} else {
				name = fmt.Sprintf("col%d", i+1)
			}
		}
		if seen[name] {
			return relvar.NewSchemaError(s.loc, "duplicate projection name %q", name)
		}
		seen[name] = true
		v, err := s.expr(f, it.Expr)
		if err != nil {
			return err
		}
		if err := s.projectable(v, name); err != nil {
			return err
		}
		f.scope.sel.Items = append(f.scope.sel.Items, Item{Name: name, Expr: v.x})
		s.plan.Result = append(s.plan.Result, ResultColumn{Name: name, Kind: v.kind, Type: v.typ, Nullable: v.nullable})
	}
	if q.Where != nil {
		w, err := s.cond(f, q.Where)
		if err != nil {
			return err
		}
		f.scope.sel.Where = and(f.scope.sel.Where, w)
	}
	return nil
}

func (s *state) projectable(v value, name string) error {
	switch {
	case v.param != "" && v.kind == schema.KindInvalid:
		return s.mismatch("select", "", "", fmt.Sprintf("cannot infer the type of :%s in %s", v.param, name))
	case v.null:
		return s.mismatch("select", "null", "", "cannot select the null literal as "+name)
	}
	return nil
}

// path resolves a dotted path from frame f.
func (s *state) path(f *frame, p *formula.Path) (value, error) {
	return s.walk(f, s.strip(f, p.Steps), p.String())
}

// strip drops a leading self or entity name step.
func (s *state) strip(f *frame, steps []string) []string {
	if f.entity != nil && len(steps) > 1 && (steps[0] == "self" || strings.EqualFold(steps[0], f.entity.Name)) {
		if _, ok := f.entity.Attribute(steps[0]); !ok {
			return steps[1:]
		}
	}
	return steps
}

func (s *state) walk(f *frame, steps []string, full string) (value, error) {
	if len(steps) == 0 {
		return value{}, &relvar.UnresolvedReferenceError{Location: s.loc, Name: full, Scope: "empty path"}
	}
	switch {
	case f.check != nil:
		if len(steps) != 1 || steps[0] != "value" {
			return value{}, &relvar.UnresolvedReferenceError{Location: s.loc, Name: full, Scope: "check of " + f.check.Name}
		}
		return value{x: &Column{Name: f.check.Name}, kind: f.check.Type, nullable: f.check.Nullable}, nil
	case f.entity == nil:
		return s.elementValue(f, steps, full)
	}
	a, ok := f.entity.Attribute(steps[0])
	if !ok {
		return value{}, &relvar.UnresolvedReferenceError{Location: s.loc, Name: steps[0], Scope: f.entity.Name}
	}
	rest := steps[1:]
	if a.Kind == schema.Derived {
		return s.derived(f, a, rest, full)
	}
	switch t := a.Type.(type) {
	case schema.Reference:
		if len(rest) == 0 {
			return s.reference(f, f.alias, a, f.table.ColumnsOf(a.Name))
		}
		g, err := s.joinReference(f, a, t)
		if err != nil {
			return value{}, err
		}
		return s.walk(g, rest, full)
	case schema.TupleOf:
		if len(rest) == 0 {
			return value{}, s.mismatch(".", a.Type.String(), "", fmt.Sprintf("tuple %s cannot be used as a value, select one of its fields", full))
		}
		return s.tupleField(f, f.alias, a, f.table.ColumnsOf(a.Name), rest, full)
	case schema.List, schema.Set, schema.Relation:
		if !s.flatten {
			return value{}, s.mismatch(".", a.Type.String(), "", fmt.Sprintf("collection %s can only be used in count, exists, an aggregate or a flatten query", full))
		}
		g, err := s.joinCollection(f, a)
		if err != nil {
			return value{}, err
		}
		if g.entity != nil && len(rest) == 0 {
			return s.reference(g, g.elem.alias, g.elem.attr, elementColumns(g.elem.table))
		}
		if len(rest) == 0 {
			rest = []string{"value"}
		}
		return s.walk(g, rest, full)
	default:
		if len(rest) > 0 {
			return value{}, s.mismatch(".", a.Type.String(), "", fmt.Sprintf("cannot navigate into %s", full))
		}
		cols := f.table.ColumnsOf(a.Name)
		if len(cols) != 1 {
			return value{}, relvar.NewSchemaError(s.loc, "attribute %s is not mapped to one column", full)
		}
		return value{
			x:        &Column{Alias: f.alias, Name: cols[0].Name},
			kind:     schema.ScalarKind(a.Type),
			typ:      a.Type,
			nullable: cols[0].Nullable || f.optional,
		}, nil
	}
}

// reference returns the value of a reference: its single key column.
func (s *state) reference(f *frame, alias string, a *schema.Attribute, cols []*layout.Column) (value, error) {
	if len(cols) != 1 {
		return value{}, s.mismatch(".", a.Type.String(), "", fmt.Sprintf("reference %s has a composite key and cannot be used as a value", a.Name))
	}
	typ := a.Type
	if e, ok := schema.Elem(typ); ok {
		typ = e
	}
	return value{
		x:        &Column{Alias: alias, Name: cols[0].Name},
		kind:     cols[0].Type,
		typ:      typ,
		nullable: cols[0].Nullable || f.optional,
	}, nil
}

// tupleField resolves a field of an inline tuple among the attribute's columns.
func (s *state) tupleField(f *frame, alias string, a *schema.Attribute, cols []*layout.Column, rest []string, full string) (value, error) {
	path := strings.Join(rest, ".")
	var match []*layout.Column
	for _, c := range cols {
		if c.Origin.Path == path {
			match = append(match, c)
		}
	}
	if len(match) == 0 {
		return value{}, &relvar.UnresolvedReferenceError{Location: s.loc, Name: full, Scope: a.Type.String()}
	}
	if len(match) > 1 {
		return value{}, s.mismatch(".", a.Type.String(), "", fmt.Sprintf("field %s has a composite key and cannot be used as a value", full))
	}
	v := value{
		x:        &Column{Alias: alias, Name: match[0].Name},
		kind:     match[0].Type,
		nullable: match[0].Nullable || f.optional,
	}
	if name, ok := a.Type.(schema.TupleOf); ok {
		v.typ = s.fieldType(name.Tuple, rest)
	} else if rel, ok := a.Type.(schema.Relation); ok {
		v.typ = s.fieldType(rel.Tuple, rest)
	}
	return v, nil
}

func (s *state) fieldType(tuple string, path []string) schema.Type {
	tu, ok := s.c.schema.Tuple(tuple)
	if !ok {
		return nil
	}
	fa, ok := tu.Attribute(path[0])
	if !ok {
		return nil
	}
	if len(path) == 1 {
		return fa.Type
	}
	if next, ok := fa.Type.(schema.TupleOf); ok {
		return s.fieldType(next.Tuple, path[1:])
	}
	return nil
}

// elementValue resolves a path inside a scalar or tuple element frame.
func (s *state) elementValue(f *frame, steps []string, full string) (value, error) {
	a := f.elem.attr
	if _, ok := f.elem.typ.(schema.TupleOf); ok {
		return s.tupleField(f, f.elem.alias, a, elementColumns(f.elem.table), steps, full)
	}
	if len(steps) != 1 || steps[0] != "value" {
		return value{}, &relvar.UnresolvedReferenceError{Location: s.loc, Name: full, Scope: "elements of " + a.Name}
	}
	cols := elementColumns(f.elem.table)
	if len(cols) != 1 {
		return value{}, relvar.NewSchemaError(s.loc, "elements of %s are not mapped to one column", a.Name)
	}
	return value{
		x:        &Column{Alias: f.elem.alias, Name: cols[0].Name},
		kind:     schema.ScalarKind(f.elem.typ),
		typ:      f.elem.typ,
		nullable: cols[0].Nullable || f.optional,
	}, nil
}

func elementColumns(t *layout.Table) []*layout.Column {
	var cols []*layout.Column
	for _, c := range t.Columns {
		if c.Origin.Role == layout.RoleElement {
			cols = append(cols, c)
		}
	}
	return cols
}

// derived substitutes the formula of a derived attribute in place.
func (s *state) derived(f *frame, a *schema.Attribute, rest []string, full string) (value, error) {
	key := f.entity.Name + "." + a.Name
	if i := slices.Index(s.visiting, key); i >= 0 {
		cycle := append(slices.Clone(s.visiting[i:]), key)
		return value{}, &relvar.CyclicDerivationError{Location: s.loc, Cycle: cycle}
	}
	s.visiting = append(s.visiting, key)
	defer func() { s.visiting = s.visiting[:len(s.visiting)-1] }()
	if a.Formula == nil {
		return value{}, relvar.NewSchemaError(s.loc, "derived attribute %s has no formula", key)
	}
	if len(rest) > 0 {
		p, ok := a.Formula.(*formula.Path)
		if !ok {
			return value{}, s.mismatch(".", "", "", fmt.Sprintf("cannot navigate into derived attribute %s", full))
		}
		steps := append(slices.Clone(s.strip(f, p.Steps)), rest...)
		return s.walk(f, steps, full)
	}
	if _, ok := a.Formula.(*formula.Query); ok {
		return value{}, relvar.NewSchemaError(s.loc, "derived attribute %s cannot be a query", key)
	}
	v, err := s.expr(f, a.Formula)
	if err != nil {
		return value{}, err
	}
	return s.conform(v, a, key)
}

// conform checks v against the declared type of the attribute a.
func (s *state) conform(v value, a *schema.Attribute, key string) (value, error) {
	if a.Type == nil {
		return v, nil
	}
	if r, ok := a.Type.(schema.Reference); ok {
		if vr, ok := v.typ.(schema.Reference); !ok || vr.Entity != r.Entity {
			return value{}, s.mismatch("=", a.Type.String(), typeName(v), "attribute "+key+" does not match its declared type")
		}
		return v, nil
	}
	want := schema.ScalarKind(a.Type)
	if err := s.settle(&v, want); err != nil {
		return value{}, err
	}
	if v.kind != want && !(v.kind.Numeric() && want.Numeric()) && !v.null {
		return value{}, s.mismatch("=", a.Type.String(), typeName(v), "attribute "+key+" does not match its declared type")
	}
	v.typ = a.Type
	return v, nil
}

// joinReference joins the table referenced by a, once per source alias and
// attribute.
func (s *state) joinReference(f *frame, a *schema.Attribute, ref schema.Reference) (*frame, error) {
	key := joinKey{alias: f.alias, attr: a.Name}
	if g, ok := f.scope.joins[key]; ok {
		return g, nil
	}
	e, ok := s.c.schema.Entity(ref.Entity)
	if !ok {
		return nil, &relvar.UnresolvedReferenceError{Location: s.loc, Name: ref.Entity, Scope: "entities of " + s.c.schema.Name}
	}
	t, ok := s.c.layout.EntityTable(e.Name)
	if !ok {
		return nil, relvar.NewSchemaError(e.Location(), "entity has no table")
	}
	fk := foreignKey(f.table, a.Name, layout.RoleIdentifier, layout.RoleAttribute, layout.RoleMaintained)
	if fk == nil {
		return nil, relvar.NewSchemaError(s.loc, "reference %s.%s has no foreign key", f.entity.Name, a.Name)
	}
	g := &frame{scope: f.scope, entity: e, table: t, alias: s.alias(), optional: f.optional || a.Nullable()}
	kind := InnerJoin
	if g.optional {
		kind = LeftJoin
	}
	f.scope.sel.Joins = append(f.scope.sel.Joins, &Join{
		Kind:  kind,
		Table: TableRef{Name: t.Name, Alias: g.alias},
		On:    equate(g.alias, fk.RefColumns, f.alias, fk.Columns),
	})
	f.scope.joins[key] = g
	return g, nil
}

// joinCollection joins the auxiliary table of a collection into the current
// select, and the element entity for reference elements.
func (s *state) joinCollection(f *frame, a *schema.Attribute) (*frame, error) {
	key := joinKey{alias: f.alias, attr: a.Name}
	if g, ok := f.scope.joins[key]; ok {
		return g, nil
	}
	aux, owner, err := s.auxTable(f, a)
	if err != nil {
		return nil, err
	}
	kind := InnerJoin
	if f.optional {
		kind = LeftJoin
	}
	alias := s.alias()
	f.scope.sel.Joins = append(f.scope.sel.Joins, &Join{
		Kind:  kind,
		Table: TableRef{Name: aux.Name, Alias: alias},
		On:    equate(alias, owner.Columns, f.alias, owner.RefColumns),
	})
	g, err := s.elementFrame(f.scope, aux, alias, a, f.optional)
	if err != nil {
		return nil, err
	}
	f.scope.joins[key] = g
	return g, nil
}

func (s *state) auxTable(f *frame, a *schema.Attribute) (*layout.Table, *layout.ForeignKey, error) {
	aux, ok := s.c.layout.CollectionTable(f.entity.Name, a.Name)
	if !ok {
		return nil, nil, relvar.NewSchemaError(s.loc, "collection %s.%s has no table", f.entity.Name, a.Name)
	}
	owner := foreignKey(aux, a.Name, layout.RoleOwner)
	if owner == nil {
		return nil, nil, relvar.NewSchemaError(s.loc, "collection table %s has no owner key", aux.Name)
	}
	return aux, owner, nil
}

// elementFrame returns the frame of a collection element. Reference
// elements join their entity table in sc.
func (s *state) elementFrame(sc *scope, aux *layout.Table, alias string, a *schema.Attribute, optional bool) (*frame, error) {
	et, _ := schema.Elem(a.Type)
	el := &element{attr: a, typ: et, table: aux, alias: alias}
	ref, ok := et.(schema.Reference)
	if !ok {
		return &frame{scope: sc, table: aux, alias: alias, optional: optional, elem: el}, nil
	}
	e, ok := s.c.schema.Entity(ref.Entity)
	if !ok {
		return nil, &relvar.UnresolvedReferenceError{Location: s.loc, Name: ref.Entity, Scope: "entities of " + s.c.schema.Name}
	}
	t, ok := s.c.layout.EntityTable(e.Name)
	if !ok {
		return nil, relvar.NewSchemaError(e.Location(), "entity has no table")
	}
	fk := foreignKey(aux, a.Name, layout.RoleElement)
	if fk == nil {
		return nil, relvar.NewSchemaError(s.loc, "collection table %s has no element key", aux.Name)
	}
	g := &frame{scope: sc, entity: e, table: t, alias: s.alias(), optional: optional, elem: el}
	kind := InnerJoin
	if optional {
		kind = LeftJoin
	}
	sc.sel.Joins = append(sc.sel.Joins, &Join{
		Kind:  kind,
		Table: TableRef{Name: t.Name, Alias: g.alias},
		On:    equate(g.alias, fk.RefColumns, alias, fk.Columns),
	})
	return g, nil
}

// collection opens a correlated subquery over the collection at the end of
// over. It returns the element frame inside the subquery.
func (s *state) collection(f *frame, over *formula.Path, op string) (*frame, error) {
	if f.entity == nil {
		return nil, s.mismatch(op, "", "", "collections can only be aggregated from an entity")
	}
	steps := s.strip(f, over.Steps)
	g := f
	for i, step := range steps {
		if g.entity == nil {
			return nil, &relvar.UnresolvedReferenceError{Location: s.loc, Name: over.String(), Scope: "entities"}
		}
		a, ok := g.entity.Attribute(step)
		if !ok {
			return nil, &relvar.UnresolvedReferenceError{Location: s.loc, Name: step, Scope: g.entity.Name}
		}
		last := i == len(steps)-1
		if a.Kind == schema.Derived {
			return nil, s.mismatch(op, "", "", fmt.Sprintf("%s of derived attribute %s", op, over))
		}
		switch t := a.Type.(type) {
		case schema.Reference:
			if last {
				return nil, s.mismatch(op, a.Type.String(), "", fmt.Sprintf("%s is not a collection", over))
			}
			next, err := s.joinReference(g, a, t)
			if err != nil {
				return nil, err
			}
			g = next
		case schema.List, schema.Set, schema.Relation:
			if !last {
				return nil, s.mismatch(op, a.Type.String(), "", fmt.Sprintf("cannot navigate through collection %s in %s", step, over))
			}
			aux, owner, err := s.auxTable(g, a)
			if err != nil {
				return nil, err
			}
			sub := s.newScope(aux.Name)
			sub.sel.Where = equate(sub.sel.From.Alias, owner.Columns, g.alias, owner.RefColumns)
			return s.elementFrame(sub, aux, sub.sel.From.Alias, a, false)
		default:
			return nil, s.mismatch(op, a.Type.String(), "", fmt.Sprintf("%s is not a collection", over))
		}
	}
	return nil, &relvar.UnresolvedReferenceError{Location: s.loc, Name: over.String(), Scope: f.entity.Name}
}

// foreignKey returns the foreign key of t storing the given attribute with
// one of the given roles. Tuple field references are skipped.
func foreignKey(t *layout.Table, attr string, roles ...layout.Role) *layout.ForeignKey {
	for _, fk := range t.ForeignKeys {
		if fk.Origin.Attribute == attr && fk.Origin.Path == "" && slices.Contains(roles, fk.Origin.Role) {
			return fk
		}
	}
	return nil
}

// equate returns the conjunction left.lcols[i] = right.rcols[i].
func equate(left string, lcols []string, right string, rcols []string) Expr {
	var args []Expr
	for i := range lcols {
		args = append(args, &Compare{Op: formula.EQ, L: &Column{Alias: left, Name: lcols[i]}, R: &Column{Alias: right, Name: rcols[i]}})
	}
	if len(args) == 1 {
		return args[0]
	}
	return &Logic{Args: args}
}

// and conjoins two conditions, either of which may be nil.
func and(a, b Expr) Expr {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	var args []Expr
	for _, x := range []Expr{a, b} {
		if l, ok := x.(*Logic); ok && !l.Or {
			args = append(args, l.Args...)
		} else {
			args = append(args, x)
		}
	}
	return &Logic{Args: args}
}

func (s *state) mismatch(op, left, right, msg string) error {
	return &relvar.TypeMismatchError{Location: s.loc, Op: op, Left: left, Right: right, Message: msg}
}

func typeName(v value) string {
	switch {
	case v.null:
		return "null"
	case v.typ != nil:
		return v.typ.String()
	case v.param != "" && v.kind == schema.KindInvalid:
		return ":" + v.param
	default:
		return v.kind.String()
	}
}
