package sql

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/compiler/query"
	"github.com/syssam/relvar/dialect"
	"github.com/syssam/relvar/schema/formula"
)

// Statement is a lowered SQL statement.
type Statement struct {
	SQL string
	// Params holds the parameter name of every placeholder, in order.
	// Pass it to query.Plan.Bind to build the statement arguments.
	Params []string
}

func (s *Statement) String() string { return s.SQL }

// Generator lowers physical layouts and query plans to the SQL text of one
// dialect. A Generator is immutable and safe for concurrent use.
type Generator struct {
	opts   dialect.Options
	frags  Fragments
	logger *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithFragments overrides the dialect fragments.
func WithFragments(f Fragments) GeneratorOption {
	return func(g *Generator) {
		if f != nil {
			g.frags = f
		}
	}
}

// WithLogger sets the logger of the generator.
func WithLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGenerator returns a generator for the dialect options.
func NewGenerator(opts dialect.Options, gopts ...GeneratorOption) *Generator {
	g := &Generator{
		opts:   opts,
		frags:  FragmentsFor(opts),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range gopts {
		opt(g)
	}
	return g
}

// Dialect returns the dialect options of the generator.
func (g *Generator) Dialect() dialect.Options { return g.opts }

// Fragments returns the dialect fragments of the generator.
func (g *Generator) Fragments() Fragments { return g.frags }

// Select lowers a query plan to a SELECT statement.
func (g *Generator) Select(p *query.Plan) (*Statement, error) {
	b := g.builder(relvar.Location{Entity: p.Scope})
	if err := b.selectStmt(p.Select); err != nil {
		return nil, err
	}
	g.logger.Debug("select lowered", slog.String("scope", p.Scope), slog.String("sql", b.String()))
	return b.statement(), nil
}

// Refresh lowers the refresh of a maintained column to an UPDATE
// statement that recomputes the column for every row.
func (g *Generator) Refresh(r *query.Refresh) (*Statement, error) {
	loc := relvar.Location{Entity: r.Origin.Entity, Attribute: r.Origin.Attribute}
	if !g.opts.Mode.Support(dialect.SelfSubqueryUpdate) {
		return nil, &relvar.UnsupportedDialectFeatureError{Location: loc, Dialect: g.opts.Name, Feature: "UPDATE with a subquery over the updated table"}
	}
	b := g.builder(loc)
	b.WriteString("UPDATE ")
	b.Ident(r.Table)
	b.WriteString(" SET ")
	b.Ident(r.Column)
	b.WriteString(" = (")
	if err := b.selectStmt(r.Value); err != nil {
		return nil, err
	}
	b.WriteString(")")
	return b.statement(), nil
}

// Condition lowers a condition with unaliased columns, as used by check
// constraints.
func (g *Generator) Condition(x query.Expr, loc relvar.Location) (string, error) {
	b := g.builder(loc)
	if err := b.expr(x); err != nil {
		return "", err
	}
	if len(b.params) > 0 {
		return "", fmt.Errorf("relvar: condition at %s has parameters", loc)
	}
	return b.String(), nil
}

func (g *Generator) builder(loc relvar.Location) *Builder {
	return &Builder{opts: g.opts, frags: g.frags, loc: loc}
}

// Builder accumulates the text and placeholders of one statement.
type Builder struct {
	strings.Builder
	opts   dialect.Options
	frags  Fragments
	loc    relvar.Location
	params []string
}

// Ident writes a quoted identifier.
func (b *Builder) Ident(name string) *Builder {
	b.WriteString(b.frags.Quote(name))
	return b
}

// Arg writes the placeholder of the named parameter.
func (b *Builder) Arg(name string) *Builder {
	b.params = append(b.params, name)
	b.WriteString(b.frags.Placeholder(len(b.params)))
	return b
}

// Join writes the quoted identifiers separated by commas.
func (b *Builder) Join(idents []string) *Builder {
	for i, id := range idents {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(id)
	}
	return b
}

func (b *Builder) statement() *Statement {
	return &Statement{SQL: b.String(), Params: b.params}
}

func (b *Builder) unsupported(feature string) error {
	return &relvar.UnsupportedDialectFeatureError{Location: b.loc, Dialect: b.opts.Name, Feature: feature}
}

func (b *Builder) selectStmt(s *query.Select) error {
	b.WriteString("SELECT ")
	for i, it := range s.Items {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := b.value(it.Expr); err != nil {
			return err
		}
		b.WriteString(" AS ")
		b.Ident(it.Name)
	}
	b.WriteString(" FROM ")
	b.table(s.From)
	for _, j := range s.Joins {
		b.WriteString(" ")
		b.WriteString(j.Kind.String())
		b.WriteString(" ")
		b.table(j.Table)
		b.WriteString(" ON ")
		if err := b.expr(j.On); err != nil {
			return err
		}
	}
	if s.Where != nil {
		b.WriteString(" WHERE ")
		if err := b.expr(s.Where); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) table(t query.TableRef) {
	b.Ident(t.Name)
	if t.Alias != "" {
		b.WriteString(" AS ")
		b.Ident(t.Alias)
	}
}

// value writes x where a value is expected. Dialects without a boolean
// type turn predicates into 1 or 0.
func (b *Builder) value(x query.Expr) error {
	if b.opts.SupportsBoolean || !query.IsPredicate(x) {
		return b.expr(x)
	}
	b.WriteString("CASE WHEN ")
	if err := b.expr(x); err != nil {
		return err
	}
	b.WriteString(" THEN ")
	b.WriteString(b.frags.Bool(true))
	b.WriteString(" ELSE ")
	b.WriteString(b.frags.Bool(false))
	b.WriteString(" END")
	return nil
}

// operand writes x, parenthesized unless it is atomic. Conditions are
// written as is; values go through value.
func (b *Builder) operand(x query.Expr, cond bool) error {
	write := b.value
	if cond {
		write = b.expr
	}
	switch x.(type) {
	case *query.Column, *query.Literal, *query.Placeholder, *query.Aggregate, *query.Subquery, *query.Case, *query.Exists:
		return write(x)
	}
	if !cond && !b.opts.SupportsBoolean && query.IsPredicate(x) {
		return write(x)
	}
	b.WriteString("(")
	if err := write(x); err != nil {
		return err
	}
	b.WriteString(")")
	return nil
}

func (b *Builder) expr(x query.Expr) error {
	switch x := x.(type) {
	case *query.Column:
		if x.Alias != "" {
			b.Ident(x.Alias)
			b.WriteString(".")
		}
		b.Ident(x.Name)
	case *query.Literal:
		s, err := literal(b.frags, x.Value)
		if err != nil {
			return err
		}
		b.WriteString(s)
	case *query.Placeholder:
		b.Arg(x.Name)
	case *query.Compare:
		if err := b.operand(x.L, false); err != nil {
			return err
		}
		b.WriteString(" ")
		b.WriteString(compareOp(x.Op))
		b.WriteString(" ")
		return b.operand(x.R, false)
	case *query.Logic:
		sep := " AND "
		if x.Or {
			sep = " OR "
		}
		for i, a := range x.Args {
			if i > 0 {
				b.WriteString(sep)
			}
			if err := b.operand(a, true); err != nil {
				return err
			}
		}
	case *query.Not:
		b.WriteString("NOT ")
		return b.operand(x.X, true)
	case *query.NullTest:
		if err := b.operand(x.X, false); err != nil {
			return err
		}
		if x.Negate {
			b.WriteString(" IS NOT NULL")
		} else {
			b.WriteString(" IS NULL")
		}
	case *query.Arith:
		if err := b.operand(x.L, false); err != nil {
			return err
		}
		b.WriteString(" " + string(x.Op) + " ")
		return b.operand(x.R, false)
	case *query.Negate:
		b.WriteString("-")
		return b.operand(x.X, false)
	case *query.Concat:
		args := make([]string, 0, len(x.Args))
		for _, a := range x.Args {
			s, err := b.sub(a)
			if err != nil {
				return err
			}
			args = append(args, s)
		}
		b.WriteString(b.frags.Concat(args))
	case *query.Regex:
		xs, err := b.sub(x.X)
		if err != nil {
			return err
		}
		ps, err := b.sub(x.Pattern)
		if err != nil {
			return err
		}
		s, ok := b.frags.Regex(xs, ps)
		if !ok || !b.opts.Mode.Support(dialect.Regexp) {
			return b.unsupported("regular expression match")
		}
		b.WriteString(s)
	case *query.Case:
		b.WriteString("CASE WHEN ")
		if err := b.expr(x.When); err != nil {
			return err
		}
		b.WriteString(" THEN ")
		if err := b.value(x.Then); err != nil {
			return err
		}
		b.WriteString(" ELSE ")
		if err := b.value(x.Else); err != nil {
			return err
		}
		b.WriteString(" END")
	case *query.Aggregate:
		b.WriteString(strings.ToUpper(x.Fn))
		b.WriteString("(")
		if x.Arg == nil {
			b.WriteString("*")
		} else if err := b.value(x.Arg); err != nil {
			return err
		}
		b.WriteString(")")
	case *query.Subquery:
		b.WriteString("(")
		if err := b.selectStmt(x.Select); err != nil {
			return err
		}
		b.WriteString(")")
	case *query.Exists:
		b.WriteString("EXISTS (")
		if err := b.selectStmt(x.Select); err != nil {
			return err
		}
		b.WriteString(")")
	default:
		return fmt.Errorf("relvar: unexpected expression %T", x)
	}
	return nil
}

// sub renders an operand into a separate string, keeping placeholder
// numbering continuous.
func (b *Builder) sub(x query.Expr) (string, error) {
	s := &Builder{opts: b.opts, frags: b.frags, loc: b.loc, params: b.params}
	if err := s.operand(x, false); err != nil {
		return "", err
	}
	b.params = s.params
	return s.String(), nil
}

func compareOp(op formula.Op) string {
	if op == formula.NE {
		return "<>"
	}
	return string(op)
}
