// Package compiler runs a whole compilation: it closes a schema, resolves
// the dialect adapter, maps the schema onto tables and lowers the layout
// and every formula to SQL.
//
//	res, err := compiler.Compile(ctx, s, compiler.WithDialect(dialect.SQLite))
//	if err != nil && !relvar.IsDialectError(err) {
//		return err
//	}
//	fmt.Println(sql.Script(res.DDL))
//
// Model errors abort the compilation and return no result. Errors of
// dialect capability only fail the statement that needed the feature;
// they are collected into the returned error next to a result holding
// everything else.
package compiler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/compiler/gen"
	"github.com/syssam/relvar/compiler/query"
	"github.com/syssam/relvar/dialect"
	"github.com/syssam/relvar/dialect/adapter"
	"github.com/syssam/relvar/dialect/sql"
	layout "github.com/syssam/relvar/dialect/sql/schema"
	"github.com/syssam/relvar/schema"
)

type (
	// Query is a compiled formula and its lowered SELECT statement.
	Query struct {
		// Name is Entity.attribute for derived attributes and the request
		// name for requested queries.
		Name      string
		Plan      *query.Plan
		Statement *sql.Statement
	}

	// Refresh is the statement recomputing a maintained column.
	Refresh struct {
		Origin layout.Origin
		// Dependencies lists the columns whose writes must run Statement.
		Dependencies []layout.Dependency
		Statement    *sql.Statement
	}

	// Result is the output of a compilation.
	Result struct {
		Dialect string
		Layout  *layout.Layout
		// DDL creates the layout, referenced tables first.
		DDL []*sql.Statement
		// Queries holds the derived attributes in schema order, followed by
		// the requested queries in request order.
		Queries []*Query
		Refresh []*Refresh
		// Origins maps "table" and "table.column" to the logical origin.
		Origins map[string]layout.Origin
	}
)

// Query returns the query with the given name.
func (r *Result) Query(name string) (*Query, bool) {
	i := slices.IndexFunc(r.Queries, func(q *Query) bool { return q.Name == name })
	if i < 0 {
		return nil, false
	}
	return r.Queries[i], true
}

// Args binds values to the placeholders of the statement.
func (q *Query) Args(values map[string]any) ([]any, error) {
	return q.Plan.Bind(q.Statement.Params, values)
}

// Option configures a compilation.
type Option func(*config) error

type config struct {
	dialect string
	adapter []adapter.Option
	mapping []gen.Option
	queries []query.Request
	workers int
	logger  *slog.Logger
}

// WithDialect selects the registered dialect to compile for. The default
// is the generic SQL baseline.
func WithDialect(name string) Option {
	return func(c *config) error {
		if name == "" {
			return gen.NewConfigError("Dialect", name, "dialect name cannot be empty")
		}
		c.dialect = name
		return nil
	}
}

// WithAdapterOptions overrides the default options of the dialect.
func WithAdapterOptions(opts ...adapter.Option) Option {
	return func(c *config) error {
		c.adapter = append(c.adapter, opts...)
		return nil
	}
}

// WithSettings overrides dialect options by their textual setting names,
// such as naming_prefix or max_identifier_length.
func WithSettings(settings map[string]string) Option {
	return WithAdapterOptions(adapter.WithSettings(settings))
}

// WithMapping passes options to the schema mapper. They are applied after
// the dialect options.
func WithMapping(opts ...gen.Option) Option {
	return func(c *config) error {
		c.mapping = append(c.mapping, opts...)
		return nil
	}
}

// WithQuery adds a named query to compile in the scope of an entity.
func WithQuery(name, scope, src string) Option {
	return func(c *config) error {
		if name == "" {
			return gen.NewConfigError("Query", src, "query name cannot be empty")
		}
		if slices.ContainsFunc(c.queries, func(r query.Request) bool { return r.Name == name }) {
			return gen.NewConfigError("Query", name, "duplicate query name")
		}
		c.queries = append(c.queries, query.Request{Name: name, Scope: scope, Source: src})
		return nil
	}
}

// WithWorkers limits the number of formulas compiled concurrently.
func WithWorkers(n int) Option {
	return func(c *config) error {
		if n < 1 {
			return gen.NewConfigError("Workers", n, "at least one worker is required")
		}
		c.workers = n
		return nil
	}
}

// WithLogger sets the logger of every compilation stage.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) error {
		if l == nil {
			return gen.NewConfigError("Logger", nil, "logger cannot be nil")
		}
		c.logger = l
		return nil
	}
}

// Compilation holds the context of one compilation: the closed schema,
// its adapter and its layout. Formulas compiled against it see the same
// layout.
type Compilation struct {
	Schema  *schema.Schema
	Adapter *adapter.Adapter
	Graph   *gen.Graph

	compiler  *query.Compiler
	refreshes []*query.Refresh
	queries   []query.Request
	workers   int
	logger    *slog.Logger
}

// New closes s and maps it for the configured dialect.
func New(s *schema.Schema, opts ...Option) (*Compilation, error) {
	c := &config{
		dialect: dialect.Generic,
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if s == nil {
		return nil, fmt.Errorf("relvar: nil schema: %w", relvar.ErrInvalidSchema)
	}
	if err := s.Close(); err != nil {
		return nil, err
	}
	a, err := adapter.Lookup(c.dialect, append(c.adapter, adapter.WithLogger(c.logger))...)
	if err != nil {
		return nil, err
	}
	cfg, err := gen.NewConfig(append([]gen.Option{gen.WithDialect(a.Options), gen.WithLogger(c.logger)}, c.mapping...)...)
	if err != nil {
		return nil, err
	}
	g, err := gen.NewGraph(cfg, s, a.TypeManager(s))
	if err != nil {
		return nil, err
	}
	qc := query.NewCompiler(g.Layout(), s, query.WithLogger(c.logger))
	// Dependencies are recorded in the layout here, once, so that Compile
	// only reads it.
	var refresh []*query.Refresh
	for _, m := range g.Layout().Maintained {
		r, err := qc.CompileRefresh(m)
		if err != nil {
			return nil, err
		}
		m.Dependencies = r.Dependencies
		refresh = append(refresh, r)
	}
	return &Compilation{
		Schema:    s,
		Adapter:   a,
		Graph:     g,
		compiler:  qc,
		refreshes: refresh,
		queries:   c.queries,
		workers:   c.workers,
		logger:    c.logger,
	}, nil
}

// Compile compiles s. See the package documentation for the error
// contract.
func Compile(ctx context.Context, s *schema.Schema, opts ...Option) (*Result, error) {
	c, err := New(s, opts...)
	if err != nil {
		return nil, err
	}
	return c.Compile(ctx)
}

// Layout returns the physical layout of the schema.
func (c *Compilation) Layout() *layout.Layout { return c.Graph.Layout() }

// Compile lowers the layout, the maintained attributes, the derived
// attributes and the requested queries. It does not modify the
// compilation and may be called concurrently.
func (c *Compilation) Compile(ctx context.Context) (*Result, error) {
	var dialErrs []error
	// collect keeps dialect errors and reports whether err is fatal.
	collect := func(err error) bool {
		if relvar.IsDialectError(err) {
			dialErrs = append(dialErrs, err)
			return false
		}
		return err != nil
	}

	refresh, err := c.refresh()
	if collect(err) {
		return nil, err
	}
	l := c.Layout()
	ddl, err := c.Adapter.Generator.CreateStatements(l, c.compiler)
	if collect(err) {
		return nil, err
	}
	queries, err := c.compileAll(ctx)
	if collect(err) {
		return nil, err
	}
	res := &Result{
		Dialect: c.Adapter.Name,
		Layout:  l,
		DDL:     ddl,
		Queries: queries,
		Refresh: refresh,
		Origins: l.Origins(),
	}
	c.logger.Info("schema compiled",
		slog.String("schema", c.Schema.Name),
		slog.String("dialect", res.Dialect),
		slog.Int("tables", len(l.Tables)),
		slog.Int("statements", len(ddl)),
		slog.Int("queries", len(queries)),
		slog.Int("unsupported", len(dialErrs)),
	)
	return res, relvar.NewAggregateError(dialErrs...)
}

// refresh lowers the refresh of every maintained attribute.
func (c *Compilation) refresh() ([]*Refresh, error) {
	var (
		out      []*Refresh
		dialErrs []error
	)
	for i, m := range c.Layout().Maintained {
		r := c.refreshes[i]
		stmt, err := c.Adapter.Generator.Refresh(r)
		switch {
		case relvar.IsDialectError(err):
			dialErrs = append(dialErrs, err)
			continue
		case err != nil:
			return nil, err
		}
		out = append(out, &Refresh{Origin: m.Origin, Dependencies: r.Dependencies, Statement: stmt})
	}
	return out, relvar.NewAggregateError(dialErrs...)
}

// compileAll compiles the derived attributes and the requested queries
// concurrently. Results keep their request order.
func (c *Compilation) compileAll(ctx context.Context) ([]*Query, error) {
	type job struct {
		name, entity, attribute string
		req                     query.Request
	}
	var jobs []job
	for _, e := range c.Schema.Entities {
		for _, a := range e.Attributes {
			if a.Kind == schema.Derived {
				jobs = append(jobs, job{name: e.Name + "." + a.Name, entity: e.Name, attribute: a.Name})
			}
		}
	}
	for _, r := range c.queries {
		jobs = append(jobs, job{name: r.Name, req: r})
	}

	queries := make([]*Query, len(jobs))
	errs := make([]error, len(jobs))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.workers)
	for i, j := range jobs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var (
				p   *query.Plan
				err error
			)
			if j.attribute != "" {
				p, err = c.compiler.CompileAttribute(j.entity, j.attribute)
			} else {
				p, err = c.compiler.Parse(j.req.Source, j.req.Scope)
			}
			if err != nil {
				return &query.RequestError{Name: j.name, Err: err}
			}
			stmt, err := c.Adapter.Generator.Select(p)
			if err != nil {
				if relvar.IsDialectError(err) {
					errs[i] = &query.RequestError{Name: j.name, Err: err}
					return nil
				}
				return &query.RequestError{Name: j.name, Err: err}
			}
			queries[i] = &Query{Name: j.name, Plan: p, Statement: stmt}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return slices.DeleteFunc(queries, func(q *Query) bool { return q == nil }), relvar.NewAggregateError(errs...)
}

// Plan returns the statements migrating a database from the layout from
// to the layout of c. A nil from plans the whole layout. Check constraints
// are rendered as in the DDL.
func (c *Compilation) Plan(ctx context.Context, from *layout.Layout) ([]string, error) {
	g := c.Adapter.Generator
	return layout.Plan(ctx, c.Adapter.Name, from, c.Layout(), layout.WithConditions(func(t *layout.Table, ch *layout.Check) (string, error) {
		return g.CheckCondition(t, ch, c.compiler)
	}))
}

// Query compiles an ad-hoc formula in the scope of entity and lowers it.
func (c *Compilation) Query(entity, src string) (*Query, error) {
	p, err := c.compiler.Parse(src, entity)
	if err != nil {
		return nil, err
	}
	stmt, err := c.Adapter.Generator.Select(p)
	if err != nil {
		return nil, err
	}
	return &Query{Name: p.Source, Plan: p, Statement: stmt}, nil
}
