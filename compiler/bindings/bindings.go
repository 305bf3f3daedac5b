// Package bindings generates Go code for a compiled schema: a row struct
// per table, and typed functions running the compiled queries and
// maintained attribute refreshes through database/sql.
//
//	res, err := compiler.Compile(ctx, s, compiler.WithDialect(dialect.Postgres))
//	...
//	err = bindings.New(res, "internal/hrdb").Generate(ctx)
package bindings

import (
	"context"
	"fmt"
	"go/token"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dave/jennifer/jen"
	"github.com/go-openapi/inflect"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/relvar/compiler"
	"github.com/syssam/relvar/compiler/gen"
	layout "github.com/syssam/relvar/dialect/sql/schema"
	"github.com/syssam/relvar/schema"
)

const (
	sqlPkg  = "database/sql"
	uuidPkg = "github.com/google/uuid"
)

// Generator writes the bindings of a compilation result.
type Generator struct {
	res     *compiler.Result
	workers int
	outDir  string
	pkg     string
}

// New returns a generator writing to outDir. The package is named after
// the last element of outDir.
func New(res *compiler.Result, outDir string) *Generator {
	return &Generator{
		res:     res,
		workers: runtime.GOMAXPROCS(0),
		outDir:  outDir,
		pkg:     filepath.Base(outDir),
	}
}

// WithWorkers sets the number of files rendered in parallel.
func (g *Generator) WithWorkers(n int) *Generator {
	if n > 0 {
		g.workers = n
	}
	return g
}

// WithPackage sets the output package name.
func (g *Generator) WithPackage(pkg string) *Generator {
	if pkg != "" {
		g.pkg = pkg
	}
	return g
}

// Generate renders every file and writes it to the output directory.
func (g *Generator) Generate(ctx context.Context) error {
	if g.res == nil || g.res.Layout == nil {
		return gen.NewConfigError("Result", nil, "no compilation result to generate from")
	}
	if !token.IsIdentifier(g.pkg) {
		return gen.NewConfigError("Package", g.pkg, "package name is not a Go identifier")
	}
	if err := os.MkdirAll(g.outDir, 0o755); err != nil {
		return err
	}
	errg, ctx := errgroup.WithContext(ctx)
	errg.SetLimit(g.workers)
	for _, t := range g.res.Layout.Tables {
		errg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return g.writeFile(g.table(t), t.Name+".go")
		})
	}
	errg.Go(func() error { return g.writeFile(g.schema(), "schema.go") })
	errg.Go(func() error { return g.writeFile(g.queries(), "queries.go") })
	return errg.Wait()
}

// writeFile renders f into the output directory.
func (g *Generator) writeFile(f *jen.File, name string) error {
	out, err := os.Create(filepath.Join(g.outDir, name))
	if err != nil {
		return err
	}
	defer out.Close()
	if err := f.Render(out); err != nil {
		return fmt.Errorf("rendering %s: %w", name, err)
	}
	return nil
}

func (g *Generator) newFile() *jen.File {
	f := jen.NewFile(g.pkg)
	f.HeaderComment("Code generated by relvar. DO NOT EDIT.")
	return f
}

// schema renders the dialect and the DDL script.
func (g *Generator) schema() *jen.File {
	f := g.newFile()
	f.Comment("Dialect is the SQL dialect the statements were generated for.")
	f.Const().Id("Dialect").Op("=").Lit(g.res.Dialect)
	f.Line()
	stmts := make([]jen.Code, 0, len(g.res.DDL))
	for _, s := range g.res.DDL {
		stmts = append(stmts, jen.Lit(s.SQL))
	}
	f.Comment("DDL creates the tables, referenced tables first.")
	f.Var().Id("DDL").Op("=").Index().String().Custom(jen.Options{Open: "{", Close: "}", Separator: ",", Multi: true}, stmts...)
	return f
}

// table renders the row struct and the names of a table.
func (g *Generator) table(t *layout.Table) *jen.File {
	f := g.newFile()
	name := pascal(t.Name)
	if t.Origin.Attribute != "" {
		f.Commentf("%s is a row of %s, the %s table of %s.", name, t.Name, t.Origin.Role, t.Origin)
	} else {
		f.Commentf("%s is a row of %s, the table of %s.", name, t.Name, t.Origin)
	}
	f.Type().Id(name).StructFunc(func(grp *jen.Group) {
		for _, c := range t.Columns {
			field := grp.Id(pascal(c.Name)).Add(goType(c.Type, c.Nullable)).Tag(map[string]string{"db": c.Name})
			if c.Comment != "" {
				field.Comment(c.Comment)
			}
		}
	})
	f.Line()
	f.Commentf("%sTable is the name of the %s table.", name, t.Name)
	f.Const().Id(name + "Table").Op("=").Lit(t.Name)
	f.Line()
	f.Commentf("%sColumns lists the columns of %s in table order.", name, t.Name)
	f.Var().Id(name + "Columns").Op("=").Index().String().ValuesFunc(func(grp *jen.Group) {
		for _, c := range t.Columns {
			grp.Lit(c.Name)
		}
	})
	return f
}

// queries renders the Querier interface, the compiled queries and the
// refresh statements.
func (g *Generator) queries() *jen.File {
	f := g.newFile()
	f.Comment("Querier is implemented by *sql.DB, *sql.Conn and *sql.Tx.")
	f.Type().Id("Querier").Interface(
		jen.Id("QueryContext").Params(jen.Qual("context", "Context"), jen.String(), jen.Op("...").Interface()).
			Params(jen.Op("*").Qual(sqlPkg, "Rows"), jen.Error()),
		jen.Id("ExecContext").Params(jen.Qual("context", "Context"), jen.String(), jen.Op("...").Interface()).
			Params(jen.Qual(sqlPkg, "Result"), jen.Error()),
	)
	for _, q := range g.res.Queries {
		f.Line()
		g.query(f, q)
	}
	for _, r := range g.res.Refresh {
		f.Line()
		g.refresh(f, r)
	}
	return f
}

func (g *Generator) query(f *jen.File, q *compiler.Query) {
	var (
		name  = pascal(q.Name)
		sqlID = "Query" + name + "SQL"
		row   = name + "Row"
		args  = make(map[string]string, len(q.Plan.Params))
	)
	f.Commentf("%s is the statement of %s: %s", sqlID, q.Name, q.Plan.Source)
	f.Const().Id(sqlID).Op("=").Lit(q.Statement.SQL)
	f.Line()
	f.Commentf("%s is a row returned by Query%s.", row, name)
	f.Type().Id(row).StructFunc(func(grp *jen.Group) {
		for _, c := range q.Plan.Result {
			grp.Id(pascal(c.Name)).Add(goType(c.Kind, c.Nullable)).Tag(map[string]string{"db": c.Name})
		}
	})
	f.Line()
	params := []jen.Code{jen.Id("ctx").Qual("context", "Context"), jen.Id("db").Id("Querier")}
	for _, p := range q.Plan.Params {
		args[p.Name] = argName(p.Name)
		params = append(params, jen.Id(args[p.Name]).Add(goType(p.Kind, false)))
	}
	f.Commentf("Query%s runs %s in the scope of %s.", name, q.Name, q.Plan.Scope)
	f.Func().Id("Query"+name).Params(params...).Params(jen.Index().Id(row), jen.Error()).BlockFunc(func(grp *jen.Group) {
		grp.List(jen.Id("rows"), jen.Err()).Op(":=").Id("db").Dot("QueryContext").CallFunc(func(call *jen.Group) {
			call.Id("ctx")
			call.Id(sqlID)
			for _, p := range q.Statement.Params {
				call.Id(args[p])
			}
		})
		grp.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Nil(), jen.Err()))
		grp.Defer().Id("rows").Dot("Close").Call()
		grp.Var().Id("out").Index().Id(row)
		grp.For(jen.Id("rows").Dot("Next").Call()).Block(
			jen.Var().Id("r").Id(row),
			jen.If(
				jen.Err().Op(":=").Id("rows").Dot("Scan").CallFunc(func(call *jen.Group) {
					for _, c := range q.Plan.Result {
						call.Op("&").Id("r").Dot(pascal(c.Name))
					}
				}),
				jen.Err().Op("!=").Nil(),
			).Block(jen.Return(jen.Nil(), jen.Err())),
			jen.Id("out").Op("=").Append(jen.Id("out"), jen.Id("r")),
		)
		grp.Return(jen.Id("out"), jen.Id("rows").Dot("Err").Call())
	})
}

func (g *Generator) refresh(f *jen.File, r *compiler.Refresh) {
	name := "Refresh" + pascal(r.Origin.Entity+"_"+r.Origin.Attribute)
	f.Commentf("%sSQL recomputes %s.", name, r.Origin)
	f.Const().Id(name + "SQL").Op("=").Lit(r.Statement.SQL)
	f.Line()
	var deps []string
	for _, d := range r.Dependencies {
		deps = append(deps, d.Table+"."+d.Column)
	}
	if len(deps) > 0 {
		f.Commentf("%s recomputes %s. Run it after writes to %s.", name, r.Origin, strings.Join(deps, ", "))
	} else {
		f.Commentf("%s recomputes %s.", name, r.Origin)
	}
	f.Func().Id(name).Params(jen.Id("ctx").Qual("context", "Context"), jen.Id("db").Id("Querier")).Error().Block(
		jen.List(jen.Id("_"), jen.Err()).Op(":=").Id("db").Dot("ExecContext").Call(jen.Id("ctx"), jen.Id(name+"SQL")),
		jen.Return(jen.Err()),
	)
}

// goType returns the Go type scanned from and bound to values of kind k.
func goType(k schema.Kind, nullable bool) jen.Code {
	var t *jen.Statement
	switch k {
	case schema.KindInt:
		t = jen.Int64()
	case schema.KindFloat:
		t = jen.Float64()
	case schema.KindBool:
		t = jen.Bool()
	case schema.KindTime:
		t = jen.Qual("time", "Time")
	case schema.KindUUID:
		t = jen.Qual(uuidPkg, "UUID")
	case schema.KindBytes:
		return jen.Index().Byte()
	default:
		// Decimals keep their exact textual form.
		t = jen.String()
	}
	if nullable {
		return jen.Op("*").Add(t)
	}
	return t
}

var initialisms = map[string]bool{
	"id": true, "uuid": true, "url": true, "sql": true, "json": true, "http": true, "api": true,
}

// pascal returns the exported Go name of a table, column or query name:
// person_reports -> PersonReports, Person.manager_id -> PersonManagerID.
func pascal(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '.' || r == '-' || r == ' '
	})
	for i, p := range parts {
		if initialisms[strings.ToLower(p)] {
			parts[i] = strings.ToUpper(p)
			continue
		}
		parts[i] = inflect.Capitalize(p)
	}
	return strings.Join(parts, "")
}

// argName returns the parameter name of a formula parameter.
func argName(s string) string {
	name := pascal(s)
	name = strings.ToLower(name[:1]) + name[1:]
	switch {
	case token.IsKeyword(name), name == "ctx", name == "db", name == "rows", name == "out", name == "r", name == "err":
		return name + "_"
	}
	return name
}
