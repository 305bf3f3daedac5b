package sql

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/compiler/query"
	"github.com/syssam/relvar/dialect"
	layout "github.com/syssam/relvar/dialect/sql/schema"
)

// CheckCompiler compiles the condition of a check constraint.
type CheckCompiler interface {
	CompileCheck(src string, col *layout.Column) (query.Expr, error)
}

// CreateStatements lowers a layout to CREATE TABLE and CREATE INDEX
// statements. Tables are created after the tables they reference; foreign
// keys that cannot be declared in order are added by trailing ALTER TABLE
// statements, unless the dialect declares them inline.
//
// A check constraint the dialect cannot express is left out and its error
// collected; the returned statements are complete otherwise. Model errors
// return no statements.
func (g *Generator) CreateStatements(l *layout.Layout, checks CheckCompiler) ([]*Statement, error) {
	var (
		stmts    []*Statement
		deferred []*Statement
		dialErrs []error
		created  = make(map[string]bool, len(l.Tables))
	)
	for _, t := range CreationOrder(l) {
		b := g.builder(relvar.Location{Entity: t.Origin.Entity, Attribute: t.Origin.Attribute})
		b.WriteString("CREATE TABLE ")
		b.Ident(t.Name)
		b.WriteString(" (")
		pkInline := false
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString("\n  ")
			if g.column(b, t, c) {
				pkInline = true
			}
		}
		if len(t.PrimaryKey) > 0 && !pkInline {
			b.WriteString(",\n  PRIMARY KEY (")
			b.Join(t.PrimaryKey)
			b.WriteString(")")
		}
		for _, ch := range t.Checks {
			cond, err := g.CheckCondition(t, ch, checks)
			switch {
			case relvar.IsDialectError(err):
				dialErrs = append(dialErrs, err)
				continue
			case err != nil:
				return nil, err
			}
			b.WriteString(",\n  CONSTRAINT ")
			b.Ident(ch.Name)
			b.WriteString(" CHECK (")
			b.WriteString(cond)
			b.WriteString(")")
		}
		for _, fk := range t.ForeignKeys {
			if created[fk.RefTable] || fk.RefTable == t.Name || g.frags.InlineForwardKeys() {
				b.WriteString(",\n  ")
				g.foreignKey(b, fk)
				continue
			}
			a := g.builder(b.loc)
			a.WriteString("ALTER TABLE ")
			a.Ident(t.Name)
			a.WriteString(" ADD ")
			g.foreignKey(a, fk)
			deferred = append(deferred, a.statement())
		}
		b.WriteString("\n)")
		stmts = append(stmts, b.statement())
		created[t.Name] = true
		for _, idx := range t.Indexes {
			ib := g.builder(b.loc)
			ib.WriteString("CREATE ")
			if idx.Unique {
				ib.WriteString("UNIQUE ")
			}
			ib.WriteString("INDEX ")
			ib.Ident(idx.Name)
			ib.WriteString(" ON ")
			ib.Ident(t.Name)
			ib.WriteString(" (")
			ib.Join(idx.Columns)
			ib.WriteString(")")
			stmts = append(stmts, ib.statement())
		}
	}
	stmts = append(stmts, deferred...)
	g.logger.Debug("layout lowered",
		slog.String("dialect", g.opts.Name),
		slog.Int("statements", len(stmts)),
		slog.Int("deferred_keys", len(deferred)),
	)
	return stmts, relvar.NewAggregateError(dialErrs...)
}

// column writes a column definition. It reports whether the definition
// declares the table primary key.
func (g *Generator) column(b *Builder, t *layout.Table, c *layout.Column) bool {
	b.Ident(c.Name)
	b.WriteString(" ")
	var (
		clause string
		pk     bool
	)
	if c.Increment && g.opts.Mode.Support(dialect.Autoincrement) && len(t.PrimaryKey) == 1 && t.PrimaryKey[0] == c.Name {
		var typ string
		typ, clause, pk = g.frags.Increment(c)
		b.WriteString(typ)
	} else {
		b.WriteString(g.frags.ColumnType(c))
	}
	if !c.Nullable && !pk {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	if c.Collation != "" {
		b.WriteString(" COLLATE ")
		b.WriteString(c.Collation)
	}
	if clause != "" {
		b.WriteString(" ")
		b.WriteString(clause)
	}
	return pk
}

// CheckCondition renders the condition of the check ch of table t, as
// written inside CHECK (...).
func (g *Generator) CheckCondition(t *layout.Table, ch *layout.Check, checks CheckCompiler) (string, error) {
	c, ok := t.Column(ch.Column)
	if !ok {
		return "", relvar.NewSchemaError(relvar.Location{Entity: t.Origin.Entity}, "check %s refers to unknown column %s", ch.Name, ch.Column)
	}
	x, err := checks.CompileCheck(ch.Expr, c)
	if err != nil {
		return "", err
	}
	return g.Condition(x, relvar.Location{Entity: c.Origin.Entity, Attribute: c.Origin.Attribute})
}

func (g *Generator) foreignKey(b *Builder, fk *layout.ForeignKey) {
	b.WriteString("CONSTRAINT ")
	b.Ident(fk.Symbol)
	b.WriteString(" FOREIGN KEY (")
	b.Join(fk.Columns)
	b.WriteString(") REFERENCES ")
	b.Ident(fk.RefTable)
	b.WriteString(" (")
	b.Join(fk.RefColumns)
	b.WriteString(")")
	if fk.OnDelete != "" {
		b.WriteString(" ON DELETE ")
		b.WriteString(fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		b.WriteString(" ON UPDATE ")
		b.WriteString(fk.OnUpdate)
	}
}

// CreationOrder returns the tables of l with every table after the tables
// its foreign keys reference (Kahn's algorithm, ties in layout order).
// Tables on reference cycles follow in layout order.
func CreationOrder(l *layout.Layout) []*layout.Table {
	var (
		inDegree = make(map[string]int, len(l.Tables))
		children = make(map[string][]string, len(l.Tables))
		byName   = make(map[string]*layout.Table, len(l.Tables))
		position = make(map[string]int, len(l.Tables))
	)
	for i, t := range l.Tables {
		byName[t.Name] = t
		position[t.Name] = i
	}
	for _, t := range l.Tables {
		var parents []string
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == t.Name || byName[fk.RefTable] == nil || slices.Contains(parents, fk.RefTable) {
				continue
			}
			parents = append(parents, fk.RefTable)
			children[fk.RefTable] = append(children[fk.RefTable], t.Name)
		}
		inDegree[t.Name] = len(parents)
	}
	var (
		queue []string
		order = make([]*layout.Table, 0, len(l.Tables))
		done  = make(map[string]bool, len(l.Tables))
	)
	for _, t := range l.Tables {
		if inDegree[t.Name] == 0 {
			queue = append(queue, t.Name)
		}
	}
	for len(queue) > 0 {
		slices.SortStableFunc(queue, func(a, b string) int { return position[a] - position[b] })
		name := queue[0]
		queue = queue[1:]
		order = append(order, byName[name])
		done[name] = true
		for _, child := range children[name] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	for _, t := range l.Tables {
		if !done[t.Name] {
			order = append(order, t)
		}
	}
	return order
}

// DropStatements returns DROP TABLE statements for l in reverse creation
// order.
func (g *Generator) DropStatements(l *layout.Layout) []*Statement {
	order := CreationOrder(l)
	stmts := make([]*Statement, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		b := g.builder(relvar.Location{})
		b.WriteString("DROP TABLE IF EXISTS ")
		b.Ident(order[i].Name)
		stmts = append(stmts, b.statement())
	}
	return stmts
}

// Script joins statements into one script, each terminated by a semicolon.
func Script(stmts []*Statement) string {
	var sb strings.Builder
	for _, s := range stmts {
		sb.WriteString(s.SQL)
		sb.WriteString(";\n")
	}
	return sb.String()
}
