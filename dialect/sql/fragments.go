package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/syssam/relvar/dialect"
	layout "github.com/syssam/relvar/dialect/sql/schema"
)

// Fragments is the override surface of a dialect: the pieces of SQL text
// that differ between databases. The generator derives everything else.
type Fragments interface {
	// Quote quotes an identifier.
	Quote(ident string) string
	// Placeholder returns the n'th (1-based) bind placeholder of a statement.
	Placeholder(n int) string
	// String returns a string literal.
	String(s string) string
	// Bool returns a boolean literal.
	Bool(v bool) string
	// ColumnType returns the type of a column definition.
	ColumnType(c *layout.Column) string
	// Increment returns the column type and trailing clause of an
	// autoincrement column, and whether the clause replaces the table
	// primary key.
	Increment(c *layout.Column) (typ, clause string, pk bool)
	// Concat concatenates rendered string operands.
	Concat(args []string) string
	// Regex matches x against pattern. ok is false when the dialect has no
	// regular expression operator.
	Regex(x, pattern string) (sql string, ok bool)
	// InlineForwardKeys reports whether foreign keys to tables created later
	// are declared inline rather than added by ALTER TABLE.
	InlineForwardKeys() bool
}

// Base implements the generic SQL fragments. Dialects embed it and
// override what they spell differently.
type Base struct {
	Options dialect.Options
}

// Quote implements Fragments.
func (b Base) Quote(ident string) string { return b.Options.Quote(ident) }

// Placeholder implements Fragments.
func (Base) Placeholder(int) string { return "?" }

// String implements Fragments.
func (Base) String(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Bool implements Fragments.
func (b Base) Bool(v bool) string {
	switch {
	case b.Options.SupportsBoolean && v:
		return "TRUE"
	case b.Options.SupportsBoolean:
		return "FALSE"
	case v:
		return "1"
	default:
		return "0"
	}
}

// ColumnType implements Fragments.
func (Base) ColumnType(c *layout.Column) string {
	if c.Size > 0 {
		return c.TypeName + "(" + strconv.FormatInt(c.Size, 10) + ")"
	}
	return c.TypeName
}

// Increment implements Fragments. The generic baseline has no identity
// columns; the column keeps its plain type.
func (b Base) Increment(c *layout.Column) (string, string, bool) {
	return b.ColumnType(c), "", false
}

// Concat implements Fragments.
func (Base) Concat(args []string) string { return strings.Join(args, " || ") }

// Regex implements Fragments.
func (Base) Regex(string, string) (string, bool) { return "", false }

// InlineForwardKeys implements Fragments.
func (b Base) InlineForwardKeys() bool {
	return !b.Options.Mode.Support(dialect.AlterForeignKey)
}

// SQLite overrides the generic fragments for SQLite.
type SQLite struct{ Base }

// Increment implements Fragments. SQLite only allows AUTOINCREMENT on an
// INTEGER PRIMARY KEY column.
func (SQLite) Increment(*layout.Column) (string, string, bool) {
	return "integer", "PRIMARY KEY AUTOINCREMENT", true
}

// InlineForwardKeys implements Fragments. SQLite cannot add constraints to
// existing tables and checks foreign keys lazily.
func (SQLite) InlineForwardKeys() bool { return true }

// Postgres overrides the generic fragments for PostgreSQL.
type Postgres struct{ Base }

// Quote implements Fragments.
func (p Postgres) Quote(ident string) string {
	if p.Options.QuoteStyle == dialect.QuoteDouble {
		return pq.QuoteIdentifier(ident)
	}
	return p.Base.Quote(ident)
}

// Placeholder implements Fragments.
func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// String implements Fragments. Strings with backslashes become escape
// string constants (E'...').
func (Postgres) String(s string) string {
	return strings.TrimPrefix(pq.QuoteLiteral(s), " ")
}

// Increment implements Fragments.
func (p Postgres) Increment(c *layout.Column) (string, string, bool) {
	return p.ColumnType(c), "GENERATED BY DEFAULT AS IDENTITY", false
}

// Regex implements Fragments.
func (Postgres) Regex(x, pattern string) (string, bool) {
	return x + " ~ " + pattern, true
}

// MySQL overrides the generic fragments for MySQL.
type MySQL struct{ Base }

// String implements Fragments. MySQL treats backslash as an escape
// character inside string literals.
func (MySQL) String(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Increment implements Fragments.
func (m MySQL) Increment(c *layout.Column) (string, string, bool) {
	return m.ColumnType(c), "AUTO_INCREMENT", false
}

// Concat implements Fragments. || is logical OR in MySQL.
func (MySQL) Concat(args []string) string {
	return "CONCAT(" + strings.Join(args, ", ") + ")"
}

// Regex implements Fragments.
func (MySQL) Regex(x, pattern string) (string, bool) {
	return x + " REGEXP " + pattern, true
}

// FragmentsFor returns the fragments of the dialect named by opts.
func FragmentsFor(opts dialect.Options) Fragments {
	b := Base{Options: opts}
	switch opts.Name {
	case dialect.SQLite:
		return SQLite{b}
	case dialect.Postgres:
		return Postgres{b}
	case dialect.MySQL:
		return MySQL{b}
	default:
		return b
	}
}

// literal renders a constant.
func literal(f Fragments, v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		return f.Bool(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEIN") {
			s += ".0"
		}
		return s, nil
	case string:
		return f.String(v), nil
	default:
		return "", fmt.Errorf("relvar: unsupported literal %T", v)
	}
}
