package dialect

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Dialect names.
const (
	Generic  = "generic_sql"
	SQLite   = "sqlite"
	Postgres = "postgres"
	MySQL    = "mysql"
)

// QuoteStyle selects how identifiers are quoted.
type QuoteStyle string

// Quote styles.
const (
	QuoteDouble   QuoteStyle = "double"   // "name"
	QuoteBacktick QuoteStyle = "backtick" // `name`
	QuoteBracket  QuoteStyle = "bracket"  // [name]
	QuoteNone     QuoteStyle = "none"
)

// ParseQuoteStyle parses a quote style name.
func ParseQuoteStyle(s string) (QuoteStyle, error) {
	switch q := QuoteStyle(strings.ToLower(strings.TrimSpace(s))); q {
	case QuoteDouble, QuoteBacktick, QuoteBracket, QuoteNone:
		return q, nil
	case "":
		return QuoteDouble, nil
	default:
		return "", fmt.Errorf("relvar: unknown identifier quote style %q", s)
	}
}

// Quote quotes ident, doubling any embedded closing quote character.
func (q QuoteStyle) Quote(ident string) string {
	switch q {
	case QuoteBacktick:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	case QuoteBracket:
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	case QuoteNone:
		return ident
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

// A Mode defines which SQL constructs a dialect supports.
type Mode uint

const (
	// Regexp defines a regular expression match operator.
	Regexp Mode = 1 << iota

	// AlterForeignKey defines ALTER TABLE ... ADD CONSTRAINT for foreign keys.
	AlterForeignKey

	// SelfSubqueryUpdate defines UPDATE statements whose SET subquery reads
	// the updated table.
	SelfSubqueryUpdate

	// Autoincrement defines automatically generated integer identifiers.
	Autoincrement
)

// Support reports whether m supports the given mode.
func (m Mode) Support(mode Mode) bool { return m&mode != 0 }

// Options configures a dialect.
type Options struct {
	Name                string
	QuoteStyle          QuoteStyle
	MaxIdentifierLength int // zero means unlimited
	NamingPrefix        string
	SupportsBoolean     bool
	CaseInsensitive     bool
	Mode                Mode
}

// Defaults returns the default options of the named dialect. Unknown names
// get the generic baseline with the name preserved.
func Defaults(name string) Options {
	switch name {
	case SQLite:
		return Options{
			Name:            SQLite,
			QuoteStyle:      QuoteBacktick,
			SupportsBoolean: true,
			CaseInsensitive: true,
			Mode:            SelfSubqueryUpdate | Autoincrement,
		}
	case Postgres:
		return Options{
			Name:                Postgres,
			QuoteStyle:          QuoteDouble,
			MaxIdentifierLength: 63,
			SupportsBoolean:     true,
			Mode:                Regexp | AlterForeignKey | SelfSubqueryUpdate | Autoincrement,
		}
	case MySQL:
		return Options{
			Name:                MySQL,
			QuoteStyle:          QuoteBacktick,
			MaxIdentifierLength: 64,
			SupportsBoolean:     true,
			CaseInsensitive:     true,
			Mode:                Regexp | AlterForeignKey | Autoincrement,
		}
	default:
		if name == "" {
			name = Generic
		}
		return Options{
			Name:       name,
			QuoteStyle: QuoteDouble,
			Mode:       AlterForeignKey | SelfSubqueryUpdate,
		}
	}
}

// Quote quotes an identifier with the configured style.
func (o Options) Quote(ident string) string {
	return o.QuoteStyle.Quote(ident)
}

// Fold returns the key used to compare identifiers under this dialect.
func (o Options) Fold(ident string) string {
	if o.CaseInsensitive {
		return cases.Fold().String(ident)
	}
	return ident
}

// Validate checks the options for consistency.
func (o Options) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("relvar: dialect name is required")
	}
	if o.MaxIdentifierLength < 0 {
		return fmt.Errorf("relvar: max identifier length must not be negative: %d", o.MaxIdentifierLength)
	}
	if o.MaxIdentifierLength > 0 && o.MaxIdentifierLength < 8 {
		return fmt.Errorf("relvar: max identifier length %d is too short", o.MaxIdentifierLength)
	}
	if _, err := ParseQuoteStyle(string(o.QuoteStyle)); err != nil {
		return err
	}
	return nil
}
