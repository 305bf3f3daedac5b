package gen

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/dialect"
)

// Name kinds reported by collisions.
const (
	kindTable      = "table"
	kindColumn     = "column"
	kindIndex      = "index"
	kindConstraint = "constraint"
)

// namer applies the naming policy and detects collisions. Tables, indexes
// and constraints share schema wide namespaces; columns are scoped per
// table.
type namer struct {
	opts  dialect.Options
	rules *inflect.Ruleset
	// taken maps kind/scope -> folded name -> logical origin.
	taken map[string]map[string]string
}

func newNamer(c *Config) *namer {
	rules := c.Rules
	if rules == nil {
		rules = inflect.NewDefaultRuleset()
	}
	return &namer{opts: c.Dialect, rules: rules, taken: make(map[string]map[string]string)}
}

// snake returns the snake_case form of a logical name. Acronyms stay
// together: HTTPServer -> http_server.
func (n *namer) snake(name string) string {
	return snake(name)
}

func snake(s string) string {
	var (
		b     strings.Builder
		runes = []rune(s)
	)
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (n *namer) singular(name string) string {
	return n.rules.Singularize(name)
}

func (n *namer) plural(name string) string {
	return n.rules.Pluralize(name)
}

// truncate shortens name to the identifier limit, keeping it unique by
// replacing the tail with a hash of the full name.
func (n *namer) truncate(name string) string {
	limit := n.opts.MaxIdentifierLength
	if limit <= 0 || len(name) <= limit {
		return name
	}
	sum := md5.Sum([]byte(name))
	hash := hex.EncodeToString(sum[:])[:8]
	keep := limit - len(hash) - 1
	if keep < 1 {
		return hash[:min(limit, len(hash))]
	}
	return strings.TrimRight(name[:keep], "_") + "_" + hash
}

// claim registers a physical name for a logical origin.
func (n *namer) claim(kind, scope, name, origin string) (string, error) {
	name = n.truncate(name)
	key := kind + "/" + scope
	names, ok := n.taken[key]
	if !ok {
		names = make(map[string]string)
		n.taken[key] = names
	}
	folded := n.opts.Fold(name)
	if prev, ok := names[folded]; ok {
		return "", &relvar.NameCollisionError{Kind: kind, Name: name, First: prev, Second: origin}
	}
	names[folded] = origin
	return name, nil
}

// table claims the prefixed name of an entity or auxiliary table.
func (n *namer) table(name, origin string) (string, error) {
	return n.claim(kindTable, "", n.opts.NamingPrefix+name, origin)
}

func (n *namer) column(table, name, origin string) (string, error) {
	return n.claim(kindColumn, table, name, origin)
}

func (n *namer) index(name, origin string) (string, error) {
	return n.claim(kindIndex, "", name, origin)
}

func (n *namer) constraint(name, origin string) (string, error) {
	return n.claim(kindConstraint, "", name, origin)
}
