// Package schema holds the physical layout produced by the schema mapper:
// tables, columns, keys and the origin links back to the logical model.
// It also validates layouts, plans migrations between them and stores
// snapshots of them.
package schema

import (
	"slices"
	"strings"

	model "github.com/syssam/relvar/schema"
)

// Role tells which part of the logical model a table or column stores.
type Role string

// Roles.
const (
	RoleEntity     Role = "entity"     // primary table of an entity
	RoleCollection Role = "collection" // auxiliary table of a collection attribute
	RoleIdentifier Role = "identifier" // identifying key column
	RoleAttribute  Role = "attribute"  // original attribute column
	RoleMaintained Role = "maintained" // stored formula column
	RoleOwner      Role = "owner"      // back reference to the owning row
	RoleElement    Role = "element"    // collection element column
	RolePosition   Role = "position"   // list order column
)

// Origin links a physical object to the logical definition it stores.
type Origin struct {
	Entity    string `msgpack:"entity"`
	Attribute string `msgpack:"attribute,omitempty"`
	// Path is the dotted tuple field path inside the attribute, if any.
	Path string `msgpack:"path,omitempty"`
	Role Role   `msgpack:"role"`
}

// String returns entity.attribute[.path].
func (o Origin) String() string {
	var b strings.Builder
	b.WriteString(o.Entity)
	if o.Attribute != "" {
		b.WriteByte('.')
		b.WriteString(o.Attribute)
	}
	if o.Path != "" {
		b.WriteByte('.')
		b.WriteString(o.Path)
	}
	return b.String()
}

// Column is a physical column.
type Column struct {
	Name      string     `msgpack:"name"`
	Type      model.Kind `msgpack:"type"`
	TypeName  string     `msgpack:"type_name"`
	Size      int64      `msgpack:"size,omitempty"`
	Nullable  bool       `msgpack:"nullable,omitempty"`
	Increment bool       `msgpack:"increment,omitempty"`
	Default   string     `msgpack:"default,omitempty"`
	Collation string     `msgpack:"collation,omitempty"`
	Enums     []string   `msgpack:"enums,omitempty"`
	Comment   string     `msgpack:"comment,omitempty"`
	Origin    Origin     `msgpack:"origin"`
}

// Check is a named check constraint. Expr is a formula over value, bound
// to Column.
type Check struct {
	Name   string `msgpack:"name"`
	Column string `msgpack:"column"`
	Expr   string `msgpack:"expr"`
}

// Index is a unique constraint or a plain index.
type Index struct {
	Name    string   `msgpack:"name"`
	Unique  bool     `msgpack:"unique,omitempty"`
	Columns []string `msgpack:"columns"`
	Origin  Origin   `msgpack:"origin"`
}

// ForeignKey links columns to the key columns of another table.
type ForeignKey struct {
	Symbol     string   `msgpack:"symbol"`
	Columns    []string `msgpack:"columns"`
	RefTable   string   `msgpack:"ref_table"`
	RefColumns []string `msgpack:"ref_columns"`
	OnDelete   string   `msgpack:"on_delete,omitempty"`
	OnUpdate   string   `msgpack:"on_update,omitempty"`
	Origin     Origin   `msgpack:"origin"`
}

// Table is a physical table.
type Table struct {
	Name        string        `msgpack:"name"`
	Columns     []*Column     `msgpack:"columns"`
	PrimaryKey  []string      `msgpack:"primary_key"`
	Indexes     []*Index      `msgpack:"indexes,omitempty"`
	ForeignKeys []*ForeignKey `msgpack:"foreign_keys,omitempty"`
	Checks      []*Check      `msgpack:"checks,omitempty"`
	Origin      Origin        `msgpack:"origin"`
	Comment     string        `msgpack:"comment,omitempty"`
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Auxiliary reports whether the table stores a collection attribute.
func (t *Table) Auxiliary() bool {
	return t.Origin.Role == RoleCollection
}

// ColumnsOf returns the columns storing the given attribute, in order.
func (t *Table) ColumnsOf(attribute string) []*Column {
	var cols []*Column
	for _, c := range t.Columns {
		if c.Origin.Attribute == attribute && c.Origin.Role != RoleOwner {
			cols = append(cols, c)
		}
	}
	return cols
}

// Dependency is a column read by a maintained attribute's formula.
type Dependency struct {
	Table  string `msgpack:"table"`
	Column string `msgpack:"column"`
}

// Maintenance records a maintained attribute: the column it is stored in,
// the formula that computes it and the columns whose writes must refresh it.
type Maintenance struct {
	Table        string       `msgpack:"table"`
	Column       string       `msgpack:"column"`
	Origin       Origin       `msgpack:"origin"`
	Formula      string       `msgpack:"formula"`
	Dependencies []Dependency `msgpack:"dependencies,omitempty"`
}

// DependsOn reports whether writes to table.column invalidate the value.
func (m *Maintenance) DependsOn(table, column string) bool {
	return slices.Contains(m.Dependencies, Dependency{Table: table, Column: column})
}

// Layout is the physical layout of a schema.
type Layout struct {
	Tables     []*Table       `msgpack:"tables"`
	Maintained []*Maintenance `msgpack:"maintained,omitempty"`
}

// Table returns the table with the given name.
func (l *Layout) Table(name string) (*Table, bool) {
	for _, t := range l.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// EntityTable returns the primary table of an entity.
func (l *Layout) EntityTable(entity string) (*Table, bool) {
	for _, t := range l.Tables {
		if t.Origin.Role == RoleEntity && t.Origin.Entity == entity {
			return t, true
		}
	}
	return nil, false
}

// CollectionTable returns the auxiliary table of a collection attribute.
func (l *Layout) CollectionTable(entity, attribute string) (*Table, bool) {
	for _, t := range l.Tables {
		if t.Origin.Role == RoleCollection && t.Origin.Entity == entity && t.Origin.Attribute == attribute {
			return t, true
		}
	}
	return nil, false
}

// Locate returns the table and columns storing an attribute. Collection
// attributes return their auxiliary table and its element columns.
func (l *Layout) Locate(entity, attribute string) (*Table, []*Column) {
	if t, ok := l.CollectionTable(entity, attribute); ok {
		var cols []*Column
		for _, c := range t.Columns {
			if c.Origin.Role == RoleElement {
				cols = append(cols, c)
			}
		}
		return t, cols
	}
	t, ok := l.EntityTable(entity)
	if !ok {
		return nil, nil
	}
	return t, t.ColumnsOf(attribute)
}

// Origins maps every table ("table") and column ("table.column") to its
// logical origin.
func (l *Layout) Origins() map[string]Origin {
	m := make(map[string]Origin)
	for _, t := range l.Tables {
		m[t.Name] = t.Origin
		for _, c := range t.Columns {
			m[t.Name+"."+c.Name] = c.Origin
		}
	}
	return m
}

// Maintenance returns the maintenance record of an attribute.
func (l *Layout) Maintenance(entity, attribute string) (*Maintenance, bool) {
	for _, m := range l.Maintained {
		if m.Origin.Entity == entity && m.Origin.Attribute == attribute {
			return m, true
		}
	}
	return nil, false
}

// Invalidated returns the maintained attributes a write to table.column
// must refresh.
func (l *Layout) Invalidated(table, column string) []*Maintenance {
	var ms []*Maintenance
	for _, m := range l.Maintained {
		if m.DependsOn(table, column) {
			ms = append(ms, m)
		}
	}
	return ms
}
