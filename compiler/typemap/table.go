package typemap

import (
	"github.com/syssam/relvar/dialect"
	"github.com/syssam/relvar/schema"
)

// Override maps a named Constrained or Enum type to a physical type.
type Override struct {
	Base     schema.Kind
	TypeName string
	Size     int64
}

// Table is the physical type table of a dialect.
type Table struct {
	Dialect string
	Names   map[schema.Kind]string
	Sizes   map[schema.Kind]int64
	// BoolFallback is used for booleans when the dialect has no boolean type.
	BoolFallback string
	// Overrides maps declared type names to physical types.
	Overrides map[string]Override
}

// Clone returns a deep copy of t, so that callers may add overrides.
func (t Table) Clone() Table {
	c := t
	c.Names = make(map[schema.Kind]string, len(t.Names))
	for k, v := range t.Names {
		c.Names[k] = v
	}
	c.Sizes = make(map[schema.Kind]int64, len(t.Sizes))
	for k, v := range t.Sizes {
		c.Sizes[k] = v
	}
	c.Overrides = make(map[string]Override, len(t.Overrides))
	for k, v := range t.Overrides {
		c.Overrides[k] = v
	}
	return c
}

// Generic is the ANSI baseline type table.
var Generic = Table{
	Dialect: dialect.Generic,
	Names: map[schema.Kind]string{
		schema.KindInt:     "integer",
		schema.KindFloat:   "double precision",
		schema.KindDecimal: "decimal",
		schema.KindString:  "varchar",
		schema.KindBool:    "boolean",
		schema.KindTime:    "timestamp",
		schema.KindUUID:    "char",
		schema.KindBytes:   "blob",
	},
	Sizes: map[schema.Kind]int64{
		schema.KindString: 255,
		schema.KindUUID:   36,
	},
	BoolFallback: "smallint",
}

// SQLite is the SQLite type table.
var SQLite = Table{
	Dialect: dialect.SQLite,
	Names: map[schema.Kind]string{
		schema.KindInt:     "integer",
		schema.KindFloat:   "real",
		schema.KindDecimal: "numeric",
		schema.KindString:  "text",
		schema.KindBool:    "bool",
		schema.KindTime:    "datetime",
		schema.KindUUID:    "uuid",
		schema.KindBytes:   "blob",
	},
	BoolFallback: "integer",
}

// Postgres is the PostgreSQL type table.
var Postgres = Table{
	Dialect: dialect.Postgres,
	Names: map[schema.Kind]string{
		schema.KindInt:     "bigint",
		schema.KindFloat:   "double precision",
		schema.KindDecimal: "numeric",
		schema.KindString:  "varchar",
		schema.KindBool:    "boolean",
		schema.KindTime:    "timestamptz",
		schema.KindUUID:    "uuid",
		schema.KindBytes:   "bytea",
	},
	Sizes: map[schema.Kind]int64{
		schema.KindString: 255,
	},
	BoolFallback: "smallint",
}

// MySQL is the MySQL type table.
var MySQL = Table{
	Dialect: dialect.MySQL,
	Names: map[schema.Kind]string{
		schema.KindInt:     "bigint",
		schema.KindFloat:   "double",
		schema.KindDecimal: "decimal",
		schema.KindString:  "varchar",
		schema.KindBool:    "boolean",
		schema.KindTime:    "datetime",
		schema.KindUUID:    "char",
		schema.KindBytes:   "blob",
	},
	Sizes: map[schema.Kind]int64{
		schema.KindString: 255,
		schema.KindUUID:   36,
	},
	BoolFallback: "tinyint",
}
