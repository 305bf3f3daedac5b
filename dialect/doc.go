// Package dialect describes the SQL dialects relvar can target.
//
// A dialect is identified by name and configured through Options:
//
//	opts := dialect.Defaults(dialect.SQLite)
//	opts.NamingPrefix = "hr_"
//
// The recognized options are the identifier quote style, the maximum
// identifier length, a naming prefix applied to every generated table and
// whether the dialect has a native boolean type. Case insensitive dialects
// fold identifiers before collision checks.
//
// Capability bits (Mode) tell the generator which constructs the dialect can
// express:
//
//	dialect.Defaults(dialect.Postgres).Mode.Support(dialect.Regexp) // true
//	dialect.Defaults(dialect.Generic).Mode.Support(dialect.Regexp)  // false
//
// # Sub-packages
//
//   - dialect/adapter: registry selecting type tables and SQL generators by name
//   - dialect/sql: SQL text generation and a thin database/sql driver
//   - dialect/sql/schema: physical table layout, validation and migration planning
//   - dialect/sqlschema: SQL annotations for schema definitions
package dialect
