// Package gen maps a closed logical schema onto a physical table layout.
//
// The mapping pipeline:
//
//	schema.Schema (closed)
//	        ↓
//	   typemap.Manager (types -> column representations)
//	        ↓
//	   Graph (entities in reference order, one Node per entity)
//	        ↓
//	   schema.Layout (tables, keys, foreign keys, origins)
//
// # Naming
//
// Table and column names are derived from logical names by a single
// naming policy: an optional dialect prefix, snake_case, optional
// pluralization of table names, singular element columns for collections
// (reports -> report_id), owner_id back references and a position column
// for lists. Names longer than the dialect's identifier limit are
// truncated with a stable hash suffix. Two definitions mapping to the same
// physical name, after case folding on case-insensitive dialects, fail
// with a NameCollisionError naming both.
//
// # Key Types
//
//   - Config: naming and dialect settings, built from Options
//   - Graph: the mapped schema and its layout
//   - Node: one entity with its primary and auxiliary tables
package gen
