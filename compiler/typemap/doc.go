// Package typemap maps logical attribute types to physical column
// representations for one dialect.
//
// A scalar maps to one column. A reference maps to copies of the referenced
// entity's identifying key columns. An inline tuple maps to one column per
// field. Collections map to no column on the owning table; they carry an
// auxiliary table directive instead.
package typemap
