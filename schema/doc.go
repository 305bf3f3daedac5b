// Package schema is the logical model compiled by relvar: entities,
// attributes, tuples, keys and the closed set of attribute types.
//
// Subpackages provide the builders:
//
//   - [field]: attribute builders
//   - [index]: key and index builders
//   - [mixin]: reusable attribute groups
//   - [formula]: the formula language of derived and maintained attributes
//
// # Quick Start
//
//	s, err := schema.Build("hr",
//		schema.NewEntity("Person").Fields(
//			field.String("name"),
//			field.Int("salary"),
//			field.Ref("manager", "Person").Optional(),
//			field.Set("reports", schema.RefTo("Person")),
//			field.Derived("manager_name", "manager.name"),
//			field.Maintained("report_count", schema.Int, "count(reports)"),
//		),
//	)
//
// # Types
//
// Scalar kinds are int, float, decimal, string, bool, time, uuid and
// bytes. References link entities by name and are stored as a copy of the
// target's identifying key. Lists, sets and relations (sets of tuples) are
// stored in auxiliary tables. TupleOf stores a tuple inline as prefixed
// columns. Constrained and Enum are named scalar refinements.
//
// # Lifecycle
//
// A schema is open while definitions are added and immutable once closed.
// Close validates the whole model and reports every problem it finds.
// Entities without an identifying key get an implicit integer identifier
// named id.
package schema
