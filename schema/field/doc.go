// Package field provides builders for entity and tuple attributes.
//
//	field.String("name")
//	field.Int("salary").Optional()
//	field.Ref("manager", "Person").Optional()
//	field.Set("reports", schema.RefTo("Person"))
//	field.List("aliases", schema.String)
//	field.Relation("addresses", "Address")
//	field.Enum("status", "Status").Values("active", "retired")
//	field.Derived("manager_name", "manager.name")
//	field.Maintained("report_count", schema.Int, "count(reports)")
//
// Builders defer their errors to the Descriptor; the schema reports them
// when it is closed.
package field
