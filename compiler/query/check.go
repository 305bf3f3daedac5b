package query

import (
	"github.com/syssam/relvar"
	layout "github.com/syssam/relvar/dialect/sql/schema"
	"github.com/syssam/relvar/schema/formula"
)

// CompileCheck compiles the condition of a check constraint on col. The
// condition refers to the column as value, and may not use parameters or
// navigate to other tables.
func (c *Compiler) CompileCheck(src string, col *layout.Column) (Expr, error) {
	x, err := formula.Parse(src)
	if err != nil {
		return nil, err
	}
	s := &state{
		c:    c,
		loc:  relvar.Location{Schema: c.schema.Name, Entity: col.Origin.Entity, Attribute: col.Origin.Attribute},
		plan: &Plan{Source: x.String()},
	}
	f := &frame{check: col}
	cond, err := s.cond(f, x)
	if err != nil {
		return nil, err
	}
	if len(s.plan.Params) > 0 {
		return nil, relvar.NewSchemaError(s.loc, "check on %s cannot have parameters", col.Name)
	}
	return cond, nil
}
