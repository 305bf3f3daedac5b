package query

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/relvar"
	layout "github.com/syssam/relvar/dialect/sql/schema"
	"github.com/syssam/relvar/schema"
)

// Dependencies returns the table columns the plan reads, sorted and without
// duplicates. Columns of join and correlation conditions are included.
func (p *Plan) Dependencies() []layout.Dependency {
	return dependencies(p.Select)
}

func dependencies(sel *Select) []layout.Dependency {
	tables := make(map[string]string)
	var visit func(*Select)
	visit = func(s *Select) {
		tables[s.From.Alias] = s.From.Name
		for _, j := range s.Joins {
			tables[j.Table.Alias] = j.Table.Name
		}
	}
	selects := []*Select{sel}
	WalkSelect(sel, func(x Expr) {
		switch x := x.(type) {
		case *Subquery:
			selects = append(selects, x.Select)
		case *Exists:
			selects = append(selects, x.Select)
		}
	})
	for _, s := range selects {
		visit(s)
	}
	var deps []layout.Dependency
	WalkSelect(sel, func(x Expr) {
		c, ok := x.(*Column)
		if !ok {
			return
		}
		if t, ok := tables[c.Alias]; ok {
			deps = append(deps, layout.Dependency{Table: t, Column: c.Name})
		}
	})
	slices.SortFunc(deps, func(a, b layout.Dependency) int {
		return cmp.Or(cmp.Compare(a.Table, b.Table), cmp.Compare(a.Column, b.Column))
	})
	return slices.Compact(deps)
}

// Param returns the parameter with the given name.
func (p *Plan) Param(name string) (Param, bool) {
	i := slices.IndexFunc(p.Params, func(p Param) bool { return p.Name == name })
	if i < 0 {
		return Param{}, false
	}
	return p.Params[i], true
}

// Bind returns the positional arguments of a statement generated from the
// plan. order lists the parameter name of every placeholder occurrence in
// statement order; a parameter that occurs twice is bound twice.
func (p *Plan) Bind(order []string, values map[string]any) ([]any, error) {
	args := make([]any, 0, len(order))
	for _, name := range order {
		param, ok := p.Param(name)
		if !ok {
			return nil, fmt.Errorf("relvar: statement parameter :%s is not a parameter of %q", name, p.Source)
		}
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("relvar: missing value for parameter :%s", name)
		}
		arg, err := coerce(param, v)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

// coerce converts v to the driver value of the parameter kind.
func coerce(p Param, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	bad := func() error {
		return fmt.Errorf("relvar: parameter :%s expects %s, got %T", p.Name, p.Kind, v)
	}
	switch p.Kind {
	case schema.KindUUID:
		switch v := v.(type) {
		case uuid.UUID:
			return v.String(), nil
		case string:
			u, err := uuid.Parse(v)
			if err != nil {
				return nil, fmt.Errorf("relvar: parameter :%s: %w", p.Name, err)
			}
			return u.String(), nil
		case [16]byte:
			return uuid.UUID(v).String(), nil
		}
		return nil, bad()
	case schema.KindInt:
		switch v := v.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case uint32:
			return int64(v), nil
		}
		return nil, bad()
	case schema.KindFloat, schema.KindDecimal:
		switch v := v.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			if p.Kind == schema.KindDecimal {
				return v, nil
			}
		}
		return nil, bad()
	case schema.KindTime:
		switch v := v.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("relvar: parameter :%s: %w", p.Name, err)
			}
			return t, nil
		}
		return nil, bad()
	case schema.KindString:
		if _, ok := v.(string); !ok {
			return nil, bad()
		}
	case schema.KindBool:
		if _, ok := v.(bool); !ok {
			return nil, bad()
		}
	case schema.KindBytes:
		if _, ok := v.([]byte); !ok {
			return nil, bad()
		}
	}
	return v, nil
}

// Refresh recomputes a maintained column: for every row of Table, Column
// is set to the single item of Value, which is correlated to the row by
// its primary key.
type Refresh struct {
	Table  string
	Column string
	Origin layout.Origin
	Value  *Select
	// Dependencies lists the columns whose writes invalidate Column.
	Dependencies []layout.Dependency
}

// CompileRefresh compiles the refresh statement of a maintained attribute.
func (c *Compiler) CompileRefresh(m *layout.Maintenance) (*Refresh, error) {
	t, ok := c.layout.Table(m.Table)
	if !ok {
		return nil, relvar.NewSchemaError(relvar.Location{Schema: c.schema.Name, Entity: m.Origin.Entity}, "maintained table %s does not exist", m.Table)
	}
	p, err := c.CompileAttribute(m.Origin.Entity, m.Origin.Attribute)
	if err != nil {
		return nil, err
	}
	if len(p.Params) > 0 {
		return nil, relvar.NewSchemaError(relvar.Location{Schema: c.schema.Name, Entity: m.Origin.Entity, Attribute: m.Origin.Attribute}, "maintained formula cannot have parameters")
	}
	sel := p.Select
	sel.Where = and(sel.Where, equate(sel.From.Alias, t.PrimaryKey, t.Name, t.PrimaryKey))
	return &Refresh{
		Table:        t.Name,
		Column:       m.Column,
		Origin:       m.Origin,
		Value:        sel,
		Dependencies: p.Dependencies(),
	}, nil
}
