package schema

import (
	"context"
	"fmt"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	atlas "ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/dialect"
	model "github.com/syssam/relvar/schema"
)

// AtlasOption configures the conversion of a layout to an atlas schema.
type AtlasOption func(*atlasConfig)

type atlasConfig struct {
	condition func(*Table, *Check) (string, error)
	increment func() atlas.Attr
}

// WithConditions renders check constraints with fn. Checks are left out
// of the conversion without it. Checks failing with a dialect error are
// left out as well, as they are in the DDL.
func WithConditions(fn func(*Table, *Check) (string, error)) AtlasOption {
	return func(c *atlasConfig) { c.condition = fn }
}

// WithIncrement attaches the attribute returned by fn to autoincrement
// columns that make up their table's primary key.
func WithIncrement(fn func() atlas.Attr) AtlasOption {
	return func(c *atlasConfig) { c.increment = fn }
}

// Atlas converts the layout into an atlas schema with the given name.
func (l *Layout) Atlas(name string, opts ...AtlasOption) (*atlas.Schema, error) {
	cfg := &atlasConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	s := atlas.New(name)
	tables := make(map[string]*atlas.Table, len(l.Tables))
	for _, t := range l.Tables {
		at := atlas.NewTable(t.Name)
		if t.Comment != "" {
			at.SetComment(t.Comment)
		}
		for _, c := range t.Columns {
			ac := atlas.NewColumn(c.Name).
				SetType(atlasType(c)).
				SetNull(c.Nullable)
			if c.Default != "" {
				ac.SetDefault(&atlas.RawExpr{X: c.Default})
			}
			if c.Comment != "" {
				ac.SetComment(c.Comment)
			}
			if c.Increment && cfg.increment != nil && len(t.PrimaryKey) == 1 && t.PrimaryKey[0] == c.Name {
				ac.AddAttrs(cfg.increment())
			}
			at.AddColumns(ac)
		}
		if len(t.PrimaryKey) > 0 {
			cols, err := atlasColumns(at, t.PrimaryKey)
			if err != nil {
				return nil, err
			}
			at.SetPrimaryKey(atlas.NewPrimaryKey(cols...))
		}
		for _, idx := range t.Indexes {
			cols, err := atlasColumns(at, idx.Columns)
			if err != nil {
				return nil, err
			}
			ai := atlas.NewIndex(idx.Name).SetUnique(idx.Unique).AddColumns(cols...)
			at.AddIndexes(ai)
		}
		if cfg.condition != nil {
			for _, ch := range t.Checks {
				cond, err := cfg.condition(t, ch)
				switch {
				case relvar.IsDialectError(err):
					continue
				case err != nil:
					return nil, err
				}
				at.AddChecks(atlas.NewCheck().SetName(ch.Name).SetExpr(cond))
			}
		}
		s.AddTables(at)
		tables[t.Name] = at
	}
	for _, t := range l.Tables {
		at := tables[t.Name]
		for _, fk := range t.ForeignKeys {
			ref, ok := tables[fk.RefTable]
			if !ok {
				return nil, fmt.Errorf("relvar: foreign key %q references unknown table %q", fk.Symbol, fk.RefTable)
			}
			cols, err := atlasColumns(at, fk.Columns)
			if err != nil {
				return nil, err
			}
			refCols, err := atlasColumns(ref, fk.RefColumns)
			if err != nil {
				return nil, err
			}
			afk := atlas.NewForeignKey(fk.Symbol).
				SetTable(at).
				AddColumns(cols...).
				SetRefTable(ref).
				AddRefColumns(refCols...)
			if fk.OnDelete != "" {
				afk.SetOnDelete(atlas.ReferenceOption(fk.OnDelete))
			}
			if fk.OnUpdate != "" {
				afk.SetOnUpdate(atlas.ReferenceOption(fk.OnUpdate))
			}
			at.AddForeignKeys(afk)
		}
	}
	return s, nil
}

func atlasColumns(t *atlas.Table, names []string) ([]*atlas.Column, error) {
	cols := make([]*atlas.Column, len(names))
	for i, n := range names {
		c, ok := t.Column(n)
		if !ok {
			return nil, fmt.Errorf("relvar: table %q has no column %q", t.Name, n)
		}
		cols[i] = c
	}
	return cols, nil
}

func atlasType(c *Column) atlas.Type {
	switch c.Type {
	case model.KindInt:
		return &atlas.IntegerType{T: c.TypeName}
	case model.KindFloat:
		return &atlas.FloatType{T: c.TypeName}
	case model.KindDecimal:
		return &atlas.DecimalType{T: c.TypeName}
	case model.KindBool:
		return &atlas.BoolType{T: c.TypeName}
	case model.KindTime:
		return &atlas.TimeType{T: c.TypeName}
	case model.KindUUID:
		return &atlas.UUIDType{T: c.TypeName}
	case model.KindBytes:
		return &atlas.BinaryType{T: c.TypeName}
	default:
		return &atlas.StringType{T: c.TypeName, Size: int(c.Size)}
	}
}

// planner returns the differ and planner of a dialect with the attribute
// of its autoincrement columns.
func planner(name string) (atlas.Differ, migrate.PlanApplier, func() atlas.Attr, error) {
	switch name {
	case dialect.SQLite:
		return sqlite.DefaultDiff, sqlite.DefaultPlan, func() atlas.Attr { return &sqlite.AutoIncrement{} }, nil
	case dialect.Postgres:
		return postgres.DefaultDiff, postgres.DefaultPlan, func() atlas.Attr { return &postgres.Identity{Generation: "BY DEFAULT"} }, nil
	case dialect.MySQL:
		return mysql.DefaultDiff, mysql.DefaultPlan, func() atlas.Attr { return &mysql.AutoIncrement{} }, nil
	default:
		return nil, nil, nil, fmt.Errorf("relvar: migration planning is not supported for dialect %q", name)
	}
}

// Plan returns the statements migrating a database from one layout to
// another. A nil from layout plans the creation of the whole layout.
// Check constraints take part in the plan when rendered by WithConditions.
func Plan(ctx context.Context, d string, from, to *Layout, opts ...AtlasOption) ([]string, error) {
	differ, planApplier, increment, err := planner(d)
	if err != nil {
		return nil, err
	}
	if from == nil {
		from = &Layout{}
	}
	opts = append([]AtlasOption{WithIncrement(increment)}, opts...)
	const name = "main"
	current, err := from.Atlas(name, opts...)
	if err != nil {
		return nil, err
	}
	desired, err := to.Atlas(name, opts...)
	if err != nil {
		return nil, err
	}
	// Both sides come from layouts, so expressions compare as written.
	changes, err := differ.SchemaDiff(current, desired, atlas.DiffNormalized())
	if err != nil {
		return nil, fmt.Errorf("relvar: diff layouts: %w", err)
	}
	if len(changes) == 0 {
		return nil, nil
	}
	plan, err := planApplier.PlanChanges(ctx, "relvar", changes)
	if err != nil {
		return nil, fmt.Errorf("relvar: plan migration: %w", err)
	}
	stmts := make([]string, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		stmts = append(stmts, c.Cmd)
	}
	return stmts, nil
}
