package gen

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/compiler/typemap"
	layout "github.com/syssam/relvar/dialect/sql/schema"
	"github.com/syssam/relvar/dialect/sqlschema"
	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/formula"
)

type (
	// Graph is a logical schema mapped onto physical tables.
	Graph struct {
		*Config
		// Schema is the mapped logical schema.
		Schema *schema.Schema
		// Nodes holds one node per entity, in reference order: an entity
		// comes after the entities it references, cycles aside.
		Nodes []*Node

		logger  *slog.Logger
		types   *typemap.Manager
		names   *namer
		nodes   map[string]*Node
		pending []*pendingFK
		layout  *layout.Layout
	}

	// Node is an entity and the tables storing it.
	Node struct {
		Entity *schema.Entity
		// Table is the primary table of the entity.
		Table *layout.Table
		// Aux holds one auxiliary table per collection attribute.
		Aux []*layout.Table
		// base is the unprefixed table name auxiliary names derive from.
		base        string
		collections []collection
	}

	collection struct {
		attr *schema.Attribute
		rep  *typemap.Representation
	}

	// pendingFK is a foreign key whose referenced columns are resolved
	// once every entity table exists.
	pendingFK struct {
		table  *layout.Table
		origin layout.Origin
		entity string
		cols   []string
		refs   []*typemap.Ref
		ann    sqlschema.Annotation
	}
)

// NewGraph maps the closed schema s using the type manager of the target
// dialect.
func NewGraph(c *Config, s *schema.Schema, types *typemap.Manager) (*Graph, error) {
	switch {
	case c == nil:
		return nil, NewConfigError("Config", nil, "config cannot be nil")
	case types == nil:
		return nil, NewConfigError("Types", nil, "type manager cannot be nil")
	case s == nil:
		return nil, fmt.Errorf("relvar: nil schema: %w", relvar.ErrInvalidSchema)
	case !s.Closed():
		return nil, fmt.Errorf("relvar: schema %q must be closed before mapping: %w", s.Name, relvar.ErrInvalidSchema)
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Graph{
		Config: c,
		Schema: s,
		logger: logger,
		types:  types,
		names:  newNamer(c),
		nodes:  make(map[string]*Node, len(s.Entities)),
		layout: &layout.Layout{},
	}
	var errs []error
	for _, e := range g.order() {
		n, err := g.entityTable(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		g.Nodes = append(g.Nodes, n)
		g.nodes[e.Name] = n
	}
	if len(errs) > 0 {
		return nil, relvar.NewAggregateError(errs...)
	}
	for _, n := range g.Nodes {
		for _, col := range n.collections {
			if err := g.auxTable(n, col.attr, col.rep); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, p := range g.pending {
		if err := g.resolve(p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, relvar.NewAggregateError(errs...)
	}
	for _, n := range g.Nodes {
		g.layout.Tables = append(g.layout.Tables, n.Table)
		g.layout.Tables = append(g.layout.Tables, n.Aux...)
	}
	if res := g.layout.Validate(); res.HasErrors() {
		return nil, fmt.Errorf("relvar: invalid layout for schema %q:\n%s", s.Name, res)
	}
	g.logger.Debug("schema mapped",
		slog.String("schema", s.Name),
		slog.String("dialect", c.Dialect.Name),
		slog.Int("tables", len(g.layout.Tables)),
	)
	return g, nil
}

// Layout returns the physical layout.
func (g *Graph) Layout() *layout.Layout { return g.layout }

// Node returns the node of the named entity.
func (g *Graph) Node(entity string) (*Node, bool) {
	n, ok := g.nodes[entity]
	return n, ok
}

// order sorts the entities so that referenced entities come first. Ties
// keep declaration order, and entities on a reference cycle are emitted in
// declaration order once nothing else is ready.
func (g *Graph) order() []*schema.Entity {
	deps := make(map[string]map[string]bool, len(g.Schema.Entities))
	for _, e := range g.Schema.Entities {
		d := make(map[string]bool)
		for _, a := range e.Attributes {
			if a.Stored() && a.Type != nil {
				g.references(a.Type, d, make(map[string]bool))
			}
		}
		delete(d, e.Name)
		deps[e.Name] = d
	}
	var (
		order = make([]*schema.Entity, 0, len(g.Schema.Entities))
		done  = make(map[string]bool, len(g.Schema.Entities))
	)
	ready := func(e *schema.Entity) bool {
		for d := range deps[e.Name] {
			if !done[d] {
				return false
			}
		}
		return true
	}
	for len(order) < len(g.Schema.Entities) {
		var next *schema.Entity
		for _, e := range g.Schema.Entities {
			if !done[e.Name] && ready(e) {
				next = e
				break
			}
		}
		if next == nil {
			for _, e := range g.Schema.Entities {
				if !done[e.Name] {
					next = e
					break
				}
			}
			g.logger.Debug("reference cycle", slog.String("entity", next.Name))
		}
		done[next.Name] = true
		order = append(order, next)
	}
	return order
}

// references collects the entities referenced by values of t.
func (g *Graph) references(t schema.Type, deps, seen map[string]bool) {
	switch t := t.(type) {
	case schema.Reference:
		deps[t.Entity] = true
	case schema.List:
		g.references(t.Elem, deps, seen)
	case schema.Set:
		g.references(t.Elem, deps, seen)
	case schema.Relation:
		g.tupleReferences(t.Tuple, deps, seen)
	case schema.TupleOf:
		g.tupleReferences(t.Tuple, deps, seen)
	}
}

func (g *Graph) tupleReferences(name string, deps, seen map[string]bool) {
	if seen[name] {
		return
	}
	seen[name] = true
	if tu, ok := g.Schema.Tuple(name); ok {
		for _, a := range tu.Attributes {
			if a.Type != nil {
				g.references(a.Type, deps, seen)
			}
		}
	}
}

func (g *Graph) entityTable(e *schema.Entity) (*Node, error) {
	var (
		n    = &Node{Entity: e}
		loc  = e.Location()
		ann  = sqlschema.From(e.Annotation(sqlschema.AnnotationName))
		name string
		err  error
		errs []error
	)
	switch {
	case ann.Table != "":
		n.base = ann.Table
		name, err = g.names.claim(kindTable, "", ann.Table, e.Name)
	case g.Pluralize:
		n.base = g.names.snake(g.names.plural(e.Name))
		name, err = g.names.table(n.base, e.Name)
	default:
		n.base = g.names.snake(e.Name)
		name, err = g.names.table(n.base, e.Name)
	}
	if err != nil {
		return nil, err
	}
	n.Table = &layout.Table{
		Name:    name,
		Origin:  layout.Origin{Entity: e.Name, Role: layout.RoleEntity},
		Comment: e.Comment,
	}
	ident := e.Identifier()
	for _, a := range e.Attributes {
		if !a.Stored() {
			continue
		}
		rep, err := g.types.Represent(loc.At(a.Name), a.Type)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if rep.Aux != nil {
			n.collections = append(n.collections, collection{attr: a, rep: rep})
			continue
		}
		role := layout.RoleAttribute
		switch {
		case ident != nil && slices.Contains(ident.Attributes, a.Name):
			role = layout.RoleIdentifier
		case a.Kind == schema.Maintained:
			role = layout.RoleMaintained
		}
		origin := layout.Origin{Entity: e.Name, Attribute: a.Name, Role: role}
		aann := sqlschema.From(a.Annotation(sqlschema.AnnotationName))
		base := g.names.snake(a.Name)
		if aann.Column != "" {
			base = aann.Column
		}
		// Maintained columns are filled by the refresh that follows a write.
		cols, err := g.addColumns(n.Table, origin, base, rep.Columns, a.Nullable() || role == layout.RoleMaintained, aann)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if a.Implicit && len(cols) == 1 {
			cols[0].Increment = true
		}
		if a.Kind == schema.Maintained && len(cols) > 0 {
			g.layout.Maintained = append(g.layout.Maintained, &layout.Maintenance{
				Table:   n.Table.Name,
				Column:  cols[0].Name,
				Origin:  origin,
				Formula: a.Formula.String(),
			})
		}
	}
	if len(errs) > 0 {
		return nil, relvar.NewAggregateError(errs...)
	}
	for _, k := range e.Keys {
		cols := n.keyColumns(k)
		if k.Identifying {
			n.Table.PrimaryKey = cols
			continue
		}
		kann := sqlschema.From(annotation(k.Annotations, sqlschema.AnnotationName))
		iname := kann.IndexName
		if iname == "" {
			iname = n.Table.Name + "_" + g.names.snake(k.Name)
		}
		iname, err := g.names.index(iname, e.Name+" key "+k.Name)
		if err != nil {
			return nil, err
		}
		n.Table.Indexes = append(n.Table.Indexes, &layout.Index{
			Name:    iname,
			Unique:  k.Unique,
			Columns: cols,
			Origin:  layout.Origin{Entity: e.Name, Attribute: strings.Join(k.Attributes, ","), Role: layout.RoleAttribute},
		})
	}
	g.logger.Debug("mapped entity",
		slog.String("entity", e.Name),
		slog.String("table", n.Table.Name),
		slog.Int("columns", len(n.Table.Columns)),
		slog.Int("collections", len(n.collections)),
	)
	return n, nil
}

// keyColumns returns the physical columns of a key.
func (n *Node) keyColumns(k *schema.Key) []string {
	var cols []string
	for _, name := range k.Attributes {
		for _, c := range n.Table.ColumnsOf(name) {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// addColumns adds the columns of a representation to t. Columns copying
// another entity's key are queued as foreign keys.
func (g *Graph) addColumns(t *layout.Table, origin layout.Origin, base string, reps []typemap.Column, nullable bool, ann sqlschema.Annotation) ([]*layout.Column, error) {
	var (
		cols   []*layout.Column
		groups = make(map[string]*pendingFK)
		keys   []string
	)
	for _, r := range reps {
		o := origin
		o.Path = r.Path
		name, err := g.names.column(t.Name, base+r.Suffix, o.String())
		if err != nil {
			return nil, err
		}
		c := &layout.Column{
			Name:      name,
			Type:      r.Kind,
			TypeName:  r.TypeName,
			Size:      r.Size,
			Nullable:  r.Nullable || nullable,
			Enums:     r.Enums,
			Default:   ann.Default,
			Collation: ann.Collation,
			Origin:    o,
		}
		if len(reps) == 1 {
			if tn := ann.TypeFor(g.Dialect.Name); tn != "" {
				c.TypeName, c.Size = tn, 0
			}
			if ann.Size != 0 {
				c.Size = ann.Size
			}
		}
		if err := g.addChecks(t, c, r); err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, c)
		cols = append(cols, c)
		if r.Ref != nil {
			key := r.Path
			p, ok := groups[key]
			if !ok {
				p = &pendingFK{table: t, origin: o, entity: r.Ref.Entity, ann: ann}
				groups[key] = p
				keys = append(keys, key)
			}
			p.cols = append(p.cols, c.Name)
			p.refs = append(p.refs, r.Ref)
		}
	}
	for _, k := range keys {
		g.pending = append(g.pending, groups[k])
	}
	return cols, nil
}

// addChecks records the check constraints of constrained and enum columns.
func (g *Graph) addChecks(t *layout.Table, c *layout.Column, r typemap.Column) error {
	var exprs []string
	if r.Check != "" {
		exprs = append(exprs, r.Check)
	}
	if len(r.Enums) > 0 {
		or := &formula.Or{}
		for _, v := range r.Enums {
			or.Args = append(or.Args, formula.Eq(formula.P("value"), formula.Str(v)))
		}
		if len(or.Args) == 1 {
			exprs = append(exprs, or.Args[0].String())
		} else {
			exprs = append(exprs, or.String())
		}
	}
	for i, x := range exprs {
		name := t.Name + "_" + c.Name + "_check"
		if i > 0 {
			name = fmt.Sprintf("%s%d", name, i+1)
		}
		name, err := g.names.constraint(name, c.Origin.String()+" check")
		if err != nil {
			return err
		}
		t.Checks = append(t.Checks, &layout.Check{Name: name, Column: c.Name, Expr: x})
	}
	return nil
}

// auxTable creates the auxiliary table of a collection attribute: owner
// key columns, a position column for lists and the element columns.
func (g *Graph) auxTable(n *Node, a *schema.Attribute, rep *typemap.Representation) error {
	var (
		e      = n.Entity
		ann    = sqlschema.From(a.Annotation(sqlschema.AnnotationName))
		origin = e.Name + "." + a.Name
		name   string
		err    error
	)
	if ann.Table != "" {
		name, err = g.names.claim(kindTable, "", ann.Table, origin)
	} else {
		name, err = g.names.table(n.base+"_"+g.names.snake(a.Name), origin)
	}
	if err != nil {
		return err
	}
	t := &layout.Table{
		Name:    name,
		Origin:  layout.Origin{Entity: e.Name, Attribute: a.Name, Role: layout.RoleCollection},
		Comment: a.Comment,
	}
	owner := make([]string, 0, len(n.Table.PrimaryKey))
	for _, pk := range n.Table.PrimaryKey {
		ref, _ := n.Table.Column(pk)
		cname, err := g.names.column(t.Name, "owner_"+pk, origin+" owner")
		if err != nil {
			return err
		}
		t.Columns = append(t.Columns, &layout.Column{
			Name:     cname,
			Type:     ref.Type,
			TypeName: ref.TypeName,
			Size:     ref.Size,
			Origin:   layout.Origin{Entity: e.Name, Attribute: a.Name, Role: layout.RoleOwner},
		})
		owner = append(owner, cname)
	}
	symbol, err := g.names.constraint(t.Name+"_"+strings.Join(owner, "_")+"_fkey", origin+" owner")
	if err != nil {
		return err
	}
	t.ForeignKeys = append(t.ForeignKeys, &layout.ForeignKey{
		Symbol:     symbol,
		Columns:    owner,
		RefTable:   n.Table.Name,
		RefColumns: append([]string(nil), n.Table.PrimaryKey...),
		OnDelete:   string(sqlschema.Cascade),
		Origin:     layout.Origin{Entity: e.Name, Attribute: a.Name, Role: layout.RoleOwner},
	})
	if rep.Aux.Ordered {
		pos, err := g.types.Represent(e.Location().At(a.Name), schema.Int)
		if err != nil {
			return err
		}
		cname, err := g.names.column(t.Name, "position", origin+" position")
		if err != nil {
			return err
		}
		t.Columns = append(t.Columns, &layout.Column{
			Name:     cname,
			Type:     schema.KindInt,
			TypeName: pos.Columns[0].TypeName,
			Origin:   layout.Origin{Entity: e.Name, Attribute: a.Name, Role: layout.RolePosition},
		})
		t.PrimaryKey = append(append([]string(nil), owner...), cname)
	}
	elems := rep.Aux.Elem.Columns
	base := g.names.singular(g.names.snake(a.Name))
	if rep.Aux.Tuple != "" {
		base = ""
		elems = make([]typemap.Column, len(rep.Aux.Elem.Columns))
		for i, c := range rep.Aux.Elem.Columns {
			c.Suffix = strings.TrimPrefix(c.Suffix, "_")
			elems[i] = c
		}
	}
	eann := sqlschema.Annotation{OnDelete: ann.OnDelete, OnUpdate: ann.OnUpdate, Collation: ann.Collation}
	cols, err := g.addColumns(t, layout.Origin{Entity: e.Name, Attribute: a.Name, Role: layout.RoleElement}, base, elems, false, eann)
	if err != nil {
		return err
	}
	if rep.Aux.Unique {
		iname := ann.IndexName
		if iname == "" {
			iname = t.Name + "_key"
		}
		iname, err := g.names.index(iname, origin+" elements")
		if err != nil {
			return err
		}
		ucols := append([]string(nil), owner...)
		for _, c := range cols {
			ucols = append(ucols, c.Name)
		}
		t.Indexes = append(t.Indexes, &layout.Index{
			Name:    iname,
			Unique:  true,
			Columns: ucols,
			Origin:  layout.Origin{Entity: e.Name, Attribute: a.Name, Role: layout.RoleElement},
		})
	}
	n.Aux = append(n.Aux, t)
	g.logger.Debug("mapped collection",
		slog.String("attribute", origin),
		slog.String("table", t.Name),
	)
	return nil
}

// resolve fills in the referenced columns of a queued foreign key.
func (g *Graph) resolve(p *pendingFK) error {
	ref, ok := g.nodes[p.entity]
	if !ok {
		return &relvar.UnresolvedReferenceError{
			Location: relvar.Location{Schema: g.Schema.Name, Entity: p.origin.Entity, Attribute: p.origin.Attribute},
			Name:     p.entity,
			Scope:    "entities of " + g.Schema.Name,
		}
	}
	fk := &layout.ForeignKey{
		Columns:  p.cols,
		RefTable: ref.Table.Name,
		OnDelete: string(p.ann.OnDelete),
		OnUpdate: string(p.ann.OnUpdate),
		Origin:   p.origin,
	}
	for _, r := range p.refs {
		cols := ref.Table.ColumnsOf(r.Attribute)
		if r.Index >= len(cols) {
			return relvar.NewSchemaError(ref.Entity.Location().At(r.Attribute), "key column %d of %s is not mapped", r.Index, p.origin)
		}
		fk.RefColumns = append(fk.RefColumns, cols[r.Index].Name)
	}
	symbol, err := g.names.constraint(p.table.Name+"_"+strings.Join(p.cols, "_")+"_fkey", p.origin.String())
	if err != nil {
		return err
	}
	fk.Symbol = symbol
	p.table.ForeignKeys = append(p.table.ForeignKeys, fk)
	return nil
}

// annotation returns the merged annotation of a key.
func annotation(anns []schema.Annotation, name string) schema.Annotation {
	var found schema.Annotation
	for _, a := range anns {
		if a == nil || a.Name() != name {
			continue
		}
		if m, ok := found.(schema.Merger); ok {
			found = m.Merge(a)
		} else {
			found = a
		}
	}
	return found
}
