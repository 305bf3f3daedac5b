package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"github.com/syssam/relvar/compiler/bindings"
	"github.com/syssam/relvar/dialect"
	"github.com/syssam/relvar/dialect/sql"
	layout "github.com/syssam/relvar/dialect/sql/schema"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func (a *app) ddlCmd() *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print the statements creating the schema tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, res, err := a.compile(cmd.Context())
			if err != nil {
				return err
			}
			stmts := res.DDL
			if drop {
				stmts = append(c.Adapter.Generator.DropStatements(res.Layout), stmts...)
			}
			fmt.Fprint(cmd.OutOrStdout(), sql.Script(stmts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&drop, "drop", false, "drop existing tables first")
	return cmd
}

func (a *app) queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <entity> <formula>",
		Short: "Compile a formula in the scope of an entity and print its SELECT",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.compilation()
			if err != nil {
				return err
			}
			q, err := c.Query(args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s;\n", q.Statement.SQL)
			if len(q.Statement.Params) > 0 {
				fmt.Fprintf(out, "-- params: %s\n", strings.Join(q.Statement.Params, ", "))
			}
			return nil
		},
	}
}

func (a *app) snapshotCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write the physical layout of the schema to a snapshot file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, res, err := a.compile(cmd.Context())
			if err != nil {
				return err
			}
			b, err := layout.EncodeSnapshot(res.Dialect, res.Layout)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, b, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d tables)\n", out, len(res.Layout.Tables))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "relvar.snapshot", "snapshot file")
	return cmd
}

func (a *app) diffCmd() *cobra.Command {
	var (
		from  string
		allow struct{ dropTable, dropColumn, dropIndex, notNull bool }
	)
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Print the migration from a snapshot to the current schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, res, err := a.compile(cmd.Context())
			if err != nil {
				return err
			}
			var current *layout.Layout
			if from != "" {
				b, err := os.ReadFile(from)
				if err != nil {
					return err
				}
				d, l, err := layout.DecodeSnapshot(b)
				if err != nil {
					return err
				}
				if d != res.Dialect {
					return fmt.Errorf("snapshot %s was taken for dialect %s, not %s", from, d, res.Dialect)
				}
				current = l
				var opts []layout.ValidateOption
				if allow.dropTable {
					opts = append(opts, layout.AllowDropTable())
				}
				if allow.dropColumn {
					opts = append(opts, layout.AllowDropColumn())
				}
				if allow.dropIndex {
					opts = append(opts, layout.AllowDropIndex())
				}
				if allow.notNull {
					opts = append(opts, layout.AllowNullToNotNull())
				}
				r := layout.ValidateDiff(current.Tables, res.Layout.Tables, opts...)
				if r.HasErrors() || r.HasWarnings() {
					fmt.Fprintln(cmd.ErrOrStderr(), r.String())
				}
				if r.HasErrors() {
					return fmt.Errorf("migration rejected with %d errors", len(r.Errors))
				}
			}
			stmts, err := c.Plan(cmd.Context(), current)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(stmts) == 0 {
				fmt.Fprintln(out, "-- no changes")
				return nil
			}
			for _, s := range stmts {
				fmt.Fprintf(out, "%s;\n", s)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "", "snapshot of the current database layout")
	f.BoolVar(&allow.dropTable, "allow-drop-table", false, "allow dropping tables")
	f.BoolVar(&allow.dropColumn, "allow-drop-column", false, "allow dropping columns")
	f.BoolVar(&allow.dropIndex, "allow-drop-index", false, "allow dropping indexes")
	f.BoolVar(&allow.notNull, "allow-not-null", false, "allow making nullable columns required")
	return cmd
}

// drivers maps dialects to their database/sql driver names.
var drivers = map[string]string{
	dialect.SQLite:   "sqlite",
	dialect.Postgres: "postgres",
	dialect.MySQL:    "mysql",
}

func (a *app) applyCmd() *cobra.Command {
	var (
		dsn     string
		drop    bool
		session map[string]string
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create the schema tables in a database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, res, err := a.compile(cmd.Context())
			if err != nil {
				return err
			}
			name, ok := drivers[res.Dialect]
			if !ok {
				return fmt.Errorf("no database driver for dialect %s", res.Dialect)
			}
			if dsn == "" {
				return fmt.Errorf("--dsn is required")
			}
			if res.Dialect == dialect.MySQL {
				if _, err := mysql.ParseDSN(dsn); err != nil {
					return err
				}
			}
			opts := []sql.DriverOption{sql.WithDriverLogger(a.logger)}
			for _, k := range slices.Sorted(maps.Keys(session)) {
				opts = append(opts, sql.WithSession(sql.Setting{Name: k, Value: session[k]}))
			}
			drv, err := sql.Open(res.Dialect, name, dsn, opts...)
			if err != nil {
				return err
			}
			defer drv.Close()
			stmts := res.DDL
			if drop {
				stmts = append(c.Adapter.Generator.DropStatements(res.Layout), stmts...)
			}
			if err := drv.Apply(cmd.Context(), stmts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d statements\n", len(stmts))
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "data source name of the database")
	cmd.Flags().BoolVar(&drop, "drop", false, "drop existing tables first")
	cmd.Flags().StringToStringVar(&session, "session", nil, "session setting applied before the statements, as name=value")
	return cmd
}

func (a *app) bindingsCmd() *cobra.Command {
	var out, pkg string
	cmd := &cobra.Command{
		Use:   "bindings",
		Short: "Generate Go bindings for the schema tables and queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, res, err := a.compile(cmd.Context())
			if err != nil {
				return err
			}
			g := bindings.New(res, out).WithPackage(pkg)
			if n := a.v.GetInt(keyWorkers); n > 0 {
				g.WithWorkers(n)
			}
			if err := g.Generate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "relvardb", "output directory")
	cmd.Flags().StringVar(&pkg, "package", "", "package name (default the output directory name)")
	return cmd
}
