package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/dialect"
)

// settingName matches session setting names, optionally qualified.
var settingName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// Setting is a session setting applied at the start of every transaction
// the driver begins.
type Setting struct {
	Name  string
	Value string
}

// Driver executes generated statements against a database.
type Driver struct {
	Conn
	db      *sql.DB
	session []Setting
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithDriverLogger sets the logger statements are logged to at debug level.
func WithDriverLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithStats records execution statistics into s.
func WithStats(s *QueryStats) DriverOption {
	return func(d *Driver) { d.stats = s }
}

// WithSession sets session settings for the transactions of the driver.
// PostgreSQL scopes them to the transaction with SET LOCAL, MySQL restores
// the defaults when the transaction ends, and SQLite applies them as
// pragmas.
func WithSession(settings ...Setting) DriverOption {
	return func(d *Driver) { d.session = append(d.session, settings...) }
}

// Open opens a database with the database/sql driver registered under
// driverName, and binds it to the dialect.
func Open(dialect, driverName, source string, opts ...DriverOption) (*Driver, error) {
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return OpenDB(dialect, db, opts...), nil
}

// OpenDB wraps the given database/sql.DB with a Driver.
func OpenDB(dialect string, db *sql.DB, opts ...DriverOption) *Driver {
	d := &Driver{
		Conn: Conn{
			ExecQuerier: db,
			dialect:     dialect,
			logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
		db: db,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DB returns the underlying *sql.DB instance.
func (d *Driver) DB() *sql.DB { return d.db }

// Dialect returns the dialect name the driver was opened with.
func (d *Driver) Dialect() string {
	for _, name := range []string{dialect.MySQL, dialect.SQLite, dialect.Postgres} {
		if strings.HasPrefix(d.dialect, name) {
			return name
		}
	}
	return d.dialect
}

// Tx starts and returns a transaction.
func (d *Driver) Tx(ctx context.Context) (*Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with options.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (*Tx, error) {
	set, reset, err := d.sessionStatements()
	if err != nil {
		return nil, err
	}
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	c := d.Conn
	c.ExecQuerier = tx
	t := &Tx{Conn: c, tx: tx, reset: reset}
	for _, q := range set {
		if _, err := t.Exec(ctx, q, nil); err != nil {
			return nil, errors.Join(fmt.Errorf("dialect/sql: session setting: %w", err), tx.Rollback())
		}
	}
	return t, nil
}

// sessionStatements returns the statements applying the session settings
// and the ones restoring them before the transaction ends.
func (d *Driver) sessionStatements() (set, reset []string, err error) {
	if len(d.session) == 0 {
		return nil, nil, nil
	}
	name := d.Dialect()
	f := FragmentsFor(dialect.Options{Name: name})
	for _, s := range d.session {
		if len(s.Name) > 128 || !settingName.MatchString(s.Name) {
			return nil, nil, fmt.Errorf("dialect/sql: invalid session setting name %q", s.Name)
		}
		v := f.String(s.Value)
		switch name {
		case dialect.Postgres:
			set = append(set, fmt.Sprintf("SET LOCAL %s = %s", s.Name, v))
		case dialect.MySQL:
			set = append(set, fmt.Sprintf("SET SESSION %s = %s", s.Name, v))
			reset = append(reset, fmt.Sprintf("SET SESSION %s = DEFAULT", s.Name))
		case dialect.SQLite:
			set = append(set, fmt.Sprintf("PRAGMA %s = %s", s.Name, v))
		default:
			return nil, nil, &relvar.UnsupportedDialectFeatureError{Dialect: name, Feature: "session settings"}
		}
	}
	return set, reset, nil
}

// Apply executes the statements in order inside one transaction. The
// transaction is rolled back on the first failure.
func (d *Driver) Apply(ctx context.Context, stmts []*Statement) (rerr error) {
	tx, err := d.Tx(ctx)
	if err != nil {
		return fmt.Errorf("dialect/sql: apply: begin: %w", err)
	}
	defer func() {
		if rerr != nil {
			rerr = errors.Join(rerr, tx.Rollback())
		}
	}()
	for _, s := range stmts {
		if len(s.Params) > 0 {
			return fmt.Errorf("dialect/sql: apply: statement has unbound parameters: %s", s.SQL)
		}
		if _, err := tx.Exec(ctx, s.SQL, nil); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dialect/sql: apply: commit: %w", err)
	}
	d.logger.Info("statements applied", slog.String("dialect", d.dialect), slog.Int("statements", len(stmts)))
	return nil
}

// Close closes the underlying connection.
func (d *Driver) Close() error { return d.db.Close() }

// Tx is a transaction of a Driver.
type Tx struct {
	Conn
	tx    *sql.Tx
	reset []string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.restore(); err != nil {
		return errors.Join(err, t.tx.Rollback())
	}
	return t.tx.Commit()
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error { return errors.Join(t.restore(), t.tx.Rollback()) }

// restore runs the reset statements on the connection of the transaction.
// Pooled connections are returned with their session defaults.
func (t *Tx) restore() error {
	for _, q := range t.reset {
		if _, err := t.Exec(context.Background(), q, nil); err != nil {
			return err
		}
	}
	return nil
}

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn executes statements on an ExecQuerier, recording statistics and
// classifying failures.
type Conn struct {
	ExecQuerier
	dialect string
	logger  *slog.Logger
	stats   *QueryStats
}

// Exec executes a statement that returns no rows.
func (c Conn) Exec(ctx context.Context, query string, args []any) (_ sql.Result, rerr error) {
	start := time.Now()
	defer func() { c.record(ctx, query, args, start, rerr, false) }()
	res, err := c.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, &ExecError{Statement: query, Err: err}
	}
	return res, nil
}

// Query executes a statement that returns rows. The caller closes the rows.
func (c Conn) Query(ctx context.Context, query string, args []any) (_ *Rows, rerr error) {
	start := time.Now()
	defer func() { c.record(ctx, query, args, start, rerr, true) }()
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ExecError{Statement: query, Err: err}
	}
	return &Rows{rows}, nil
}

func (c Conn) record(ctx context.Context, query string, args []any, start time.Time, err error, isQuery bool) {
	d := time.Since(start)
	if c.logger != nil {
		c.logger.DebugContext(ctx, "statement executed",
			slog.String("sql", query),
			slog.Int("args", len(args)),
			slog.Duration("duration", d),
		)
	}
	if c.stats != nil {
		c.stats.record(ctx, query, args, d, err, isQuery)
	}
}

type (
	// Rows wraps the sql.Rows to avoid locks copy.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
	// TxOptions holds the transaction options to be used in DB.BeginTx.
	TxOptions = sql.TxOptions
)

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

// Maps scans every remaining row into a map keyed by column name and
// closes the rows.
func (r *Rows) Maps() (_ []map[string]any, rerr error) {
	defer func() { rerr = errors.Join(rerr, r.Close()) }()
	cols, err := r.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for r.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := r.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			m[c] = vals[i]
		}
		out = append(out, m)
	}
	return out, r.Err()
}
