// Package adapter selects the type table and SQL generator of a dialect by
// name.
//
// The four built-in dialects are registered at init. Additional dialects
// register a Factory, usually overriding a few SQL fragments on top of
// sql.Base:
//
//	adapter.Register(adapter.Factory{
//		Name:      "duckdb",
//		Defaults:  func() dialect.Options { return dialect.Options{Name: "duckdb", SupportsBoolean: true} },
//		Types:     typemap.Postgres,
//		Fragments: func(o dialect.Options) sql.Fragments { return duckdb{sql.Base{Options: o}} },
//	})
//	a, err := adapter.Lookup("duckdb", adapter.WithNamingPrefix("app_"))
package adapter

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/syssam/relvar/compiler/typemap"
	"github.com/syssam/relvar/dialect"
	"github.com/syssam/relvar/dialect/sql"
	"github.com/syssam/relvar/schema"
)

// ErrUnknownDialect is returned by Lookup for names that were never
// registered.
var ErrUnknownDialect = errors.New("relvar: unknown dialect")

// Factory describes a dialect that can be looked up by name.
type Factory struct {
	Name string
	// Defaults returns the default options of the dialect.
	Defaults func() dialect.Options
	// Types is the physical type table of the dialect.
	Types typemap.Table
	// Fragments returns the SQL fragments for the resolved options.
	// It defaults to sql.FragmentsFor.
	Fragments func(dialect.Options) sql.Fragments
}

// Adapter is a dialect resolved with its options.
type Adapter struct {
	Name      string
	Options   dialect.Options
	Types     typemap.Table
	Generator *sql.Generator
}

// TypeManager returns a type manager for s using the adapter's type table.
func (a *Adapter) TypeManager(s *schema.Schema) *typemap.Manager {
	var opts []typemap.Option
	if !a.Options.SupportsBoolean {
		opts = append(opts, typemap.WithoutBoolean())
	}
	return typemap.New(s, a.Types, opts...)
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes a dialect available to Lookup. It fails if the name is
// empty or already registered.
func Register(f Factory) error {
	switch {
	case f.Name == "":
		return fmt.Errorf("relvar: dialect name is required")
	case f.Defaults == nil:
		return fmt.Errorf("relvar: dialect %q has no defaults", f.Name)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registry[f.Name]; ok {
		return fmt.Errorf("relvar: dialect %q already registered", f.Name)
	}
	registry[f.Name] = f
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(f Factory) {
	if err := Register(f); err != nil {
		panic(err)
	}
}

// Names returns the registered dialect names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}

// Option configures the options of a looked up dialect.
type Option func(*config) error

type config struct {
	opts   dialect.Options
	logger *slog.Logger
}

// WithQuoteStyle sets the identifier quote style.
func WithQuoteStyle(q dialect.QuoteStyle) Option {
	return func(c *config) error {
		q, err := dialect.ParseQuoteStyle(string(q))
		if err != nil {
			return err
		}
		c.opts.QuoteStyle = q
		return nil
	}
}

// WithMaxIdentifierLength sets the maximum identifier length. Zero means
// unlimited.
func WithMaxIdentifierLength(n int) Option {
	return func(c *config) error {
		c.opts.MaxIdentifierLength = n
		return nil
	}
}

// WithNamingPrefix sets the prefix of every generated table name.
func WithNamingPrefix(p string) Option {
	return func(c *config) error {
		c.opts.NamingPrefix = p
		return nil
	}
}

// WithBoolean sets whether the dialect has a native boolean type.
func WithBoolean(v bool) Option {
	return func(c *config) error {
		c.opts.SupportsBoolean = v
		return nil
	}
}

// WithCaseInsensitive sets whether identifiers compare case-insensitively.
func WithCaseInsensitive(v bool) Option {
	return func(c *config) error {
		c.opts.CaseInsensitive = v
		return nil
	}
}

// WithLogger sets the logger of the adapter's generator.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) error {
		c.logger = l
		return nil
	}
}

// Setting keys accepted by WithSettings.
const (
	SettingQuoteStyle      = "identifier_quote_style"
	SettingMaxIdentifier   = "max_identifier_length"
	SettingNamingPrefix    = "naming_prefix"
	SettingBoolean         = "supports_boolean_type"
	SettingCaseInsensitive = "case_insensitive"
)

// WithSettings applies textual settings, as found in configuration files.
// Unknown keys are rejected.
func WithSettings(settings map[string]string) Option {
	return func(c *config) error {
		var errs []error
		for _, k := range slices.Sorted(maps.Keys(settings)) {
			if err := c.set(k, settings[k]); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

func (c *config) set(key, value string) error {
	var opt Option
	switch key {
	case SettingQuoteStyle:
		opt = WithQuoteStyle(dialect.QuoteStyle(value))
	case SettingMaxIdentifier:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("relvar: setting %s: %w", key, err)
		}
		opt = WithMaxIdentifierLength(n)
	case SettingNamingPrefix:
		opt = WithNamingPrefix(value)
	case SettingBoolean, SettingCaseInsensitive:
		v, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("relvar: setting %s: %w", key, err)
		}
		if key == SettingBoolean {
			opt = WithBoolean(v)
		} else {
			opt = WithCaseInsensitive(v)
		}
	default:
		return fmt.Errorf("relvar: unknown dialect setting %q", key)
	}
	return opt(c)
}

// Lookup resolves the named dialect with its defaults overridden by opts.
func Lookup(name string, opts ...Option) (*Adapter, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownDialect, name, strings.Join(Names(), ", "))
	}
	c := &config{opts: f.Defaults()}
	c.opts.Name = name
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := c.opts.Validate(); err != nil {
		return nil, err
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	frags := sql.FragmentsFor
	if f.Fragments != nil {
		frags = f.Fragments
	}
	return &Adapter{
		Name:      name,
		Options:   c.opts,
		Types:     f.Types.Clone(),
		Generator: sql.NewGenerator(c.opts, sql.WithFragments(frags(c.opts)), sql.WithLogger(c.logger)),
	}, nil
}

func init() {
	for name, types := range map[string]typemap.Table{
		dialect.Generic:  typemap.Generic,
		dialect.SQLite:   typemap.SQLite,
		dialect.Postgres: typemap.Postgres,
		dialect.MySQL:    typemap.MySQL,
	} {
		MustRegister(Factory{
			Name:     name,
			Defaults: func() dialect.Options { return dialect.Defaults(name) },
			Types:    types,
		})
	}
}
