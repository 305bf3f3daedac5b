package gen

import (
	"errors"
	"io"
	"log/slog"

	"github.com/go-openapi/inflect"

	"github.com/syssam/relvar/dialect"
)

// Config holds the mapping configuration.
type Config struct {
	// Dialect holds the target dialect options. Its NamingPrefix and
	// MaxIdentifierLength drive the naming policy.
	Dialect dialect.Options
	// Pluralize makes entity table names plural (Person -> people).
	Pluralize bool
	// Rules are the inflection rules used for plural and singular forms.
	Rules *inflect.Ruleset
	// Logger receives debug records of the mapping.
	Logger *slog.Logger
}

// Option configures the mapping.
type Option func(*Config) error

// NewConfig returns a config for the generic dialect with the given options applied.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{
		Dialect: dialect.Defaults(dialect.Generic),
		Rules:   inflect.NewDefaultRuleset(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithDialect sets the target dialect options.
func WithDialect(o dialect.Options) Option {
	return func(c *Config) error {
		if err := o.Validate(); err != nil {
			return NewConfigError("Dialect", o.Name, err.Error())
		}
		c.Dialect = o
		return nil
	}
}

// WithPrefix sets the prefix of every generated table name.
func WithPrefix(prefix string) Option {
	return func(c *Config) error {
		c.Dialect.NamingPrefix = prefix
		return nil
	}
}

// WithMaxIdentifierLength sets the identifier length limit. Zero means unlimited.
func WithMaxIdentifierLength(n int) Option {
	return func(c *Config) error {
		if n != 0 && n < 8 {
			return NewConfigError("MaxIdentifierLength", n, "limit must be zero or at least 8")
		}
		c.Dialect.MaxIdentifierLength = n
		return nil
	}
}

// WithPluralize enables plural table names.
func WithPluralize() Option {
	return func(c *Config) error {
		c.Pluralize = true
		return nil
	}
}

// WithIrregular adds an irregular singular/plural pair to the inflection rules.
func WithIrregular(singular, plural string) Option {
	return func(c *Config) error {
		if singular == "" || plural == "" {
			return NewConfigError("Irregular", singular+"/"+plural, "both forms are required")
		}
		if c.Rules == nil {
			c.Rules = inflect.NewDefaultRuleset()
		}
		c.Rules.AddIrregular(singular, plural)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return NewConfigError("Logger", nil, "logger cannot be nil")
		}
		c.Logger = l
		return nil
	}
}

// Apply applies options to the config.
// It returns the first error encountered.
func (c *Config) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAll applies options and collects all errors.
// Returns a joined error if any options failed.
func (c *Config) ApplyAll(opts ...Option) error {
	var errs []error
	for _, opt := range opts {
		if err := opt(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
