package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/compiler"
	"github.com/syssam/relvar/compiler/load"
	"github.com/syssam/relvar/dialect"
	"github.com/syssam/relvar/dialect/adapter"
)

// Configuration keys.
const (
	keyConfig   = "config"
	keySchema   = "schema"
	keyDialect  = "dialect"
	keySettings = "settings"
	keyQueries  = "queries"
	keyWorkers  = "workers"
	keyLogLevel = "log_level"
	keyStrict   = "strict"
)

// queryConfig is a named query declared in the configuration file.
type queryConfig struct {
	Name    string `mapstructure:"name"`
	Scope   string `mapstructure:"scope"`
	Formula string `mapstructure:"formula"`
}

type app struct {
	v      *viper.Viper
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:           "relvar",
		Short:         "Compile relational schemas to SQL",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	f := root.PersistentFlags()
	f.String("config", "", "config file (default ./relvar.yaml)")
	f.StringP("schema", "s", "", "schema file")
	f.StringP("dialect", "d", dialect.Generic, "target dialect ("+strings.Join(adapter.Names(), ", ")+")")
	f.StringToString("set", nil, "dialect settings, e.g. --set naming_prefix=app_")
	f.Int("workers", 0, "formulas compiled concurrently (default GOMAXPROCS)")
	f.String("log-level", "warn", "log level (debug, info, warn, error)")
	f.Bool("strict", false, "fail when the dialect cannot express a formula")
	for key, flag := range map[string]string{
		keyConfig:   "config",
		keySchema:   "schema",
		keyDialect:  "dialect",
		keySettings: "set",
		keyWorkers:  "workers",
		keyLogLevel: "log-level",
		keyStrict:   "strict",
	} {
		// Lookup never fails for the flags declared above.
		_ = a.v.BindPFlag(key, f.Lookup(flag))
	}
	root.AddCommand(
		a.ddlCmd(),
		a.queryCmd(),
		a.snapshotCmd(),
		a.diffCmd(),
		a.applyCmd(),
		a.bindingsCmd(),
		a.watchCmd(),
	)
	return root
}

// init reads the configuration file and the environment, and sets up
// logging.
func (a *app) init(cmd *cobra.Command) error {
	a.v.SetEnvPrefix("RELVAR")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()
	if path := a.v.GetString(keyConfig); path != "" {
		a.v.SetConfigFile(path)
	} else {
		a.v.SetConfigName("relvar")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.v.GetString(keyLogLevel))); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("config loaded", slog.String("file", used))
	}
	return nil
}

// compilation loads the configured schema and prepares its compilation.
func (a *app) compilation() (*compiler.Compilation, error) {
	path := a.v.GetString(keySchema)
	if path == "" {
		return nil, errors.New("no schema file: use --schema or set schema in relvar.yaml")
	}
	s, err := load.LoadFile(path)
	if err != nil {
		return nil, err
	}
	opts := []compiler.Option{
		compiler.WithDialect(a.v.GetString(keyDialect)),
		compiler.WithLogger(a.logger),
	}
	if settings := a.v.GetStringMapString(keySettings); len(settings) > 0 {
		opts = append(opts, compiler.WithSettings(settings))
	}
	if n := a.v.GetInt(keyWorkers); n > 0 {
		opts = append(opts, compiler.WithWorkers(n))
	}
	var queries []queryConfig
	if err := a.v.UnmarshalKey(keyQueries, &queries); err != nil {
		return nil, fmt.Errorf("queries: %w", err)
	}
	for _, q := range queries {
		opts = append(opts, compiler.WithQuery(q.Name, q.Scope, q.Formula))
	}
	return compiler.New(s, opts...)
}

// compile compiles the configured schema. Formulas the dialect cannot
// express are logged, and fail the command in strict mode only.
func (a *app) compile(ctx context.Context) (*compiler.Compilation, *compiler.Result, error) {
	c, err := a.compilation()
	if err != nil {
		return nil, nil, err
	}
	res, err := c.Compile(ctx)
	if err != nil && !relvar.IsDialectError(err) {
		return nil, nil, err
	}
	if err != nil {
		if a.v.GetBool(keyStrict) {
			return nil, nil, err
		}
		var agg *relvar.AggregateError
		if errors.As(err, &agg) {
			for _, e := range agg.Errors {
				a.logger.Warn("skipped", slog.Any("error", e))
			}
		} else {
			a.logger.Warn("skipped", slog.Any("error", err))
		}
	}
	return c, res, nil
}
