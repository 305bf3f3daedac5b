package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/syssam/relvar/dialect/sql"
)

// settle is how long a burst of writes to the schema file has to be quiet
// before it is recompiled.
const settle = 100 * time.Millisecond

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the DDL of the schema again whenever its file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.v.GetString(keySchema)
			if path == "" {
				return fmt.Errorf("no schema file: use --schema or set schema in relvar.yaml")
			}
			return watch(cmd.Context(), path, a.logger, func() error {
				_, res, err := a.compile(cmd.Context())
				if err != nil {
					a.logger.Error("compile failed", slog.Any("error", err))
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "-- %s\n%s", time.Now().Format(time.TimeOnly), sql.Script(res.DDL))
				return nil
			})
		},
	}
}

// watch calls fn once, then after every change to path until ctx is done
// or fn fails. The parent directory is watched so files replaced on save
// are still followed.
func watch(ctx context.Context, path string, logger *slog.Logger, fn func() error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}
	if err := fn(); err != nil {
		return err
	}
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			logger.Debug("schema changed", slog.String("file", ev.Name), slog.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(settle)
			} else {
				timer.Reset(settle)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := fn(); err != nil {
				return err
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", slog.Any("error", err))
		}
	}
}
