// Command relvar compiles YAML schema files to SQL.
//
//	relvar ddl -s hr.yaml -d postgres
//	relvar query -s hr.yaml Person "select name where salary > :min"
//	relvar snapshot -s hr.yaml -o hr.snapshot
//	relvar diff -s hr.yaml --from hr.snapshot
//	relvar apply -s hr.yaml -d sqlite --dsn hr.db
//	relvar bindings -s hr.yaml -o internal/hrdb
//	relvar watch -s hr.yaml
//
// Every flag can also be set in relvar.yaml or through RELVAR_* environment
// variables, e.g. RELVAR_DIALECT=mysql.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
