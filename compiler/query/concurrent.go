package query

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/relvar"
	"github.com/syssam/relvar/schema/formula"
)

// Request is one formula to compile. Either Formula or Source is set.
type Request struct {
	// Name identifies the request in results and errors.
	Name    string
	Scope   string
	Source  string
	Formula formula.Expr
}

// CompileAll compiles the requests in parallel. Plans are returned in
// request order; a failed request leaves a nil plan, and its error is
// collected into the returned AggregateError.
func (c *Compiler) CompileAll(ctx context.Context, reqs []Request) ([]*Plan, error) {
	plans := make([]*Plan, len(reqs))
	errs := make([]error, len(reqs))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, r := range reqs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var p *Plan
			var err error
			if r.Formula != nil {
				p, err = c.Compile(r.Formula, r.Scope)
			} else {
				p, err = c.Parse(r.Source, r.Scope)
			}
			if err != nil {
				errs[i] = &RequestError{Name: r.Name, Err: err}
				return nil
			}
			plans[i] = p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return plans, relvar.NewAggregateError(errs...)
}

// RequestError names the request a compilation error belongs to.
type RequestError struct {
	Name string
	Err  error
}

func (e *RequestError) Error() string {
	if e.Name == "" {
		return e.Err.Error()
	}
	return e.Name + ": " + e.Err.Error()
}

func (e *RequestError) Unwrap() error { return e.Err }
