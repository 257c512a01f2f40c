package linker

import (
	"golang.org/x/sync/errgroup"
)

// forEach runs fn for every index in [0, n) on at most Arg.NumThreads
// goroutines. Each fn owns index i and must not write shared state.
// When several calls fail, the error with the lowest index is returned,
// so diagnostics follow the link command line rather than scheduling.
func forEach(ctx *Context, n int, fn func(i int) error) error {
	if ctx.Arg.SingleThreaded || ctx.Arg.NumThreads <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(ctx.Arg.NumThreads)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			errs[i] = fn(i)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
