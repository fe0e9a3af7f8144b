// Package fanout applies a worker function across a set of items with bounded
// parallelism. One item failing never cancels or blocks its siblings.
package fanout

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit is used when a non-positive limit is given.
const DefaultLimit = 20

// Func processes one item.
type Func[T, R any] func(ctx context.Context, item T) (R, error)

// Result is the outcome for the item at Index.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Run processes every item exactly once and returns when all workers have
// finished. Results are indexed by input position. Items not yet started when
// ctx is cancelled are reported with ctx.Err() and fn is not called for them.
func Run[T, R any](ctx context.Context, limit int, items []T, fn Func[T, R]) []Result[R] {
	results := make([]Result[R], len(items))
	each(ctx, limit, items, fn, func(r Result[R]) {
		results[r.Index] = r
	})
	return results
}

// Stream is Run with results delivered in completion order. The channel is
// closed after the last worker finishes.
func Stream[T, R any](ctx context.Context, limit int, items []T, fn Func[T, R]) <-chan Result[R] {
	out := make(chan Result[R], len(items))
	go func() {
		defer close(out)
		each(ctx, limit, items, fn, func(r Result[R]) {
			out <- r
		})
	}()
	return out
}

// each runs fn over items and passes every result to emit. emit is called
// from worker goroutines but never twice for the same index.
func each[T, R any](ctx context.Context, limit int, items []T, fn Func[T, R], emit func(Result[R])) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	// Plain group: a worker error must not cancel siblings.
	var g errgroup.Group
	g.SetLimit(limit)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			emit(Result[R]{Index: i, Err: err})
			continue
		}
		g.Go(func() error {
			emit(call(ctx, i, item, fn))
			return nil
		})
	}

	_ = g.Wait()
}

func call[T, R any](ctx context.Context, i int, item T, fn Func[T, R]) (res Result[R]) {
	res.Index = i
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	res.Value, res.Err = fn(ctx, item)
	return res
}

// Errors returns the non-nil errors in results, keyed by index.
func Errors[R any](results []Result[R]) map[int]error {
	errs := make(map[int]error)
	for _, r := range results {
		if r.Err != nil {
			errs[r.Index] = r.Err
		}
	}
	return errs
}
