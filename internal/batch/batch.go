// Package batch runs provider calls in fixed-size concurrent groups with a pause
// between groups, so a rate-limited service sees a bounded request rate.
package batch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/web-shredder/chunk-daddy-sub002/internal/apperr"
	"github.com/web-shredder/chunk-daddy-sub002/internal/logger"
)

// Runner configures a batched run.
type Runner struct {
	// Size is the number of items in flight together.
	Size int
	// Delay is the pause after each batch except the last.
	Delay time.Duration
	// Retries is how many times a rate-limited item is repeated.
	Retries int
	Logger  *zap.Logger
}

// Result is the outcome of one item, at the item's input index.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Run calls fn for every item. A failing item is recorded in its Result and never
// stops the run; only cancellation of ctx does, in which case the returned error is
// ctx.Err() and unprocessed items carry it too.
func Run[T, R any](ctx context.Context, r Runner, items []T, fn func(ctx context.Context, item T) (R, error)) ([]Result[R], error) {
	size := r.Size
	if size <= 0 {
		size = 5
	}
	log := logger.OrNop(r.Logger)
	results := make([]Result[R], len(items))
	for i := range results {
		results[i].Index = i
	}

	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			markRemaining(results[start:], err)
			return results, err
		}
		end := min(start+size, len(items))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				var v R
				err := Retry(ctx, r.Retries, func(ctx context.Context) error {
					var callErr error
					v, callErr = fn(ctx, items[i])
					return callErr
				})
				results[i].Value, results[i].Err = v, err
				if err != nil {
					log.Warn("batch item failed", zap.Int("index", i), zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()

		if end < len(items) && r.Delay > 0 {
			if err := Sleep(ctx, r.Delay); err != nil {
				markRemaining(results[end:], err)
				return results, err
			}
		}
	}
	return results, ctx.Err()
}

// Values returns the successful values in input order.
func Values[R any](results []Result[R]) []R {
	out := make([]R, 0, len(results))
	for _, res := range results {
		if res.Err == nil {
			out = append(out, res.Value)
		}
	}
	return out
}

// Failed counts the items that ended with an error.
func Failed[R any](results []Result[R]) int {
	n := 0
	for _, res := range results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or retries
// attempts have been used. It backs off between attempts.
func Retry(ctx context.Context, retries int, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || !apperr.Retryable(err) || attempt >= retries {
			return err
		}
		if serr := Sleep(ctx, Backoff(attempt)); serr != nil {
			return err
		}
	}
}

// Backoff is exponential from 200ms, capped at 5s.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		return 5 * time.Second
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func markRemaining[R any](rest []Result[R], err error) {
	for i := range rest {
		if rest[i].Err == nil {
			rest[i].Err = err
		}
	}
}
