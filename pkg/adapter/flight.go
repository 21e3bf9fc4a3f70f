package adapter

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/legacy-adapter/pkg/client"
)

// group collapses concurrent loads of the same cache key.
type group = singleflight.Group

// shared runs fn once per key across concurrent callers. A caller whose ctx
// ends stops waiting but does not cancel the flight. If the flight failed
// only because its leader was cancelled, a caller that is still live runs
// the load again under its own context.
func shared[T any](ctx context.Context, g *group, key string, fn func() (T, error), onShared func()) (T, error) {
	var zero T
	for {
		ch := g.DoChan(key, func() (any, error) {
			return fn()
		})

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				if res.Shared && isCancellation(res.Err) && ctx.Err() == nil {
					continue
				}
				return zero, res.Err
			}
			if res.Shared && onShared != nil {
				onShared()
			}
			value, _ := res.Val.(T)
			return value, nil
		}
	}
}

// isCancellation reports whether err is a bare context error, as opposed to
// an upstream timeout that merely wraps one.
func isCancellation(err error) bool {
	var upErr *client.UpstreamError
	if errors.As(err, &upErr) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
