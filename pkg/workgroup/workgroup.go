// Package workgroup runs the concurrent pieces of a CLI invocation, stopping
// the rest once any of them fails.
package workgroup

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type Group struct {
	ctx   context.Context
	group *errgroup.Group
}

// WithContext returns a Group whose workers receive a context that is
// cancelled when ctx ends or the first worker returns an error.
func WithContext(ctx context.Context) *Group {
	group, gctx := errgroup.WithContext(ctx)
	return &Group{
		ctx:   gctx,
		group: group,
	}
}

func (g *Group) Work(fn func(context.Context) error) {
	g.group.Go(func() error {
		return fn(g.ctx)
	})
}

// Wait blocks until all workers return and reports the first error.
func (g *Group) Wait() error {
	return g.group.Wait()
}
