package notify

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MultiDispatcher fans a delivery out to several transports concurrently.
// A delivery counts as failed if any transport fails; transports that
// succeeded are not retried (delivery is not transactional).
type MultiDispatcher struct {
	dispatchers []Dispatcher
}

func NewMultiDispatcher(dispatchers ...Dispatcher) *MultiDispatcher {
	return &MultiDispatcher{dispatchers: dispatchers}
}

func (d *MultiDispatcher) Channel() string { return "multi" }

func (d *MultiDispatcher) Deliver(ctx context.Context, recipient, message string, dctx Context) error {
	// Plain errgroup, no shared cancellation: one transport failing must not
	// cut off deliveries already in flight on the others.
	var g errgroup.Group
	for _, child := range d.dispatchers {
		g.Go(func() error {
			return child.Deliver(ctx, recipient, message, dctx)
		})
	}
	return g.Wait()
}
