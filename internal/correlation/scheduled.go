// ABOUTME: Timer adapter for scheduled and background invocations
// ABOUTME: Mints an ID only when none is bound and cleans up only what it created

package correlation

import "context"

// RunScheduled wraps one scheduled invocation with correlation context.
//
// When the surrounding context already carries a correlation ID, the
// invocation runs as-is and the store is left untouched on exit; the caller
// still owns that ID after the scheduled call returns. Only when the store is
// empty does the wrapper mint and bind a fresh ID, and only then does it clear
// the store afterward. The error from fn is returned unchanged.
func RunScheduled(ctx context.Context, fn func(context.Context) error) error {
	if HasCorrelationID(ctx) {
		return fn(ctx)
	}

	if _, ok := fromContext(ctx); !ok {
		ctx = WithStore(ctx)
	}
	Put(ctx, KeyCorrelationID, NewID())
	defer Clear(ctx)

	return fn(ctx)
}
