// ABOUTME: Scoped-execution helpers for the message consumption boundary
// ABOUTME: Bind correlation state from an envelope, run the handler, always clear

// Package consume is the message-side inbound adapter. Unlike the HTTP and
// timer adapters, nothing intercepts message delivery automatically: a handler
// must route its work through Run or Execute before touching logic that
// depends on correlation state. A handler that skips this does not crash; it
// silently runs without the envelope's correlation ID, and anything it logs or
// publishes will carry no ID (or a stale one on a reused worker).
package consume

import (
	"context"
	"strings"

	"github.com/loomtrace-io/loomtrace/internal/correlation"
	"github.com/loomtrace-io/loomtrace/internal/envelope"
)

// Run binds correlation context from env, executes fn, and clears the store
// afterward, on error and panic exits included. The error from fn propagates
// unchanged after cleanup.
func Run(ctx context.Context, env *envelope.Envelope, fn func(context.Context) error) error {
	ctx = bind(ctx, env)
	defer correlation.Clear(ctx)
	return fn(ctx)
}

// Execute is Run for callbacks that return a value.
func Execute[T any](ctx context.Context, env *envelope.Envelope, fn func(context.Context) (T, error)) (T, error) {
	ctx = bind(ctx, env)
	defer correlation.Clear(ctx)
	return fn(ctx)
}

// RunWithNewTrace executes fn under a freshly minted correlation ID,
// regardless of any envelope or prior binding. For entry points with no
// natural inbound ID: batch jobs, manual triggers.
func RunWithNewTrace(ctx context.Context, fn func(context.Context) error) error {
	return Run(ctx, nil, fn)
}

// ExecuteWithNewTrace is RunWithNewTrace for callbacks that return a value.
func ExecuteWithNewTrace[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	return Execute[T](ctx, nil, fn)
}

// bind attaches a fresh store and populates it. With no envelope a fresh ID is
// minted. With an envelope, its correlation ID is adopted when non-blank and a
// fresh one is minted otherwise; an envelope that arrives without an ID starts
// a new chain instead of failing. Source service and event type are bound as
// diagnostic fields when present.
func bind(ctx context.Context, env *envelope.Envelope) context.Context {
	ctx = correlation.WithStore(ctx)

	if env == nil {
		correlation.Put(ctx, correlation.KeyCorrelationID, correlation.NewID())
		return ctx
	}

	id := strings.TrimSpace(env.CorrelationID)
	if id == "" {
		id = correlation.NewID()
	}
	correlation.Put(ctx, correlation.KeyCorrelationID, id)
	correlation.Put(ctx, correlation.KeySourceService, env.SourceService)
	correlation.Put(ctx, correlation.KeyEventType, env.EventType)

	return ctx
}

// CurrentCorrelationID returns the correlation ID bound by the surrounding
// Run or Execute call, or empty string.
func CurrentCorrelationID(ctx context.Context) string {
	return correlation.CorrelationID(ctx)
}

// HasCorrelationID reports whether a usable correlation ID is bound.
func HasCorrelationID(ctx context.Context) bool {
	return correlation.HasCorrelationID(ctx)
}

// CurrentSourceService returns the source service of the envelope being
// processed, or empty string.
func CurrentSourceService(ctx context.Context) string {
	return correlation.SourceService(ctx)
}

// CurrentEventType returns the event type of the envelope being processed, or
// empty string.
func CurrentEventType(ctx context.Context) string {
	return correlation.EventType(ctx)
}
