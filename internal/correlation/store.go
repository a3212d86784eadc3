// ABOUTME: Execution-unit-confined context store for correlation state
// ABOUTME: Carries the correlation ID and auxiliary fields on context.Context

package correlation

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Reserved context store keys.
const (
	// KeyCorrelationID holds the trace ID for the current unit of work.
	KeyCorrelationID = "correlation_id"

	// KeyActorID holds the optional caller identity.
	KeyActorID = "actor_id"

	// KeySourceService holds the service that emitted the envelope being processed.
	KeySourceService = "source_service"

	// KeyEventType holds the event type of the envelope being processed.
	KeyEventType = "event_type"
)

// storeKey is the context key for the correlation store.
type storeKey struct{}

// Store is a mutable key/value bag confined to one unit of work (one request,
// one message-handler invocation, one timer firing). It is attached to the
// context by a boundary adapter and must never be shared between concurrently
// running units; the mutex only guards against incidental reads from child
// goroutines that received a propagated context.
type Store struct {
	mu     sync.Mutex
	values map[string]string
}

// WithStore returns a context carrying a fresh, empty store. Any store already
// present on ctx is shadowed, not cleared; the previous unit of work keeps
// ownership of its own state.
func WithStore(ctx context.Context) context.Context {
	return context.WithValue(ctx, storeKey{}, &Store{values: make(map[string]string)})
}

// fromContext returns the store bound to ctx, if any.
func fromContext(ctx context.Context) (*Store, bool) {
	s, ok := ctx.Value(storeKey{}).(*Store)
	return s, ok
}

// NewID generates a new globally-unique correlation ID.
func NewID() string {
	return uuid.New().String()
}

// Put binds a value in the current unit's store. It is a no-op when the key or
// value is empty, or when no store is bound (a boundary adapter has not run).
func Put(ctx context.Context, key, value string) {
	if key == "" || value == "" {
		return
	}
	s, ok := fromContext(ctx)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get returns the value bound for key, and whether it was present.
func Get(ctx context.Context, key string) (string, bool) {
	s, ok := fromContext(ctx)
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Remove unbinds key from the current unit's store.
func Remove(ctx context.Context, key string) {
	s, ok := fromContext(ctx)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Clear removes every binding from the current unit's store. Boundary adapters
// call this on every exit path; a store left populated leaks into the next
// unit of work scheduled on the same worker.
func Clear(ctx context.Context) {
	s, ok := fromContext(ctx)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.values)
}

// CorrelationID returns the bound correlation ID, or empty string.
func CorrelationID(ctx context.Context) string {
	v, _ := Get(ctx, KeyCorrelationID)
	return v
}

// ActorID returns the bound actor ID, or empty string.
func ActorID(ctx context.Context) string {
	v, _ := Get(ctx, KeyActorID)
	return v
}

// SourceService returns the bound source service, or empty string.
func SourceService(ctx context.Context) string {
	v, _ := Get(ctx, KeySourceService)
	return v
}

// EventType returns the bound event type, or empty string.
func EventType(ctx context.Context) string {
	v, _ := Get(ctx, KeyEventType)
	return v
}

// HasCorrelationID reports whether a usable correlation ID is bound.
// Whitespace-only values count as absent.
func HasCorrelationID(ctx context.Context) bool {
	return strings.TrimSpace(CorrelationID(ctx)) != ""
}

// GetOrCreateCorrelationID returns the bound correlation ID, minting and
// binding a fresh one when none is present. When no store is bound at all, the
// minted ID is returned without being bound; there is nowhere to keep it.
func GetOrCreateCorrelationID(ctx context.Context) string {
	if id := strings.TrimSpace(CorrelationID(ctx)); id != "" {
		return id
	}
	id := NewID()
	Put(ctx, KeyCorrelationID, id)
	return id
}

// Snapshot returns a copy of the current bindings. Use together with
// WithValues to hand correlation state to a child task; child tasks never
// share the parent's store.
func Snapshot(ctx context.Context) map[string]string {
	s, ok := fromContext(ctx)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// WithValues returns a context carrying a fresh store seeded with the given
// bindings. Empty keys and values are skipped.
func WithValues(ctx context.Context, values map[string]string) context.Context {
	ctx = WithStore(ctx)
	for k, v := range values {
		Put(ctx, k, v)
	}
	return ctx
}
