// ABOUTME: Inbound HTTP adapter for correlation propagation
// ABOUTME: Adopts or mints the trace ID, echoes it, and clears the store on exit

package correlation

import (
	"net/http"
	"strings"
)

// Transport header names for correlation propagation.
const (
	// TraceIDHeader carries the correlation ID across HTTP hops.
	TraceIDHeader = "X-Trace-Id"

	// UserIDHeader carries the optional actor identity.
	UserIDHeader = "X-User-Id"
)

// Middleware wraps an HTTP handler with correlation context. A caller-supplied
// X-Trace-Id is adopted when non-blank, otherwise a fresh ID is minted. The
// resolved ID is always echoed on the response so the caller can correlate
// even when it did not originate the ID. The store is cleared after the
// handler returns, on panic exits included.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithStore(r.Context())

		id := strings.TrimSpace(r.Header.Get(TraceIDHeader))
		if id == "" {
			id = NewID()
		}
		Put(ctx, KeyCorrelationID, id)

		if actor := strings.TrimSpace(r.Header.Get(UserIDHeader)); actor != "" {
			Put(ctx, KeyActorID, actor)
		}

		// Echo before the handler runs; it may write the response itself.
		w.Header().Set(TraceIDHeader, id)

		defer Clear(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
