// ABOUTME: Outbound HTTP adapter stamping correlation headers on RPC calls
// ABOUTME: RoundTripper that reads the context store and never writes it

package correlation

import (
	"net/http"
	"strings"
)

// Transport stamps X-Trace-Id and X-User-Id onto outgoing requests from the
// correlation store on the request context. A header is omitted entirely when
// the corresponding context value is absent or blank; an empty header is never
// set. The store is only read, never mutated.
type Transport struct {
	// Base is the underlying round tripper. http.DefaultTransport when nil.
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := strings.TrimSpace(CorrelationID(req.Context()))
	actor := strings.TrimSpace(ActorID(req.Context()))

	if id != "" || actor != "" {
		// Round trippers must not mutate the caller's request.
		req = req.Clone(req.Context())
		if id != "" {
			req.Header.Set(TraceIDHeader, id)
		}
		if actor != "" {
			req.Header.Set(UserIDHeader, actor)
		}
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewHTTPClient returns an http.Client whose requests carry correlation
// headers. Pass nil to wrap http.DefaultTransport.
func NewHTTPClient(base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Base: base}}
}
