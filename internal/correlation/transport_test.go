// ABOUTME: Tests for the outbound correlation transport
// ABOUTME: Validates header stamping and omission of absent values

package correlation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// roundTrip sends one request through Transport against a test server and
// returns the headers the server observed.
func roundTrip(t *testing.T, ctx context.Context) http.Header {
	t.Helper()

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("NewRequestWithContext() error: %v", err)
	}

	resp, err := NewHTTPClient(nil).Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	resp.Body.Close()

	return got
}

func TestTransport_StampsBoundValues(t *testing.T) {
	t.Parallel()

	ctx := WithStore(context.Background())
	Put(ctx, KeyCorrelationID, "abc-123")
	Put(ctx, KeyActorID, "user-7")

	got := roundTrip(t, ctx)

	if v := got.Get(TraceIDHeader); v != "abc-123" {
		t.Errorf("outbound %s = %q, want %q", TraceIDHeader, v, "abc-123")
	}
	if v := got.Get(UserIDHeader); v != "user-7" {
		t.Errorf("outbound %s = %q, want %q", UserIDHeader, v, "user-7")
	}
}

func TestTransport_OmitsAbsentValues(t *testing.T) {
	t.Parallel()

	got := roundTrip(t, WithStore(context.Background()))

	if _, ok := got[TraceIDHeader]; ok {
		t.Errorf("%s should be omitted entirely, not sent empty", TraceIDHeader)
	}
	if _, ok := got[UserIDHeader]; ok {
		t.Errorf("%s should be omitted entirely, not sent empty", UserIDHeader)
	}
}

func TestTransport_StampsIDWithoutActor(t *testing.T) {
	t.Parallel()

	ctx := WithStore(context.Background())
	Put(ctx, KeyCorrelationID, "abc-123")

	got := roundTrip(t, ctx)

	if v := got.Get(TraceIDHeader); v != "abc-123" {
		t.Errorf("outbound %s = %q, want %q", TraceIDHeader, v, "abc-123")
	}
	if _, ok := got[UserIDHeader]; ok {
		t.Errorf("%s should be omitted when no actor is bound", UserIDHeader)
	}
}

func TestTransport_DoesNotMutateCallerRequest(t *testing.T) {
	t.Parallel()

	ctx := WithStore(context.Background())
	Put(ctx, KeyCorrelationID, "abc-123")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("NewRequestWithContext() error: %v", err)
	}

	resp, err := NewHTTPClient(nil).Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	resp.Body.Close()

	if _, ok := req.Header[TraceIDHeader]; ok {
		t.Error("Transport mutated the caller's request headers")
	}
}

func TestTransport_NeverWritesStore(t *testing.T) {
	t.Parallel()

	ctx := WithStore(context.Background())
	roundTrip(t, ctx)

	if HasCorrelationID(ctx) {
		t.Error("Transport must not bind anything into the store")
	}
}
