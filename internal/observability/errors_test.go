// ABOUTME: Tests for structured error context
// ABOUTME: Verifies formatting, unwrapping, and retryability classification

package observability_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/loomtrace-io/loomtrace/internal/observability"
)

func TestErrorContext_Error(t *testing.T) {
	t.Parallel()

	e := observability.NewErrorContext(
		observability.CodeEnvelopeDecode,
		observability.CategoryPermanent,
		"queue.handle_message",
	)

	msg := e.Error()
	if !strings.Contains(msg, observability.CodeEnvelopeDecode) {
		t.Errorf("Error() = %q, should contain code", msg)
	}
	if !strings.Contains(msg, "queue.handle_message") {
		t.Errorf("Error() = %q, should contain operation", msg)
	}
}

func TestErrorContext_Unwrap(t *testing.T) {
	t.Parallel()

	underlying := errors.New("connection refused")
	e := observability.NewErrorContext(
		observability.CodePublishFailed,
		observability.CategoryTransient,
		"queue.publish",
	).WithError(underlying)

	if !errors.Is(e, underlying) {
		t.Error("errors.Is should find the underlying error")
	}
	if !strings.Contains(e.Error(), "connection refused") {
		t.Errorf("Error() = %q, should contain the underlying message", e.Error())
	}
}

func TestErrorContext_IsRetryable(t *testing.T) {
	t.Parallel()

	transient := observability.NewErrorContext(
		observability.CodePublishFailed,
		observability.CategoryTransient,
		"queue.publish",
	)
	if !transient.IsRetryable() {
		t.Error("transient error should be retryable")
	}

	permanent := observability.NewErrorContext(
		observability.CodeEnvelopeDecode,
		observability.CategoryPermanent,
		"queue.decode",
	)
	if permanent.IsRetryable() {
		t.Error("permanent error should not be retryable")
	}
}

func TestErrorContext_LogValue(t *testing.T) {
	t.Parallel()

	e := observability.NewErrorContext(
		observability.CodeHandlerFailed,
		observability.CategoryTransient,
		"queue.handle_message",
	).WithDetails(map[string]string{"subject": "orders.created"}).
		WithError(errors.New("boom"))

	val := e.LogValue()
	attrs := val.Group()

	found := map[string]bool{}
	for _, a := range attrs {
		found[a.Key] = true
	}
	for _, key := range []string{"code", "category", "operation", "is_retryable", "details", "error"} {
		if !found[key] {
			t.Errorf("LogValue missing attribute %q", key)
		}
	}
}
