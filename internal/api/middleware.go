// ABOUTME: HTTP middleware chain for the API server
// ABOUTME: Correlation binding plus request logging and metrics

package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loomtrace-io/loomtrace/internal/correlation"
	"github.com/loomtrace-io/loomtrace/internal/observability"
)

// Middleware wraps next with the full inbound chain: metrics, correlation
// binding, and request logging. Metrics are counted outside the correlation
// middleware so the adopt-vs-mint decision can be observed from the raw
// inbound header.
func Middleware(metrics *observability.Metrics, logger *slog.Logger, next http.Handler) http.Handler {
	inner := correlation.Middleware(loggingHandler(logger, next))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if metrics != nil {
			adopted := strings.TrimSpace(r.Header.Get(correlation.TraceIDHeader)) != ""
			metrics.RecordRequest(adopted)
		}
		inner.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingHandler logs each request with its correlation context. Health
// checks are skipped to keep the log quiet.
func loggingHandler(logger *slog.Logger, next http.Handler) http.Handler {
	cl := observability.NewContextLogger(logger)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if strings.HasSuffix(r.URL.Path, "/health") {
			return
		}
		cl.Info(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
