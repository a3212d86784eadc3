// ABOUTME: HTTP handlers for loomtrace API endpoints
// ABOUTME: Health, metrics snapshot, correlation echo, and event publishing

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loomtrace-io/loomtrace/internal/correlation"
	"github.com/loomtrace-io/loomtrace/internal/envelope"
	"github.com/loomtrace-io/loomtrace/internal/observability"
	"github.com/loomtrace-io/loomtrace/internal/queue"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	metrics   *observability.Metrics
	publisher queue.EnvelopePublisher
	factory   envelope.Factory
	version   string
	started   time.Time
}

// HandlerConfig holds configuration for API handlers.
type HandlerConfig struct {
	Metrics *observability.Metrics

	// Publisher for the publish endpoint. The endpoint returns 503 when nil
	// (NATS disabled).
	Publisher queue.EnvelopePublisher

	Factory envelope.Factory
	Version string
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		metrics:   cfg.Metrics,
		publisher: cfg.Publisher,
		factory:   cfg.Factory,
		version:   cfg.Version,
		started:   time.Now().UTC(),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)
	mux.HandleFunc("GET /api/v1/stats", h.HandleStats)
	mux.HandleFunc("GET /api/v1/trace", h.HandleTrace)
	mux.HandleFunc("POST /api/v1/events", h.HandlePublishEvent)
}

// HandleHealth handles health check requests.
// GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.started).String(),
	})
}

// HandleStats returns a snapshot of the propagation counters.
// GET /api/v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics are not enabled")
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// HandleTrace echoes the correlation context the middleware bound for this
// request; mainly a debugging aid for verifying header propagation.
// GET /api/v1/trace
func (h *Handler) HandleTrace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]string{
		correlation.KeyCorrelationID: correlation.CorrelationID(ctx),
	}
	if actor := correlation.ActorID(ctx); actor != "" {
		resp[correlation.KeyActorID] = actor
	}
	writeJSON(w, http.StatusOK, resp)
}

// publishRequest is the body of POST /api/v1/events.
type publishRequest struct {
	EventType     string            `json:"event_type"`
	Payload       string            `json:"payload"`
	AggregateID   string            `json:"aggregate_id,omitempty"`
	AggregateType string            `json:"aggregate_type,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	TTLSeconds    int               `json:"ttl_seconds,omitempty"`
}

// HandlePublishEvent builds an envelope from the request body and publishes
// it. The envelope picks up the request's correlation ID from the context the
// middleware bound, so chains continue across the broker hop with no extra
// work by the caller.
// POST /api/v1/events
func (h *Handler) HandlePublishEvent(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "event publishing is not enabled")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req publishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.EventType) == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	ev := envelope.NewBaseEvent(req.EventType)
	ev.AggID = req.AggregateID
	ev.AggType = req.AggregateType

	opts := []envelope.Option{
		envelope.WithMetadata(req.Metadata),
		envelope.WithSpanID(observability.ExtractSpanID(r.Context())),
	}
	if req.TTLSeconds > 0 {
		opts = append(opts, envelope.WithTTL(time.Duration(req.TTLSeconds)*time.Second))
	}

	env := h.factory.FromEvent(r.Context(), ev, req.Payload, opts...)
	if err := h.publisher.Publish(r.Context(), env); err != nil {
		writeError(w, http.StatusBadGateway, "failed to publish event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"envelope_id":    env.EnvelopeID,
		"correlation_id": env.CorrelationID,
		"routing_key":    env.RoutingKey,
	})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
