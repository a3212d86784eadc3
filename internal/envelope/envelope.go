// ABOUTME: Immutable message envelope carrying payload plus correlation metadata
// ABOUTME: Factories resolve the correlation ID and derive routing keys

package envelope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomtrace-io/loomtrace/internal/correlation"
)

// DefaultMaxRetries is the retry budget applied when none is configured.
const DefaultMaxRetries = 3

// Envelope wraps a serialized domain event for one message-broker hop. It is
// a value type and treated as immutable after construction; Retry returns the
// next delivery attempt rather than mutating the receiver.
type Envelope struct {
	// EnvelopeID identifies this delivery attempt. Fresh at construction and
	// on every Retry, so it is unique even across retries of the same event.
	EnvelopeID string `json:"envelope_id"`

	EventType     string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	SourceService string    `json:"source_service"`

	// CorrelationID links this envelope to the unit of work that produced it.
	// Resolved at construction: explicit argument, else the current context
	// binding, else absent.
	CorrelationID string `json:"correlation_id,omitempty"`

	// SpanID is carried across the hop when the publisher supplies it; this
	// layer never generates one.
	SpanID string `json:"span_id,omitempty"`

	Version int `json:"version"`

	// Payload is the serialized event body, opaque to this layer.
	Payload string `json:"payload"`

	Metadata map[string]string `json:"metadata,omitempty"`

	AggregateID   string `json:"aggregate_id,omitempty"`
	AggregateType string `json:"aggregate_type,omitempty"`
	RoutingKey    string `json:"routing_key"`
	Exchange      string `json:"exchange,omitempty"`

	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Option adjusts an envelope during construction.
type Option func(*Envelope)

// WithCorrelationID overrides the context-derived correlation ID. Blank
// values are ignored, keeping the context binding as the fallback.
func WithCorrelationID(id string) Option {
	return func(e *Envelope) {
		if strings.TrimSpace(id) != "" {
			e.CorrelationID = id
		}
	}
}

// WithSpanID carries the given span ID on the envelope.
func WithSpanID(id string) Option {
	return func(e *Envelope) { e.SpanID = id }
}

// WithTTL sets the expiry to now plus d.
func WithTTL(d time.Duration) Option {
	return func(e *Envelope) {
		t := time.Now().Add(d)
		e.ExpiresAt = &t
	}
}

// WithExpiresAt sets an absolute expiry.
func WithExpiresAt(t time.Time) Option {
	return func(e *Envelope) { e.ExpiresAt = &t }
}

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) Option {
	return func(e *Envelope) { e.MaxRetries = n }
}

// WithExchange sets the exchange the envelope is addressed to.
func WithExchange(exchange string) Option {
	return func(e *Envelope) { e.Exchange = exchange }
}

// WithRoutingKey overrides the derived routing key.
func WithRoutingKey(key string) Option {
	return func(e *Envelope) { e.RoutingKey = key }
}

// WithMetadata attaches free-form metadata.
func WithMetadata(md map[string]string) Option {
	return func(e *Envelope) { e.Metadata = md }
}

// Factory builds envelopes on behalf of one publishing service.
type Factory struct {
	// SourceService is stamped on every envelope this factory produces.
	SourceService string
}

// FromEvent builds an envelope for a domain event. The correlation ID is the
// current context binding unless WithCorrelationID overrides it; when neither
// is set the field stays absent rather than empty.
func (f Factory) FromEvent(ctx context.Context, ev DomainEvent, payload string, opts ...Option) Envelope {
	e := Envelope{
		EnvelopeID:    uuid.New().String(),
		EventType:     ev.EventType(),
		OccurredAt:    ev.OccurredAt(),
		SourceService: f.SourceService,
		CorrelationID: strings.TrimSpace(correlation.CorrelationID(ctx)),
		Version:       ev.Version(),
		Payload:       payload,
		AggregateID:   ev.AggregateID(),
		AggregateType: ev.AggregateType(),
		RoutingKey:    ev.RoutingKey(),
		MaxRetries:    DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&e)
	}
	if e.RoutingKey == "" {
		e.RoutingKey = deriveRoutingKey(e.AggregateType, e.EventType)
	}
	return e
}

// New builds an envelope directly, without a domain event. The event occurs
// now at version 1.
func (f Factory) New(ctx context.Context, eventType, payload string, opts ...Option) Envelope {
	e := Envelope{
		EnvelopeID:    uuid.New().String(),
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		SourceService: f.SourceService,
		CorrelationID: strings.TrimSpace(correlation.CorrelationID(ctx)),
		Version:       1,
		Payload:       payload,
		MaxRetries:    DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&e)
	}
	if e.RoutingKey == "" {
		e.RoutingKey = deriveRoutingKey(e.AggregateType, e.EventType)
	}
	return e
}

// deriveRoutingKey defaults the routing key from aggregate type and event
// type: lower(aggregate_type).event_type when an aggregate type is present,
// else lower(event_type).
func deriveRoutingKey(aggregateType, eventType string) string {
	if aggregateType != "" {
		return strings.ToLower(aggregateType) + "." + eventType
	}
	return strings.ToLower(eventType)
}

// Subject is the broker subject the envelope is addressed to: the routing key,
// prefixed with the exchange when one is set.
func (e Envelope) Subject() string {
	if e.Exchange != "" {
		return e.Exchange + "." + e.RoutingKey
	}
	return e.RoutingKey
}

// IsExpired reports whether the envelope's expiry has passed. An envelope with
// no expiry never expires.
func (e Envelope) IsExpired() bool {
	return e.ExpiresAt != nil && time.Now().After(*e.ExpiresAt)
}

// CanRetry reports whether another delivery attempt is allowed. Expiry
// dominates: an expired envelope can never retry, whatever its retry count.
func (e Envelope) CanRetry() bool {
	return e.RetryCount < e.MaxRetries && !e.IsExpired()
}

// Retry returns the next delivery attempt: the same envelope with the retry
// count advanced and a fresh envelope ID. The receiver is not mutated, and no
// limit is enforced here; callers are expected to check CanRetry first.
func (e Envelope) Retry() Envelope {
	next := e
	next.EnvelopeID = uuid.New().String()
	next.RetryCount++
	return next
}

// Encode serializes the envelope to its JSON wire form. Absent optional
// fields are omitted, never emitted as null.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope from its JSON wire form and validates the
// required fields.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := e.validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func (e Envelope) validate() error {
	switch {
	case e.EnvelopeID == "":
		return errors.New("envelope is missing envelope_id")
	case e.EventType == "":
		return errors.New("envelope is missing event_type")
	case e.OccurredAt.IsZero():
		return errors.New("envelope is missing occurred_at")
	case e.SourceService == "":
		return errors.New("envelope is missing source_service")
	case e.RoutingKey == "":
		return errors.New("envelope is missing routing_key")
	}
	return nil
}
