// ABOUTME: Envelope publisher for the NATS transport
// ABOUTME: Serializes envelopes and stamps the correlation header on messages

package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/loomtrace-io/loomtrace/internal/correlation"
	"github.com/loomtrace-io/loomtrace/internal/envelope"
	"github.com/loomtrace-io/loomtrace/internal/observability"
)

// EnvelopePublisher hands envelopes to the broker. Satisfied by Publisher;
// tests substitute a recording fake.
type EnvelopePublisher interface {
	Publish(ctx context.Context, env envelope.Envelope) error
	PublishTo(ctx context.Context, subject string, env envelope.Envelope) error
}

// Publisher publishes envelopes over a NATS connection.
type Publisher struct {
	conn    *nats.Conn
	metrics *observability.Metrics
	logger  *observability.ContextLogger
}

// NewPublisher creates a publisher on an established connection.
func NewPublisher(conn *nats.Conn, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:    conn,
		metrics: metrics,
		logger:  observability.NewContextLogger(logger),
	}
}

// Publish sends the envelope on its own subject (exchange plus routing key).
func (p *Publisher) Publish(ctx context.Context, env envelope.Envelope) error {
	return p.PublishTo(ctx, env.Subject(), env)
}

// PublishTo sends the envelope on an explicit subject. The envelope's
// correlation ID, when present, is also set as a message header so broker
// tooling can group deliveries without decoding payloads; an absent ID sets
// no header at all.
func (p *Publisher) PublishTo(ctx context.Context, subject string, env envelope.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	if env.CorrelationID != "" {
		msg.Header.Set(correlation.TraceIDHeader, env.CorrelationID)
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish envelope %s: %w", env.EnvelopeID, err)
	}

	if p.metrics != nil {
		p.metrics.RecordPublish()
	}
	p.logger.Debug(ctx, "published envelope",
		slog.String("envelope_id", env.EnvelopeID),
		slog.String("subject", subject),
		slog.String("event_type", env.EventType),
		slog.Int("retry_count", env.RetryCount),
	)

	return nil
}
