// ABOUTME: NATS subscriber delivering envelopes to a handler
// ABOUTME: Dedup check, scoped-execution dispatch, retry and dead-letter flow

package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/loomtrace-io/loomtrace/internal/consume"
	"github.com/loomtrace-io/loomtrace/internal/dedup"
	"github.com/loomtrace-io/loomtrace/internal/envelope"
	"github.com/loomtrace-io/loomtrace/internal/observability"
)

// Handler processes one delivered envelope. It runs inside a scoped-execution
// helper, so the envelope's correlation state is already bound on ctx.
type Handler func(ctx context.Context, env envelope.Envelope) error

// SubscriberConfig holds the subscriber's collaborators.
type SubscriberConfig struct {
	Conn      *nats.Conn
	Config    Config
	Handler   Handler
	Publisher EnvelopePublisher

	// Dedup drops redelivered attempts before the handler runs. Optional.
	Dedup *dedup.Store

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Subscriber consumes envelopes from NATS and dispatches them to a handler.
// Handler failures are re-published as the next retry attempt while the
// envelope allows it, and dead-lettered once it does not.
type Subscriber struct {
	conn      *nats.Conn
	config    Config
	handler   Handler
	publisher EnvelopePublisher
	dedup     *dedup.Store
	metrics   *observability.Metrics
	logger    *observability.ContextLogger
	sub       *nats.Subscription
}

// NewSubscriber creates a subscriber.
func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("subscriber requires a handler")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Config.setDefaults()

	return &Subscriber{
		conn:      cfg.Conn,
		config:    cfg.Config,
		handler:   cfg.Handler,
		publisher: cfg.Publisher,
		dedup:     cfg.Dedup,
		metrics:   cfg.Metrics,
		logger:    observability.NewContextLogger(logger),
	}, nil
}

// Start begins consuming from the configured subject as part of the queue
// group. The given context bounds the lifetime of message handling.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("not connected to NATS")
	}

	sub, err := s.conn.QueueSubscribe(s.config.Subject, s.config.QueueGroup, func(msg *nats.Msg) {
		s.handleMessage(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.sub = sub
	s.logger.Logger().Info("subscribed to NATS",
		slog.String("subject", s.config.Subject),
		slog.String("queue", s.config.QueueGroup),
	)

	return nil
}

// handleMessage processes one delivery attempt.
func (s *Subscriber) handleMessage(ctx context.Context, data []byte) {
	ctx, span := observability.StartSpan(ctx, "queue.handle_message")
	defer span.End()

	env, err := envelope.Decode(data)
	if err != nil {
		// Malformed payloads cannot be retried or dead-lettered as envelopes;
		// log and drop.
		ec := observability.NewErrorContext(
			observability.CodeEnvelopeDecode,
			observability.CategoryPermanent,
			"queue.handle_message",
		).WithError(err)
		s.logger.Error(ctx, "failed to decode envelope", slog.Any("error", ec))
		return
	}

	if s.dedup != nil {
		seen, derr := s.dedup.Seen(env.EnvelopeID)
		if derr != nil {
			ec := observability.NewErrorContext(
				observability.CodeDedupFailed,
				observability.CategoryTransient,
				"queue.handle_message",
			).WithError(derr)
			// Process anyway; dedup is an optimization, not a gate.
			s.logger.Warn(ctx, "dedup check failed", slog.Any("error", ec))
		} else if seen {
			if s.metrics != nil {
				s.metrics.RecordDedupDrop()
			}
			s.logger.Debug(ctx, "dropped duplicate delivery",
				slog.String("envelope_id", env.EnvelopeID),
			)
			return
		}
	}

	if s.metrics != nil {
		s.metrics.RecordConsume()
	}

	err = consume.Run(ctx, &env, func(ctx context.Context) error {
		return s.handler(ctx, env)
	})
	if err == nil {
		s.markProcessed(ctx, env)
		return
	}

	s.handleFailure(ctx, env, err)
}

// markProcessed records a successful delivery in the dedup store.
func (s *Subscriber) markProcessed(ctx context.Context, env envelope.Envelope) {
	if s.dedup == nil {
		return
	}
	if err := s.dedup.Mark(env.EnvelopeID); err != nil {
		s.logger.Warn(ctx, "failed to mark envelope processed",
			slog.String("envelope_id", env.EnvelopeID),
			slog.Any("error", err),
		)
	}
}

// handleFailure re-publishes the next retry attempt while the envelope allows
// it, otherwise dead-letters the envelope unchanged.
func (s *Subscriber) handleFailure(ctx context.Context, env envelope.Envelope, cause error) {
	ec := observability.NewErrorContext(
		observability.CodeHandlerFailed,
		observability.CategoryTransient,
		"queue.handle_message",
	).WithError(cause)

	if s.publisher == nil {
		s.logger.Error(ctx, "handler failed, no publisher for retry", slog.Any("error", ec))
		return
	}

	if env.CanRetry() {
		next := env.Retry()
		if err := s.publisher.Publish(ctx, next); err != nil {
			s.logger.Error(ctx, "failed to publish retry",
				slog.String("envelope_id", env.EnvelopeID),
				slog.Any("error", err),
			)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordRetry()
		}
		s.logger.Warn(ctx, "handler failed, retry published",
			slog.String("envelope_id", env.EnvelopeID),
			slog.String("next_envelope_id", next.EnvelopeID),
			slog.Int("retry_count", next.RetryCount),
			slog.Int("max_retries", next.MaxRetries),
			slog.Any("error", ec),
		)
		return
	}

	if err := s.publisher.PublishTo(ctx, s.config.DLQSubject, env); err != nil {
		s.logger.Error(ctx, "failed to dead-letter envelope",
			slog.String("envelope_id", env.EnvelopeID),
			slog.Any("error", err),
		)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordDeadLetter()
	}
	s.logger.Error(ctx, "envelope dead-lettered",
		slog.String("envelope_id", env.EnvelopeID),
		slog.String("dlq_subject", s.config.DLQSubject),
		slog.Bool("expired", env.IsExpired()),
		slog.Int("retry_count", env.RetryCount),
		slog.Any("error", ec),
	)
}

// Close unsubscribes; the connection itself is owned by the caller.
func (s *Subscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to unsubscribe: %w", err)
		}
	}
	return nil
}
