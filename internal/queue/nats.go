// ABOUTME: NATS connection handling for the envelope transport
// ABOUTME: Reconnect options, connection event logging, and graceful close

package queue

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Config holds NATS connection and subscription configuration.
type Config struct {
	// NATS server URL.
	URL string

	// Subject envelopes are published to and consumed from.
	Subject string

	// DLQSubject receives envelopes that exhausted retries or expired.
	// Derived from Subject when empty.
	DLQSubject string

	// Queue group name for load balancing consumers.
	QueueGroup string

	// Connection name for identification.
	Name string

	// Reconnect settings.
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Subject:       "loomtrace.events.>",
		DLQSubject:    "loomtrace.dlq",
		QueueGroup:    "loomtrace-workers",
		Name:          "loomtrace",
		MaxReconnects: -1, // Unlimited.
		ReconnectWait: 2 * time.Second,
	}
}

func (c *Config) setDefaults() {
	if c.DLQSubject == "" {
		// The suffix must not match a ".>" subscription on the base subject,
		// or the subscriber would consume its own dead letters.
		base := strings.TrimSuffix(strings.TrimSuffix(c.Subject, ".>"), ".*")
		c.DLQSubject = base + "-dlq"
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
}

// Connect establishes a NATS connection with logging event handlers.
func Connect(cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{slog.Any("error", err)}
			if sub != nil {
				attrs = append(attrs, slog.String("subject", sub.Subject))
			}
			logger.Error("NATS error", attrs...)
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS",
		slog.String("url", conn.ConnectedUrl()),
		slog.String("server_id", conn.ConnectedServerId()),
	)

	return conn, nil
}
