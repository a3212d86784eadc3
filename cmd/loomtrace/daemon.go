// ABOUTME: Daemon command for running loomtrace as a service
// ABOUTME: Wires HTTP, NATS, dedup store, and scheduler with graceful shutdown

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomtrace-io/loomtrace/internal/api"
	"github.com/loomtrace-io/loomtrace/internal/config"
	"github.com/loomtrace-io/loomtrace/internal/consume"
	"github.com/loomtrace-io/loomtrace/internal/dedup"
	"github.com/loomtrace-io/loomtrace/internal/envelope"
	"github.com/loomtrace-io/loomtrace/internal/observability"
	"github.com/loomtrace-io/loomtrace/internal/queue"
	"github.com/loomtrace-io/loomtrace/internal/scheduler"
)

func newDaemonCmd() *cobra.Command {
	var (
		natsURL  string
		httpAddr string
		dataDir  string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the correlation propagation daemon",
		Long: `Start the loomtrace daemon. It serves the HTTP API with correlation
middleware, connects to NATS to publish and consume enveloped events
(when a NATS URL is configured), and runs scheduled jobs under the
timer adapter.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			// Flags override file values.
			if natsURL != "" {
				cfg.NATS.URL = natsURL
			}
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			cfg.Log.Level = logLevel
			cfg.Log.Format = logFormat

			return runDaemon(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (empty disables messaging)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the dedup store")

	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.ServiceName,
		Version:     version,
	}, os.Stdout)

	slog.SetDefault(logger)
	logger.Info("starting loomtrace daemon",
		slog.String("version", version),
		slog.String("data_dir", cfg.DataDir),
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("http_addr", cfg.HTTP.Addr),
	)

	// Tracing.
	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:       cfg.Tracing.Enabled,
		ServiceName:   cfg.ServiceName,
		Version:       version,
		Endpoint:      cfg.Tracing.Endpoint,
		Insecure:      cfg.Tracing.Insecure,
		SamplingRatio: cfg.Tracing.SamplingRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metrics := observability.NewMetrics()
	factory := envelope.Factory{SourceService: cfg.ServiceName}
	cl := observability.NewContextLogger(logger)

	// Dedup store.
	var dedupStore *dedup.Store
	if cfg.Dedup.Enabled {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		dedupStore, err = dedup.Open(dedup.Config{
			Path:              filepath.Join(cfg.DataDir, "dedup"),
			Retention:         cfg.Dedup.Retention,
			ExpectedItems:     cfg.Dedup.ExpectedItems,
			FalsePositiveRate: cfg.Dedup.FalsePositiveRate,
		})
		if err != nil {
			return fmt.Errorf("failed to open dedup store: %w", err)
		}
		defer dedupStore.Close()
		logger.Info("dedup store opened", slog.String("path", cfg.DataDir))
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// NATS transport.
	var publisher *queue.Publisher
	var subscriber *queue.Subscriber
	if cfg.NATS.URL != "" {
		queueCfg := queue.Config{
			URL:        cfg.NATS.URL,
			Subject:    cfg.NATS.Subject,
			DLQSubject: cfg.NATS.DLQSubject,
			QueueGroup: cfg.NATS.Queue,
			Name:       cfg.ServiceName,
		}

		conn, err := queue.Connect(queueCfg, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		publisher = queue.NewPublisher(conn, metrics, logger)

		subscriber, err = queue.NewSubscriber(queue.SubscriberConfig{
			Conn:      conn,
			Config:    queueCfg,
			Publisher: publisher,
			Dedup:     dedupStore,
			Metrics:   metrics,
			Logger:    logger,
			Handler: func(ctx context.Context, env envelope.Envelope) error {
				// Default handler: log the delivery under its bound context.
				cl.Info(ctx, "envelope received",
					slog.String("envelope_id", env.EnvelopeID),
					slog.String("event_type", consume.CurrentEventType(ctx)),
					slog.String("source_service", consume.CurrentSourceService(ctx)),
				)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if err := subscriber.Start(ctx); err != nil {
			return err
		}
		defer subscriber.Close()
	}

	// HTTP server.
	handler := api.NewHandler(api.HandlerConfig{
		Metrics:   metrics,
		Publisher: publisherOrNil(publisher),
		Factory:   factory,
		Version:   version,
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: api.Middleware(metrics, logger, mux),
	}

	go func() {
		logger.Info("starting HTTP server", slog.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	// Scheduler with a heartbeat job; each firing runs under the timer
	// adapter and, when NATS is up, publishes a heartbeat envelope carrying
	// the firing's correlation ID.
	sched := scheduler.New(metrics, logger)
	sched.Add(scheduler.Job{
		Name:     "heartbeat",
		Interval: cfg.Scheduler.HeartbeatInterval,
		Run: func(ctx context.Context) error {
			if publisher == nil {
				cl.Debug(ctx, "heartbeat")
				return nil
			}
			env := factory.New(ctx, "Heartbeat", `{"status":"alive"}`,
				envelope.WithTTL(cfg.Scheduler.HeartbeatInterval),
			)
			return publisher.Publish(ctx, env)
		},
	})
	sched.Start(ctx)

	logger.Info("daemon ready, waiting for requests")
	<-ctx.Done()

	logger.Info("shutting down daemon")

	// Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", slog.String("error", err.Error()))
	}
	sched.Wait()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown error", slog.String("error", err.Error()))
	}

	return nil
}

// publisherOrNil avoids handing the API a typed-nil interface value.
func publisherOrNil(p *queue.Publisher) queue.EnvelopePublisher {
	if p == nil {
		return nil
	}
	return p
}
