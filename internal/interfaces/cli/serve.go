package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syncbridge/syncbridge/internal/application/batchsync"
	"github.com/syncbridge/syncbridge/internal/application/events"
	"github.com/syncbridge/syncbridge/internal/config"
	"github.com/syncbridge/syncbridge/internal/infrastructure/delivery"
	"github.com/syncbridge/syncbridge/internal/infrastructure/messaging/kafka"
	"github.com/syncbridge/syncbridge/internal/infrastructure/monitoring/logging"
	"github.com/syncbridge/syncbridge/internal/infrastructure/monitoring/prometheus"
	httpiface "github.com/syncbridge/syncbridge/internal/interfaces/http"
)

// syncRunner binds the synchronizer to the delivery worker so the HTTP sync
// trigger needs no knowledge of either.
type syncRunner struct {
	sync   *batchsync.Synchronizer
	worker batchsync.Worker
}

func (r *syncRunner) Run(ctx context.Context, keys []string, force bool) (*batchsync.Summary, error) {
	return r.sync.SyncMany(ctx, keys, r.worker, batchsync.Options{Force: force})
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event pipeline, ingest consumer, and operational HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := initRuntime(opts)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), rt, opts)
		},
	}
}

func runServe(ctx context.Context, rt *runtime, opts *rootOptions) error {
	cfg := rt.cfg
	logger := rt.logger

	// Metrics are optional; everything runs against no-op hooks when disabled.
	var metricsHandler http.Handler
	var eventMetrics events.Metrics = events.NewNopMetrics()
	var syncMetrics batchsync.Metrics = batchsync.NewNopMetrics()
	if cfg.Metrics.Enabled {
		collector, err := prometheus.NewCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableGoMetrics:      true,
			EnableProcessMetrics: true,
		}, logger)
		if err != nil {
			return err
		}
		m := prometheus.NewSyncMetrics(collector)
		eventMetrics, syncMetrics = m, m
		metricsHandler = collector.Handler()
	}

	cache := events.NewCache(cfg.Queue.CacheTTL, cfg.Queue.SweepInterval, logger)
	queue := events.NewQueue(cfg.Queue, cache, logger, eventMetrics)

	client := delivery.NewClient(cfg.Delivery, logger)
	queue.SetProcessor(client.ProcessEvent)
	cache.StartSweeper()

	synchronizer := batchsync.New(cfg.Sync, logger, syncMetrics)
	trigger := &syncRunner{sync: synchronizer, worker: client.SyncKey}

	server := httpiface.NewServer(cfg.Server, queue, trigger, metricsHandler, logger)

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		c, err := kafka.NewConsumer(cfg.Kafka, queue, logger)
		if err != nil {
			return err
		}
		if err := c.Start(ctx); err != nil {
			return err
		}
		consumer = c
	}

	// Log level follows the config file while the service runs.
	if opts.configPath != "" {
		config.Watch(opts.configPath, func(next *config.Config) {
			rt.levelCtl.SetLevel(next.Log.Level)
			logger.Info("log level reloaded", logging.String("level", next.Log.Level))
		})
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", logging.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Error("ingest consumer stop failed", logging.Err(err))
		}
	}
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("http server stop failed", logging.Err(err))
	}
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Error("queue close timed out", logging.Err(err))
	}
	cache.StopSweeper()

	logger.Info("shutdown complete")
	return nil
}
