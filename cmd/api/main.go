package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/scanq/internal/api"
	"github.com/ahrav/scanq/internal/api/debug"
	"github.com/ahrav/scanq/internal/api/mux"
	"github.com/ahrav/scanq/internal/api/routes"
	appscanning "github.com/ahrav/scanq/internal/app/scanning"
	"github.com/ahrav/scanq/internal/config"
	"github.com/ahrav/scanq/internal/infra/eventbus/kafka"
	"github.com/ahrav/scanq/internal/infra/eventbus/memory"
	"github.com/ahrav/scanq/internal/infra/scanner"
	"github.com/ahrav/scanq/internal/infra/storage"
	scanningStore "github.com/ahrav/scanq/internal/infra/storage/scanning/postgres"
	"github.com/ahrav/scanq/pkg/common/logger"
	"github.com/ahrav/scanq/pkg/common/otel"
)

var build = "develop"

const (
	serviceType = "scanq-api"
	// Buffer of the subscription feeding the Kafka sink.
	sinkBuffer = 1024
)

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	configPath := pflag.StringP("config", "c", "", "path to a YAML config file (defaults to $"+config.EnvConfigFile+")")
	pflag.Parse()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("invalid log level: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("SCANQ-API-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
		"build":    build,
	}

	log := logger.NewWithMetadata(os.Stdout, level, svcName, traceIDFn, logEvents, metadata)

	ctx := context.Background()

	if err := run(ctx, log, cfg, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing telemetry support")

	providers, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness":    {},
			"/v1/liveness":     {},
			"/v1/scans/events": {},
			"/debug":           {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
			"service.version":  build,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	defer teardown(context.WithoutCancel(ctx))

	tracer := providers.Tracer.Tracer(cfg.Telemetry.ServiceName)

	// -------------------------------------------------------------------------
	// Start Debug Service

	if cfg.Debug.Host != "" {
		go func() {
			log.Info(ctx, "startup", "status", "debug router started", "host", cfg.Debug.Host)

			if err := http.ListenAndServe(cfg.Debug.Host, debug.Mux()); err != nil {
				log.Error(ctx, "shutdown", "status", "debug router closed", "host", cfg.Debug.Host, "msg", err)
			}
		}()
	}

	// -------------------------------------------------------------------------
	// Initialize Event Broadcasting
	log.Info(ctx, "startup", "status", "initializing event broadcaster")

	broadcaster := memory.NewBroadcaster()
	defer broadcaster.Close()

	apiMetrics, err := api.NewAPIMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating api metrics: %w", err)
	}

	sinkCtx, stopSink := context.WithCancel(ctx)
	defer stopSink()

	// Closed once the sink has forwarded everything the broadcaster handed it.
	sinkDone := make(chan struct{})

	if cfg.Kafka.Enabled {
		log.Info(ctx, "startup", "status", "connecting kafka event sink", "brokers", cfg.Kafka.Brokers)

		sink, err := kafka.ConnectSink(ctx, &kafka.ClientConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
			Topic:    cfg.Kafka.Topic,
		}, cfg.Kafka.ConnectTimeout, log, apiMetrics, tracer)
		if err != nil {
			return fmt.Errorf("connecting kafka sink: %w", err)
		}
		defer sink.Close()

		sub, err := broadcaster.Subscribe(sinkCtx, sinkBuffer, nil)
		if err != nil {
			return fmt.Errorf("subscribing kafka sink: %w", err)
		}
		go func() {
			defer close(sinkDone)
			if err := sink.Run(sinkCtx, sub); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(ctx, "kafka sink stopped", "error", err)
			}
		}()
	} else {
		close(sinkDone)
	}

	// -------------------------------------------------------------------------
	// Database Support

	var (
		pool    *pgxpool.Pool
		opts    []appscanning.QueueOption
		muxOpts = mux.Config{
			Build:       build,
			Log:         log,
			Tracer:      tracer,
			Metrics:     apiMetrics,
			Broadcaster: broadcaster,
		}
	)

	if cfg.Database.Enabled {
		log.Info(ctx, "startup", "status", "initializing database support")

		pool, err = storage.NewPool(ctx, storage.PoolConfig{
			DSN:      cfg.Database.DSN,
			MinConns: cfg.Database.MinConns,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("connecting to db: %w", err)
		}
		defer pool.Close()

		store := scanningStore.NewJobStore(pool, tracer)
		opts = append(opts, appscanning.WithArchiver(store))
		muxOpts.DB = pool
		muxOpts.History = store
	}

	// -------------------------------------------------------------------------
	// Job Queue

	log.Info(ctx, "startup", "status", "initializing job queue")

	executor, err := scanner.NewExecutor(cfg.ScannerConfig(), log, tracer)
	if err != nil {
		return fmt.Errorf("creating scan executor: %w", err)
	}

	queueMetrics, err := appscanning.NewQueueMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating queue metrics: %w", err)
	}

	queue, err := appscanning.NewJobQueue(cfg.QueueConfig(), executor, broadcaster, log, tracer, queueMetrics, opts...)
	if err != nil {
		return fmt.Errorf("creating job queue: %w", err)
	}

	supervisor := appscanning.NewJobSupervisor(
		queue,
		cfg.Queue.TimeoutCheckInterval,
		cfg.Queue.SweepInterval,
		tracer,
		log,
	)
	supervisor.Start(ctx)

	// -------------------------------------------------------------------------
	// Start API Service

	log.Info(ctx, "startup", "status", "initializing API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	muxOpts.Queue = queue
	webAPI := mux.WebAPI(muxOpts,
		routes.Routes(),
		mux.WithCORS(cfg.API.CORSOrigins),
	)

	apiServer := http.Server{
		Addr:         cfg.API.Host,
		Handler:      otelhttp.NewHandler(webAPI, serviceType),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info(ctx, "startup", "status", "api router started", "host", apiServer.Addr)
		serverErrors <- apiServer.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	svc := services{
		supervisor:  supervisor,
		queue:       queue,
		broadcaster: broadcaster,
		sinkDone:    sinkDone,
	}

	select {
	case err := <-serverErrors:
		ctx, cancel := context.WithTimeout(ctx, cfg.API.ShutdownTimeout)
		defer cancel()

		if stopErr := shutdownServices(ctx, log, svc); stopErr != nil {
			log.Error(ctx, "shutdown", "status", "could not stop services gracefully", "error", stopErr)
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.API.ShutdownTimeout)
		defer cancel()

		svc.api = &apiServer
		if err := shutdownServices(ctx, log, svc); err != nil {
			return err
		}
	}

	return nil
}

type httpServer interface {
	Shutdown(ctx context.Context) error
	Close() error
}

type jobQueue interface {
	Shutdown(ctx context.Context) error
}

type services struct {
	api         httpServer
	supervisor  interface{ Stop() }
	queue       jobQueue
	broadcaster interface{ Close() }
	sinkDone    <-chan struct{}
}

// shutdownServices stops intake before the queue, and the queue before the
// broadcaster, so the cancelled events the queue emits on shutdown still reach
// push clients and the Kafka sink. It then waits for the sink to drain.
func shutdownServices(ctx context.Context, log *logger.Logger, svc services) error {
	if svc.api != nil {
		if err := svc.api.Shutdown(ctx); err != nil {
			_ = svc.api.Close()
			log.Warn(ctx, "shutdown", "status", "could not stop server gracefully", "error", err)
		}
	}

	svc.supervisor.Stop()
	queueErr := svc.queue.Shutdown(ctx)
	if queueErr != nil {
		queueErr = fmt.Errorf("could not stop job queue gracefully: %w", queueErr)
	}

	// Ends the push channel streams and the sink subscription.
	svc.broadcaster.Close()

	select {
	case <-svc.sinkDone:
	case <-ctx.Done():
		log.Warn(ctx, "shutdown", "status", "event sink did not drain", "error", ctx.Err())
	}
	return queueErr
}
