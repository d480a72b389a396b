package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchbase/gocb/v2"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"ssebot/internal/config"
	"ssebot/internal/directory"
	"ssebot/internal/sse/metrics"
	"ssebot/internal/sse/presence"
	"ssebot/internal/sse/publisher"
	"ssebot/internal/sse/router"
	"ssebot/internal/sse/spreadsheet"
	"ssebot/internal/sse/tracing"
	"ssebot/internal/sse/transport"
)

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zapConfig := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", cfg.LogLevel, err)
		zapLevel = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := zapConfig.Build(zap.AddCaller())
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if buildTime == "" {
		buildTime = time.Now().Format(time.RFC3339)
	}
	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo(version, buildTime)

	tracer, tracingCleanup, err := newTracer(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	logger.Info("tracing initialized",
		zap.Bool("enabled", cfg.TracingEnabled),
		zap.String("service", cfg.Tracing.ServiceName),
		zap.String("jaeger_endpoint", cfg.Tracing.JaegerEndpoint),
		zap.Float64("sample_rate", cfg.Tracing.SampleRate),
	)

	cluster, bucket, err := newCouchbase(cfg.Couchbase)
	if err != nil {
		return fmt.Errorf("failed to connect to Couchbase: %w", err)
	}

	store, err := directory.NewCouchbaseStore(cluster, bucket, cfg.Couchbase.ScopeName)
	if err != nil {
		return fmt.Errorf("failed to create user store: %w", err)
	}
	defer store.Close()

	cached, err := directory.NewCachedDirectory(store, cfg.DirectoryCacheTTL, logger)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	go cached.Start()
	defer cached.Stop()

	tracker, err := presence.NewTracker(
		directory.NewMetricsDirectory(cached, metricsRegistry),
		cfg.PresenceInterval,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create presence tracker: %w", err)
	}
	defer tracker.Close()
	metricsRegistry.RegisterPresenceSessions(tracker.Sessions)

	basePublisher, err := spreadsheet.NewPublisher(tracker, logger)
	if err != nil {
		return fmt.Errorf("failed to create spreadsheet publisher: %w", err)
	}
	metricsPublisher := publisher.NewMetricsPublisher(basePublisher, metricsRegistry)
	spreadsheetPublisher := publisher.NewTracedPublisher(metricsPublisher, tracer)

	r := router.New(logger)
	if err := r.Register(spreadsheetPublisher); err != nil {
		return fmt.Errorf("failed to register spreadsheet publisher: %w", err)
	}

	sseServer, err := transport.NewServer(cfg.Transport, r, logger)
	if err != nil {
		return fmt.Errorf("failed to create sse transport: %w", err)
	}

	metricsServer := metrics.NewServer(cfg.Metrics, metricsRegistry, func() error {
		if len(r.Publishers()) == 0 {
			return errors.New("no publishers registered")
		}
		return nil
	}, logger)

	logger.Info("starting ssebot",
		zap.String("version", version),
		zap.String("addr", cfg.Transport.Addr),
		zap.String("metrics", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
		zap.Duration("presence_interval", tracker.Interval()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metricsServer.Start(gctx)
	})
	g.Go(func() error {
		return sseServer.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("ssebot stopped", zap.Int("presence_sessions", tracker.Sessions()))
	return nil
}

// newTracer returns an exporting tracer, or a local one that records nothing
// when tracing is disabled.
func newTracer(cfg *config.Config) (*tracing.Tracer, func(context.Context) error, error) {
	if cfg.TracingEnabled {
		return tracing.NewTracer(cfg.Tracing)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
	return tracing.NewTracerFromProvider(tp, cfg.Tracing.ServiceName), tp.Shutdown, nil
}

func newCouchbase(cb config.Couchbase) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(cb.ConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: cb.Username,
			Password: cb.Password,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: 10 * time.Second,
			KVTimeout:      5 * time.Second,
			QueryTimeout:   30 * time.Second,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(cb.BucketName)

	err = bucket.WaitUntilReady(5*time.Second, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("bucket not ready: %w", err)
	}

	return cluster, bucket, nil
}
