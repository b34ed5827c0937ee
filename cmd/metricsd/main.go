package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/metricsd/internal/application/publisher"
	"github.com/aescanero/metricsd/internal/config"
	eventsmemory "github.com/aescanero/metricsd/pkg/adapters/events/memory"
	eventsredis "github.com/aescanero/metricsd/pkg/adapters/events/redis"
	otelmetrics "github.com/aescanero/metricsd/pkg/adapters/metrics/otel"
	"github.com/aescanero/metricsd/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/metricsd/pkg/adapters/storage/memory"
	storageredis "github.com/aescanero/metricsd/pkg/adapters/storage/redis"
	"github.com/aescanero/metricsd/pkg/adapters/tracing/otel"
	"github.com/aescanero/metricsd/pkg/api/grpc"
	"github.com/aescanero/metricsd/pkg/api/http"
	"github.com/aescanero/metricsd/pkg/api/websocket"
	"github.com/aescanero/metricsd/pkg/metrics"
	"github.com/aescanero/metricsd/pkg/ports"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

type serveOptions struct {
	logLevel string
	httpPort int
	grpcPort int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}

	runServe := func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, opts)
		if err != nil {
			return err
		}
		return serve(cfg)
	}

	rootCmd := &cobra.Command{
		Use:          "metricsd",
		Short:        "Demo HTTP service instrumented with an in-process metrics registry",
		SilenceUsage: true,
		RunE:         runServe,
	}

	addServeFlags(rootCmd, opts)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (built %s)\n", Version, BuildTime)
		},
	})

	return rootCmd
}

func addServeFlags(cmd *cobra.Command, opts *serveOptions) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flags.IntVar(&opts.httpPort, "http-port", 0, "HTTP port (overrides METRICSD_HTTP_PORT)")
	flags.IntVar(&opts.grpcPort, "grpc-port", 0, "gRPC health port (overrides METRICSD_GRPC_PORT)")
}

// loadConfig reads the environment, then applies the flags that were set
func loadConfig(cmd *cobra.Command, opts *serveOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("http-port") {
		cfg.HTTPPort = opts.httpPort
	}
	if flags.Changed("grpc-port") {
		cfg.GRPCPort = opts.grpcPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serve(cfg *config.Config) error {
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting metricsd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := otel.Setup(ctx, &otel.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	registry, err := metrics.NewRegistry(metrics.Options{
		Prefix:         cfg.Metrics.Prefix,
		DefaultBuckets: cfg.Metrics.DefaultBuckets,
		MaxCardinality: cfg.Metrics.MaxCardinality,
	})
	if err != nil {
		logger.Fatal("failed to create metrics registry", zap.Error(err))
	}

	var redisClient *goredis.Client
	if cfg.Snapshots.Store == config.StoreRedis || cfg.Snapshots.Bus == config.StoreRedis {
		redisClient = newRedisClient(cfg.Redis)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	var store ports.SnapshotStore
	switch cfg.Snapshots.Store {
	case config.StoreRedis:
		store = storageredis.NewSnapshotStore(redisClient, cfg.Snapshots.TTL, logger)
	default:
		store = storagememory.NewSnapshotStore(cfg.Snapshots.Retain)
	}

	var eventBus ports.EventBus
	switch cfg.Snapshots.Bus {
	case config.StoreRedis:
		eventBus = eventsredis.NewStreamsEventBus(redisClient, eventsredis.Config{
			MaxLen: cfg.Snapshots.StreamMaxLen,
			Logger: logger,
		})
	default:
		eventBus = eventsmemory.NewInMemoryEventBus(logger)
	}

	httpCfg := &http.Config{
		Port:          cfg.HTTPPort,
		Registry:      registry,
		RenderTimeout: cfg.Metrics.RenderTimeout,
		Store:         store,
		HelloMaxDelay: cfg.Demo.HelloMaxDelay,
		Logger:        logger,
	}
	if cfg.Tracing.Enabled {
		httpCfg.Tracer = tracer.Tracer("github.com/aescanero/metricsd/pkg/api/http")
	}
	if cfg.Metrics.Format == config.FormatPromHTTP {
		gatherer, err := prometheus.NewGatherer(registry)
		if err != nil {
			logger.Fatal("failed to create prometheus gatherer", zap.Error(err))
		}
		httpCfg.MetricsHandler = prometheus.Handler(gatherer)
	}

	httpServer, err := http.NewServer(httpCfg)
	if err != nil {
		logger.Fatal("failed to create HTTP server", zap.Error(err))
	}
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, store, logger))

	var pub *publisher.Publisher
	if cfg.Snapshots.Interval > 0 {
		pub, err = publisher.New(&publisher.Config{
			Registry:      registry,
			Store:         store,
			Bus:           eventBus,
			Interval:      cfg.Snapshots.Interval,
			RenderTimeout: cfg.Metrics.RenderTimeout,
			Logger:        logger,
		})
		if err != nil {
			logger.Fatal("failed to create snapshot publisher", zap.Error(err))
		}
		pub.Start()
	}

	// The bridge only sees metrics registered so far, so it comes last.
	var bridge *otelmetrics.Bridge
	var meterShutdown func(context.Context) error
	if cfg.Tracing.MetricsEnabled {
		mp, err := otelmetrics.NewMeterProvider(ctx, otelmetrics.ExporterConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: Version,
			Endpoint:       cfg.Tracing.Endpoint,
			Insecure:       cfg.Tracing.Insecure,
			Interval:       cfg.Tracing.MetricsInterval,
		})
		if err != nil {
			logger.Fatal("failed to create meter provider", zap.Error(err))
		}
		bridge, err = otelmetrics.NewBridge(mp.Meter("github.com/aescanero/metricsd"), registry)
		if err != nil {
			logger.Fatal("failed to bridge metrics to OpenTelemetry", zap.Error(err))
		}
		meterShutdown = mp.Shutdown
	}

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("metricsd started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("metrics_format", cfg.Metrics.Format),
		zap.String("snapshot_store", cfg.Snapshots.Store),
		zap.String("snapshot_bus", cfg.Snapshots.Bus))

	<-ctx.Done()
	stop()

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	grpcServer.SetServing(false)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if pub != nil {
		pub.Stop()
	}

	if err := bridge.Close(); err != nil {
		logger.Error("metrics bridge close error", zap.Error(err))
	}
	if meterShutdown != nil {
		if err := meterShutdown(shutdownCtx); err != nil {
			logger.Error("meter provider shutdown error", zap.Error(err))
		}
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", zap.Error(err))
	}

	logger.Info("metricsd shut down complete")
	return nil
}

func newRedisClient(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
