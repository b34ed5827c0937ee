package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
)

// Metrics exposition formats.
const (
	FormatNative   = "native"
	FormatPromHTTP = "promhttp"
)

// Snapshot store and event bus backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds all configuration for metricsd
type Config struct {
	// Server configuration. HTTPPort falls back to PORT when
	// METRICSD_HTTP_PORT is unset.
	HTTPPort int    `env:"METRICSD_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"METRICSD_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Metrics engine configuration
	Metrics MetricsConfig

	// Demo routes
	Demo DemoConfig

	// Trace export
	Tracing TracingConfig

	// Periodic snapshots
	Snapshots SnapshotConfig

	// Redis configuration
	Redis RedisConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// MetricsConfig holds registry and exposition configuration
type MetricsConfig struct {
	Prefix         string        `env:"METRICS_PREFIX"`
	DefaultBuckets []float64     `env:"METRICS_DEFAULT_BUCKETS" envDefault:"0.025,0.05,0.1,0.25,0.5,1,2,5" envSeparator:","`
	MaxCardinality int           `env:"METRICS_MAX_CARDINALITY" envDefault:"1000"`
	Format         string        `env:"METRICS_FORMAT" envDefault:"native"`
	RenderTimeout  time.Duration `env:"METRICS_RENDER_TIMEOUT" envDefault:"5s"`
}

// DemoConfig holds configuration of the demo endpoints
type DemoConfig struct {
	HelloMaxDelay time.Duration `env:"DEMO_HELLO_MAX_DELAY" envDefault:"200ms"`
}

// TracingConfig holds OpenTelemetry trace export configuration
type TracingConfig struct {
	Enabled     bool   `env:"TRACING_ENABLED" envDefault:"true"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"node-demo-api"`
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"otel-collector:4318"`
	Insecure    bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`

	// Push the registry over OTLP next to the traces
	MetricsEnabled  bool          `env:"OTEL_METRICS_ENABLED" envDefault:"false"`
	MetricsInterval time.Duration `env:"OTEL_METRICS_INTERVAL" envDefault:"30s"`
}

// SnapshotConfig holds periodic snapshot publishing configuration
type SnapshotConfig struct {
	Interval time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"15s"`
	Store    string        `env:"SNAPSHOT_STORE" envDefault:"memory"`
	TTL      time.Duration `env:"SNAPSHOT_TTL" envDefault:"1h"`
	Retain   int           `env:"SNAPSHOT_RETAIN" envDefault:"20"`

	// Event bus carrying published snapshots
	Bus          string `env:"SNAPSHOT_BUS" envDefault:"memory"`
	StreamMaxLen int64  `env:"SNAPSHOT_STREAM_MAXLEN" envDefault:"1000"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// portFallback binds the PORT variable set by most container platforms
type portFallback struct {
	Port int `env:"PORT"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if _, ok := os.LookupEnv("METRICSD_HTTP_PORT"); !ok {
		var fallback portFallback
		if err := env.Parse(&fallback); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if fallback.Port != 0 {
			cfg.HTTPPort = fallback.Port
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate metrics config
	for i := 1; i < len(c.Metrics.DefaultBuckets); i++ {
		if c.Metrics.DefaultBuckets[i-1] >= c.Metrics.DefaultBuckets[i] {
			return fmt.Errorf("default buckets must be strictly increasing: %v", c.Metrics.DefaultBuckets)
		}
	}
	if c.Metrics.Format != FormatNative && c.Metrics.Format != FormatPromHTTP {
		return fmt.Errorf("invalid metrics format: %s (must be %s or %s)", c.Metrics.Format, FormatNative, FormatPromHTTP)
	}
	if c.Metrics.RenderTimeout < 0 {
		return fmt.Errorf("render timeout must not be negative")
	}

	if c.Demo.HelloMaxDelay < 0 {
		return fmt.Errorf("hello max delay must not be negative")
	}

	if (c.Tracing.Enabled || c.Tracing.MetricsEnabled) && c.Tracing.Endpoint == "" {
		return fmt.Errorf("OTLP endpoint is required when tracing or OTLP metrics are enabled")
	}
	if c.Tracing.MetricsEnabled && c.Tracing.MetricsInterval <= 0 {
		return fmt.Errorf("OTLP metrics interval must be positive")
	}

	// Validate snapshot config
	if c.Snapshots.Interval < 0 {
		return fmt.Errorf("snapshot interval must not be negative")
	}
	switch c.Snapshots.Store {
	case StoreMemory:
		if c.Snapshots.Retain < 1 {
			return fmt.Errorf("snapshot retention must be at least 1")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("unsupported snapshot store: %s (must be %s or %s)", c.Snapshots.Store, StoreMemory, StoreRedis)
	}

	switch c.Snapshots.Bus {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("unsupported snapshot bus: %s (must be %s or %s)", c.Snapshots.Bus, StoreMemory, StoreRedis)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
