package telemetry

import (
	"fmt"
	"time"
)

// Config is the root telemetry configuration. ServiceName, ServiceVersion
// and Environment identify the process on every exported signal.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog-backed logger.
type LoggingConfig struct {
	// Level is the minimum level (trace, debug, info, warn, error, fatal).
	Level string

	// Format selects console or json output.
	Format string

	// Output is stdout, stderr or a file path.
	Output string

	// EnableCaller adds file:line to every entry.
	EnableCaller bool

	// EnableSampling rate-limits repeated entries: SamplingInitial per
	// second pass through, then every SamplingThereafter-th.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int

	// TimeFormat is unix or rfc3339.
	TimeFormat string
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp, stdout or none.
	Exporter string

	// Endpoint is the OTLP collector address.
	Endpoint string

	// SamplingRate is the head sampling ratio, 0.0 to 1.0.
	SamplingRate float64

	MaxExportBatchSize int
	ExportTimeout      time.Duration

	// Headers ride every OTLP export request.
	Headers map[string]string

	// Insecure disables TLS toward the collector.
	Insecure bool
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string
	Path          string
	Namespace     string

	// DefaultHistogramBuckets are the latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	Enabled bool

	// BufferSize bounds the async delivery queue.
	BufferSize int

	// MaxBatchSize caps how many events one subscriber callback receives.
	MaxBatchSize int

	// EnableAsync delivers events off the publishing goroutine.
	EnableAsync bool
}

// DefaultConfig returns the standing defaults. Callers overlay their own
// settings on top of this rather than building a Config from scratch.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "openscout",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stdout",
			EnableCaller:       true,
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            true,
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "openscout",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		},
		Events: EventsConfig{
			Enabled:      true,
			BufferSize:   1000,
			MaxBatchSize: 100,
			EnableAsync:  true,
		},
	}
}

// Validate rejects configurations the components cannot run with.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}
	return nil
}
