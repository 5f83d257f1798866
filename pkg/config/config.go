// Package config loads and validates the service configuration from
// scout.yaml and SCOUT_-prefixed environment variables. Environment values
// override file values; defaults cover a complete local setup so the service
// runs with no configuration file at all.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/openscout/openscout/pkg/telemetry"
)

// Config is the root service configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Store     Store     `mapstructure:"store"`
	Router    Router    `mapstructure:"router"`
	Catalog   Catalog   `mapstructure:"catalog"`
	Telemetry Telemetry `mapstructure:"telemetry"`
}

// Server configures the HTTP API.
type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Store configures persistence.
type Store struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite memory"`
	Path   string `mapstructure:"path"`
}

// Router configures the governed execution boundary.
type Router struct {
	DefaultPolicyID         string        `mapstructure:"default_policy_id"`
	RequestTimeout          time.Duration `mapstructure:"request_timeout"`
	PageSize                int           `mapstructure:"page_size" validate:"min=1,max=1000"`
	MaxPages                int           `mapstructure:"max_pages" validate:"min=1"`
	MaxSubscriptionsPerCall int           `mapstructure:"max_subscriptions_per_call" validate:"min=1,max=1000"`
	RatePerSecond           float64       `mapstructure:"rate_per_second"`
	RateBurst               int           `mapstructure:"rate_burst"`
	Endpoint                string        `mapstructure:"endpoint"`
}

// Catalog configures tool catalog loading.
type Catalog struct {
	// Paths are extra catalog files or directories merged over the seed set.
	Paths []string `mapstructure:"paths"`

	// Watch reloads catalog paths on filesystem changes.
	Watch bool `mapstructure:"watch"`
}

// Telemetry configures logging, metrics, tracing and events.
type Telemetry struct {
	Environment     string `mapstructure:"environment"`
	LogLevel        string `mapstructure:"log_level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat       string `mapstructure:"log_format" validate:"oneof=console json"`
	MetricsEnabled  bool   `mapstructure:"metrics_enabled"`
	MetricsAddress  string `mapstructure:"metrics_address"`
	TracingEnabled  bool   `mapstructure:"tracing_enabled"`
	TracingExporter string `mapstructure:"tracing_exporter" validate:"oneof=otlp stdout none"`
	TracingEndpoint string `mapstructure:"tracing_endpoint"`
	EventsEnabled   bool   `mapstructure:"events_enabled"`
}

// Load reads the configuration. An explicit path reads that file; otherwise
// scout.yaml is searched in the working directory, ~/.scout and /etc/scout.
// A missing file is not an error: defaults plus environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("scout")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.scout")
		v.AddConfigPath("/etc/scout")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8484)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "scout.db")

	v.SetDefault("router.default_policy_id", "default")
	v.SetDefault("router.request_timeout", 30*time.Second)
	v.SetDefault("router.page_size", 1000)
	v.SetDefault("router.max_pages", 100)
	v.SetDefault("router.max_subscriptions_per_call", 1000)
	v.SetDefault("router.rate_per_second", 25.0)
	v.SetDefault("router.rate_burst", 10)

	v.SetDefault("catalog.watch", false)

	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.log_level", "info")
	v.SetDefault("telemetry.log_format", "console")
	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.metrics_address", ":9090")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.tracing_exporter", "none")
	v.SetDefault("telemetry.events_enabled", true)
}

// TelemetryConfig maps the service configuration onto the telemetry stack's
// own configuration type.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Environment = c.Telemetry.Environment
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	tc.Metrics.Enabled = c.Telemetry.MetricsEnabled
	tc.Metrics.ListenAddress = c.Telemetry.MetricsAddress
	tc.Tracing.Enabled = c.Telemetry.TracingEnabled
	tc.Tracing.Exporter = c.Telemetry.TracingExporter
	tc.Tracing.Endpoint = c.Telemetry.TracingEndpoint
	tc.Events.Enabled = c.Telemetry.EventsEnabled
	return tc
}
