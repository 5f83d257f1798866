package telemetry

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func jsonLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "debug",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: "rfc3339",
	}
}

func TestLoggerCarriesCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(jsonLoggingConfig(), &buf)

	logger.
		WithDiscoveryID("disc-1").
		WithCorrelation("corr-1", "trace-1", "sess-1").
		WithLayer("inventory").
		WithTool("rg_inventory_discovery").
		Info("layer tool finished")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
	}

	for field, want := range map[string]string{
		"discovery_id":   "disc-1",
		"correlation_id": "corr-1",
		"trace_id":       "trace-1",
		"session_id":     "sess-1",
		"layer_id":       "inventory",
		"tool_id":        "rg_inventory_discovery",
	} {
		if got, _ := line[field].(string); got != want {
			t.Fatalf("field %s: expected %q, got %q in %s", field, want, got, buf.String())
		}
	}
}

func TestComponentLoggerField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(jsonLoggingConfig(), &buf)

	logger.NewComponentLogger("router").Warn("slowing down")

	if !strings.Contains(buf.String(), `"component":"router"`) {
		t.Fatalf("expected component field, got %s", buf.String())
	}
}

func TestLogLevelFilters(t *testing.T) {
	cfg := jsonLoggingConfig()
	cfg.Level = "warn"

	var buf bytes.Buffer
	logger := NewLoggerWithWriter(cfg, &buf)

	logger.Info("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted at warn level: %s", buf.String())
	}

	logger.Warn("should appear")
	if buf.Len() == 0 {
		t.Fatal("warn line not emitted at warn level")
	}
}

func TestEventPublisherSynchronousDelivery(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:      true,
		BufferSize:   10,
		MaxBatchSize: 10,
		EnableAsync:  false,
	})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	received := make(chan Event, 1)
	ep.Subscribe(func(e Event) { received <- e }, FilterByType(EventTypeLayerFailed))

	if err := ep.PublishLayerCompleted("disc-1", "inventory", "completed", time.Second); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := ep.PublishLayerFailed("disc-1", "topology", "all tools failed"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case e := <-received:
		if e.Type != EventTypeLayerFailed || e.LayerID != "topology" {
			t.Fatalf("unexpected event delivered: %+v", e)
		}
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Fatalf("event missing ID or timestamp: %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("filtered subscriber never received the matching event")
	}
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	// None of these may panic on the nil instruments.
	m.RecordDiscoveryStarted()
	m.RecordDiscoveryCompleted("completed", time.Second)
	m.RecordLayerExecution("inventory", "completed", time.Second)
	m.RecordToolInvocation("rg_inventory_discovery", "success", time.Second)
	m.RecordPage("rg_inventory_discovery")
	m.RecordRetry("rg_inventory_discovery")
	m.RecordRowsCollected("rg_inventory_discovery", 100)
	m.RecordPolicyDenial("not_approved")
	m.RecordThrottlePause(5 * time.Second)
	m.RecordError("throttled", "RATE_LIMITED")
	m.SetGraphSize(10, 20)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.ServiceName = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }},
		{"sampling rate out of range", func(c *Config) { c.Tracing.SamplingRate = 1.5 }},
		{"metrics without address", func(c *Config) { c.Metrics.ListenAddress = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}
