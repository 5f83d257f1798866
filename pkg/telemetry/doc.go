// Package telemetry provides observability instrumentation for OpenScout.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring discoveries end to end.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics on a private registry
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// Every log line a discovery emits carries the discovery, correlation, trace
// and session identifiers:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger = logger.WithDiscoveryID(id).WithCorrelation(corrID, traceID, sessID)
//	logger.Info("Starting discovery")
//
// Bearer tokens never appear in log output; connection values are redacted
// at the type level before they can reach a log field.
//
// # Distributed Tracing
//
// Spans nest discovery > layer > tool > page:
//
//	ctx, span := tel.Tracer.StartLayerSpan(ctx, discoveryID, layerID)
//	defer span.End()
//
// Exporters: otlp, stdout, none.
package telemetry
