// Package observability provides monitoring and debugging capabilities for
// outdial through metrics, structured logging, and distributed tracing.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics use the Prometheus client libraries and track:
//   - Call lifecycle: active calls, durations, end reasons
//   - Dial attempts and time-to-answer
//   - Silence escalations by level
//   - Dialogue-generation latency per provider
//   - Tool invocations and termination outcomes
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//	metrics.CallStarted()
//	defer metrics.CallEnded("completed", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on log/slog and adds room/job correlation from context
// plus regex redaction of secrets (API keys, bearer tokens, JWTs) before any
// record is written. Fields attach via variadic key-value pairs:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
//	ctx = observability.WithRoom(ctx, "call-7f3a")
//	logger.Info(ctx, "dial answered", "attempts", 2)
//
// # Tracing
//
// Tracing uses OpenTelemetry with an OTLP/gRPC exporter. With no endpoint
// configured the tracer is a no-op, so instrumentation is always safe to
// leave in place:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "outdial",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
package observability
