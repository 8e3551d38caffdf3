// Package telemetry wires up OpenTelemetry tracing for the runtime: one
// span per AgentMachine transition and one span per tool execution,
// mirroring the teacher's span-per-LLM-call/span-per-tool-call idea, just
// exported over OTLP instead of written to a durable store (durable
// storage is out of scope for this core).
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies this module's instrumentation scope.
const TracerName = "github.com/nextlevelbuilder/agentcore"

// Config configures Setup. An empty OTLPEndpoint yields a tracer provider
// with no exporter attached: spans are created (so instrumentation code
// paths are exercised and tested) but never leave the process.
type Config struct {
	OTLPEndpoint string
	ServiceName  string
}

// Setup installs a global TracerProvider per cfg and returns a shutdown
// func the caller must invoke before exiting.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "agentcore"
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("telemetry: build otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		slog.Info("telemetry: exporting traces", "endpoint", cfg.OTLPEndpoint)
	} else {
		slog.Info("telemetry: no OTLP endpoint configured, spans are created but not exported")
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns this module's tracer from the currently installed
// TracerProvider (the global no-op provider if Setup was never called).
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartTransitionSpan starts a span for one AgentMachine state transition.
func StartTransitionSpan(ctx context.Context, agentID, state string, iteration int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "agent.transition."+state,
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("agent.state", state),
			attribute.Int("agent.iteration", iteration),
		),
	)
}

// StartToolSpan starts a span for one tool execution.
func StartToolSpan(ctx context.Context, toolID, traceID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool.execute."+toolID,
		trace.WithAttributes(
			attribute.String("tool.id", toolID),
			attribute.String("trace.id", traceID),
		),
	)
}

// EndToolSpan finishes a tool span, recording latency and outcome.
func EndToolSpan(span trace.Span, start time.Time, success bool, errMsg string) {
	span.SetAttributes(
		attribute.Int64("tool.latency_ms", time.Since(start).Milliseconds()),
		attribute.Bool("tool.success", success),
	)
	if !success && errMsg != "" {
		span.SetAttributes(attribute.String("tool.error", errMsg))
	}
	span.End()
}
