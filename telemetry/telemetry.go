// Package telemetry wires OpenTelemetry tracing into the orchestrator,
// grounded on pkg/observability/tracer.go's InitGlobalTracer/GetTracer
// pair, narrowed to this module's scope: no OTLP exporter config (that's
// an embedding application's concern), just a tracer accessor and a
// minimal SDK-backed default provider so spans are real even when the
// caller hasn't wired an exporter of their own.
package telemetry

import (
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/flowforge/orchestrator"

// NewDefaultProvider builds a minimal SDK TracerProvider with no
// exporter attached. Spans are created and sampled but not shipped
// anywhere; an embedding application that wants real export should build
// its own sdktrace.TracerProvider with a batcher/exporter and call
// otel.SetTracerProvider before running any workflow.
func NewDefaultProvider() *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
}

// Tracer returns the orchestrator's tracer, sourced from whatever
// TracerProvider is currently registered globally (otel.SetTracerProvider),
// defaulting to OpenTelemetry's own no-op provider if none was set.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
