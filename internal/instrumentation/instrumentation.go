// Package instrumentation provides OpenTelemetry metrics and tracing for the
// server. When disabled it swaps in no-op providers so call sites never need
// nil checks on the providers themselves.
package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName identifies the service in telemetry output.
	ServiceName string

	// ServiceVersion is the running version of the service.
	ServiceVersion string

	// Enabled controls whether real providers are created. When false,
	// no-op providers are used and recording has zero overhead.
	Enabled bool
}

// Instrumentation bundles the meter and tracer providers plus the
// pre-created metric instruments used across the server.
type Instrumentation struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *Metrics

	shutdownFuncs []func(context.Context) error
}

// New creates an instrumentation instance. The returned value is safe to use
// even when cfg.Enabled is false.
func New(cfg Config) (*Instrumentation, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mcp-scribe"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "unknown"
	}

	inst := &Instrumentation{}

	if !cfg.Enabled {
		inst.meterProvider = metricnoop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	} else {
		res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		))
		if err != nil {
			return nil, fmt.Errorf("creating telemetry resource: %w", err)
		}

		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		inst.meterProvider = mp
		inst.tracerProvider = tp
		inst.shutdownFuncs = append(inst.shutdownFuncs, mp.Shutdown, tp.Shutdown)
	}

	metrics, err := newMetrics(inst.meterProvider.Meter("mcp-scribe"))
	if err != nil {
		return nil, fmt.Errorf("creating metric instruments: %w", err)
	}
	inst.metrics = metrics

	return inst, nil
}

// Metrics returns the pre-created metric instruments.
func (i *Instrumentation) Metrics() *Metrics {
	if i == nil {
		return nil
	}
	return i.metrics
}

// Tracer returns a tracer scoped to the given component name.
func (i *Instrumentation) Tracer(name string) trace.Tracer {
	if i == nil {
		return tracenoop.NewTracerProvider().Tracer(name)
	}
	return i.tracerProvider.Tracer(name)
}

// Shutdown flushes and stops the telemetry providers.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	if i == nil {
		return nil
	}
	var firstErr error
	for _, fn := range i.shutdownFuncs {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
