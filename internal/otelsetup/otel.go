// Package otelsetup wires OpenTelemetry tracing and metrics for the sync
// daemon. Traces go to stdout, metrics to an OTLP HTTP collector.
package otelsetup

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	mSdk "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

var (
	Meter metric.Meter

	JobsEnqueuedCounter  metric.Int64Counter
	JobsSucceededCounter metric.Int64Counter
	JobsFailedCounter    metric.Int64Counter
	JobsRetriedCounter   metric.Int64Counter
	JobsSkippedCounter   metric.Int64Counter
)

// Init configures the global tracer and meter providers and registers the
// job transition counters. The returned function flushes and shuts both
// providers down.
func Init(ctx context.Context, serviceVersion string) (func(context.Context) error, error) {
	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			semconv.ServiceName("syncengine"),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tracerProvider := trace.NewTracerProvider(
		trace.WithBatcher(traceExp),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, err
	}
	meterProvider := mSdk.NewMeterProvider(
		mSdk.WithReader(mSdk.NewPeriodicReader(metricExp)),
		mSdk.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	Meter = meterProvider.Meter("syncengine")

	for _, c := range []struct {
		counter *metric.Int64Counter
		name    string
	}{
		{&JobsEnqueuedCounter, "sync_jobs_enqueued_total"},
		{&JobsSucceededCounter, "sync_jobs_succeeded_total"},
		{&JobsFailedCounter, "sync_jobs_failed_total"},
		{&JobsRetriedCounter, "sync_jobs_retried_total"},
		{&JobsSkippedCounter, "sync_jobs_skipped_total"},
	} {
		*c.counter, err = Meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
	}

	return func(ctx context.Context) error {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
		return meterProvider.Shutdown(ctx)
	}, nil
}
