package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OTelProviders holds the initialized OpenTelemetry providers
type OTelProviders struct {
	MeterProvider *sdkmetric.MeterProvider
	Meter         metric.Meter
}

var (
	otelOnce      sync.Once
	otelProviders *OTelProviders
	otelErr       error
)

// InitializeOTel sets up the OpenTelemetry meter provider backed by the
// Prometheus exporter. Metrics are exposed via the default Prometheus
// registry and served by promhttp on /metrics. The exporter registers
// collectors in the process-wide registry, so initialization happens
// once per process.
func InitializeOTel(serviceName, serviceVersion string, logger *slog.Logger) (*OTelProviders, error) {
	otelOnce.Do(func() {
		otelProviders, otelErr = newOTelProviders(serviceName, serviceVersion, logger)
	})
	return otelProviders, otelErr
}

func newOTelProviders(serviceName, serviceVersion string, logger *slog.Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	logger.Info("OpenTelemetry metrics initialized",
		slog.String("service", serviceName),
		slog.String("exporter", "prometheus"))

	return &OTelProviders{
		MeterProvider: mp,
		Meter:         mp.Meter(serviceName),
	}, nil
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	if p == nil || p.MeterProvider == nil {
		return nil
	}
	return p.MeterProvider.Shutdown(ctx)
}

// BusinessMetrics holds application-level instruments
type BusinessMetrics struct {
	JobsStarted   metric.Int64Counter
	JobsCompleted metric.Int64Counter
	JobsFailed    metric.Int64Counter
	JobsCancelled metric.Int64Counter
	ActiveJobs    metric.Int64UpDownCounter
	StageDuration metric.Float64Histogram
}

// CreateBusinessMetrics creates the application-level instruments
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	m := &BusinessMetrics{}
	var err error

	if m.JobsStarted, err = meter.Int64Counter("jobs_started_total",
		metric.WithDescription("Number of analysis jobs started")); err != nil {
		return nil, err
	}
	if m.JobsCompleted, err = meter.Int64Counter("jobs_completed_total",
		metric.WithDescription("Number of analysis jobs completed successfully")); err != nil {
		return nil, err
	}
	if m.JobsFailed, err = meter.Int64Counter("jobs_failed_total",
		metric.WithDescription("Number of analysis jobs that ended in error")); err != nil {
		return nil, err
	}
	if m.JobsCancelled, err = meter.Int64Counter("jobs_cancelled_total",
		metric.WithDescription("Number of analysis jobs cancelled before completion")); err != nil {
		return nil, err
	}
	if m.ActiveJobs, err = meter.Int64UpDownCounter("jobs_active",
		metric.WithDescription("Number of currently running analysis jobs")); err != nil {
		return nil, err
	}
	if m.StageDuration, err = meter.Float64Histogram("job_stage_duration_seconds",
		metric.WithDescription("Duration of individual pipeline stages"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordStageDuration records the duration of a single pipeline stage
func (m *BusinessMetrics) RecordStageDuration(ctx context.Context, domain, stage string, d time.Duration) {
	if m == nil || m.StageDuration == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("domain", domain),
			attribute.String("stage", stage),
		))
}
