package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds the OpenTelemetry instruments for the hub
type OTelMetrics struct {
	connections    metric.Int64Counter
	disconnections metric.Int64Counter
	clientCount    metric.Int64Gauge
	broadcasts     metric.Int64Counter
	deliveries     metric.Int64Counter
	failures       metric.Int64Counter
	connDuration   metric.Float64Histogram
}

// NewOTelMetrics creates the hub instruments on the given meter
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	if m.connections, err = meter.Int64Counter("websocket_connections_total",
		metric.WithDescription("Number of accepted websocket connections")); err != nil {
		return nil, err
	}
	if m.disconnections, err = meter.Int64Counter("websocket_disconnections_total",
		metric.WithDescription("Number of closed websocket connections")); err != nil {
		return nil, err
	}
	if m.clientCount, err = meter.Int64Gauge("websocket_clients",
		metric.WithDescription("Number of currently connected clients")); err != nil {
		return nil, err
	}
	if m.broadcasts, err = meter.Int64Counter("websocket_broadcasts_total",
		metric.WithDescription("Number of job event broadcasts")); err != nil {
		return nil, err
	}
	if m.deliveries, err = meter.Int64Counter("websocket_deliveries_total",
		metric.WithDescription("Number of successful per-subscriber deliveries")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("websocket_delivery_failures_total",
		metric.WithDescription("Number of failed per-subscriber deliveries")); err != nil {
		return nil, err
	}
	if m.connDuration, err = meter.Float64Histogram("websocket_connection_duration_seconds",
		metric.WithDescription("Lifetime of closed websocket connections"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordConnection records an accepted connection
func (m *OTelMetrics) RecordConnection(ctx context.Context, clientID string) {
	m.connections.Add(ctx, 1)
}

// RecordDisconnection records a closed connection and its lifetime
func (m *OTelMetrics) RecordDisconnection(ctx context.Context, clientID string, duration time.Duration) {
	m.disconnections.Add(ctx, 1)
	m.connDuration.Record(ctx, duration.Seconds())
}

// RecordClientCount records the current number of clients
func (m *OTelMetrics) RecordClientCount(ctx context.Context, count int64) {
	m.clientCount.Record(ctx, count)
}

// RecordBroadcast records one fan-out and its delivery outcomes
func (m *OTelMetrics) RecordBroadcast(ctx context.Context, eventType string, subscribers, delivered, failed int64) {
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	m.broadcasts.Add(ctx, 1, attrs)
	m.deliveries.Add(ctx, delivered, attrs)
	if failed > 0 {
		m.failures.Add(ctx, failed, attrs)
	}
}
