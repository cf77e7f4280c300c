package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/scanq/internal/api/mid"
	"github.com/ahrav/scanq/internal/infra/eventbus/kafka"
)

const namespace = "scan_api"

// APIMetrics defines the metrics recorded by the API process.
type APIMetrics interface {
	// Event export metrics.
	kafka.SinkMetrics

	// HTTP metrics.
	mid.RequestMetrics
	IncScanRequestsTotal(ctx context.Context)
	IncScanRequestErrors(ctx context.Context, reason string)

	// Push channel metrics.
	AddPushClients(ctx context.Context, delta int64)
	AddPushEventsDropped(ctx context.Context, n int64)
}

type apiMetrics struct {
	messagesPublished metric.Int64Counter
	publishErrors     metric.Int64Counter

	requestsTotal     metric.Int64Counter
	requestDuration   metric.Float64Histogram
	scanRequestsTotal metric.Int64Counter
	scanRequestErrors metric.Int64Counter

	pushClients       metric.Int64UpDownCounter
	pushEventsDropped metric.Int64Counter
}

// NewAPIMetrics registers the API instruments with mp.
func NewAPIMetrics(mp metric.MeterProvider) (*apiMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(apiMetrics)
	var err error

	if m.messagesPublished, err = meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of job events exported to Kafka"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of failed job event exports"),
	); err != nil {
		return nil, err
	}

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.scanRequestsTotal, err = meter.Int64Counter(
		"scan_requests_total",
		metric.WithDescription("Total number of scan submissions"),
	); err != nil {
		return nil, err
	}

	if m.scanRequestErrors, err = meter.Int64Counter(
		"scan_request_errors_total",
		metric.WithDescription("Total number of rejected scan submissions"),
	); err != nil {
		return nil, err
	}

	if m.pushClients, err = meter.Int64UpDownCounter(
		"push_clients",
		metric.WithDescription("Number of connected push channel clients"),
	); err != nil {
		return nil, err
	}

	if m.pushEventsDropped, err = meter.Int64Counter(
		"push_events_dropped_total",
		metric.WithDescription("Total number of events dropped for slow push clients"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *apiMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.messagesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *apiMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, path string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

func (m *apiMetrics) IncScanRequestsTotal(ctx context.Context) {
	m.scanRequestsTotal.Add(ctx, 1)
}

func (m *apiMetrics) IncScanRequestErrors(ctx context.Context, reason string) {
	m.scanRequestErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *apiMetrics) AddPushClients(ctx context.Context, delta int64) {
	m.pushClients.Add(ctx, delta)
}

func (m *apiMetrics) AddPushEventsDropped(ctx context.Context, n int64) {
	m.pushEventsDropped.Add(ctx, n)
}
