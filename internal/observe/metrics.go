// Package observe provides application-wide observability primitives for
// mcpfleet: OpenTelemetry metrics and the HTTP bridge that exposes them for
// Prometheus scraping.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all mcpfleet metrics.
const meterName = "github.com/MrWong99/mcpfleet"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ToolCallDuration tracks MCP tool execution latency, by service and tool.
	ToolCallDuration metric.Float64Histogram

	// EndpointRPCDuration tracks end-to-end latency of handling a JSON-RPC
	// request received from an endpoint, from receipt to response write.
	EndpointRPCDuration metric.Float64Histogram

	// --- Counters ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("service", ...), attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// EndpointReconnects counts reconnect attempts per endpoint URL.
	EndpointReconnects metric.Int64Counter

	// EventBusEmits counts events published on the event bus, by topic.
	EventBusEmits metric.Int64Counter

	// ServiceErrors counts downstream service connection/call errors, by
	// service and error kind.
	ServiceErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveEndpoints tracks the number of currently connected endpoints.
	ActiveEndpoints metric.Int64UpDownCounter

	// ActiveServices tracks the number of currently connected downstream
	// MCP services.
	ActiveServices metric.Int64UpDownCounter

	// CatalogSize tracks the number of tools in the aggregated catalog.
	CatalogSize metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// tool-call and RPC round-trip latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ToolCallDuration, err = m.Float64Histogram("mcpfleet.tool_call.duration",
		metric.WithDescription("Latency of MCP tool execution on a downstream service."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EndpointRPCDuration, err = m.Float64Histogram("mcpfleet.endpoint_rpc.duration",
		metric.WithDescription("Latency of handling a JSON-RPC request from an endpoint."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ToolCalls, err = m.Int64Counter("mcpfleet.tool.calls",
		metric.WithDescription("Total tool invocations by service, tool, and status."),
	); err != nil {
		return nil, err
	}
	if met.EndpointReconnects, err = m.Int64Counter("mcpfleet.endpoint.reconnects",
		metric.WithDescription("Total reconnect attempts by endpoint URL."),
	); err != nil {
		return nil, err
	}
	if met.EventBusEmits, err = m.Int64Counter("mcpfleet.eventbus.emits",
		metric.WithDescription("Total events published on the event bus by topic."),
	); err != nil {
		return nil, err
	}
	if met.ServiceErrors, err = m.Int64Counter("mcpfleet.service.errors",
		metric.WithDescription("Total downstream service errors by service and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveEndpoints, err = m.Int64UpDownCounter("mcpfleet.active_endpoints",
		metric.WithDescription("Number of currently connected endpoints."),
	); err != nil {
		return nil, err
	}
	if met.ActiveServices, err = m.Int64UpDownCounter("mcpfleet.active_services",
		metric.WithDescription("Number of currently connected downstream MCP services."),
	); err != nil {
		return nil, err
	}
	if met.CatalogSize, err = m.Int64UpDownCounter("mcpfleet.catalog_size",
		metric.WithDescription("Number of tools in the aggregated catalog."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment and its duration with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, service, tool, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolCallDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("tool", tool),
	))
}

// RecordReconnect is a convenience method that records a reconnect attempt
// for the given endpoint URL.
func (m *Metrics) RecordReconnect(ctx context.Context, endpointURL string) {
	m.EndpointReconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpointURL)))
}

// RecordEmit is a convenience method that records an event bus publish.
func (m *Metrics) RecordEmit(ctx context.Context, topic string) {
	m.EventBusEmits.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// RecordServiceError is a convenience method that records a downstream
// service error.
func (m *Metrics) RecordServiceError(ctx context.Context, service, kind string) {
	m.ServiceErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("kind", kind),
	))
}
