package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED metrics for the local gate API
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business metrics
	gateDecisionsTotal        metric.Int64Counter
	registryOperationsTotal   metric.Int64Counter
	registryOperationDuration metric.Float64Histogram
	registryErrors            metric.Int64Counter
	dbOperationsTotal         metric.Int64Counter
	dbOperationDuration       metric.Float64Histogram
	retryReactivationsTotal   metric.Int64Counter
	retryPermanentBlocks      metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance. With Enabled false every recording
// method is a no-op, so callers never need to branch.
func New(_ context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// Go runtime metrics (goroutines, GC, heap) via the otel contrib
	// instrumentation.
	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the OpenTelemetry meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// RecordHTTPRequest records local API request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordGateDecision records a gate outcome. gate is "send" or "download";
// decision is "allow", "block_local" or "block_global".
func (t *Telemetry) RecordGateDecision(gate, decision string) {
	if t.gateDecisionsTotal != nil {
		t.gateDecisionsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("gate", gate),
				attribute.String("decision", decision),
			),
		)
	}
}

// RecordRegistryOperation records a registry client operation outcome.
func (t *Telemetry) RecordRegistryOperation(operation, status string, duration time.Duration) {
	if t.registryOperationsTotal != nil {
		t.registryOperationsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}

	if t.registryOperationDuration != nil {
		t.registryOperationDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}
}

// RecordRegistryError records a failed registry operation by error kind.
// Kinds form a closed set, so cardinality stays bounded.
func (t *Telemetry) RecordRegistryError(operation, kind string) {
	if t.registryErrors != nil {
		t.registryErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("kind", kind),
			),
		)
	}
}

// RecordDBOperation records local store operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}
}

// RecordReactivation counts a blocked download coming back to life.
func (t *Telemetry) RecordReactivation() {
	if t.retryReactivationsTotal != nil {
		t.retryReactivationsTotal.Add(context.Background(), 1)
	}
}

// RecordPermanentBlock counts an item exhausting its re-check budget.
func (t *Telemetry) RecordPermanentBlock() {
	if t.retryPermanentBlocks != nil {
		t.retryPermanentBlocks.Add(context.Background(), 1)
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of local API requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("Local API request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of local API requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	t.gateDecisionsTotal, err = t.meter.Int64Counter(
		"gate_decisions_total",
		metric.WithDescription("Total number of send/download gate decisions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create gate_decisions_total counter: %w", err)
	}

	t.registryOperationsTotal, err = t.meter.Int64Counter(
		"registry_operations_total",
		metric.WithDescription("Total number of registry client operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create registry_operations_total counter: %w", err)
	}

	t.registryOperationDuration, err = t.meter.Float64Histogram(
		"registry_operation_duration_seconds",
		metric.WithDescription("Registry client operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create registry_operation_duration histogram: %w", err)
	}

	t.registryErrors, err = t.meter.Int64Counter(
		"registry_errors_total",
		metric.WithDescription("Total number of registry client errors by kind"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create registry_errors_total counter: %w", err)
	}

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of local store operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Local store operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	t.retryReactivationsTotal, err = t.meter.Int64Counter(
		"retry_reactivations_total",
		metric.WithDescription("Total number of blocked downloads reactivated"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create retry_reactivations_total counter: %w", err)
	}

	t.retryPermanentBlocks, err = t.meter.Int64Counter(
		"retry_permanent_blocks_total",
		metric.WithDescription("Total number of retry items moved to the terminal blocked state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create retry_permanent_blocks_total counter: %w", err)
	}

	return nil
}
