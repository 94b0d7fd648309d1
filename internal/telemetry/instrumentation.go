package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Fingerprints, attachment references and error messages are high
// cardinality and never become metric attributes; only bounded sets
// (operation names, statuses, error kinds) do. High-cardinality context
// belongs in logs, correlated through the trace ids the TraceHandler
// injects.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentRegistryOperation wraps a registry client call in a span and
// records the operation counter and duration. The error-kind counter is
// recorded by the caller, which knows the taxonomy.
func (t *Telemetry) InstrumentRegistryOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "registry."+operation)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", "registry_client"),
		attribute.String("operation", operation),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	t.RecordRegistryOperation(operation, status, duration)

	return err
}

// InstrumentDBOperation wraps a local store call in a span and records
// the db operation metrics.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "db."+operation)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", "blocklist_store"),
		attribute.String("operation", operation),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	t.RecordDBOperation(operation, status, duration)

	return err
}
