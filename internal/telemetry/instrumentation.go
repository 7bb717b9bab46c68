package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes must stay low cardinality: operation names, components, statuses and
// credential slots are fine; dates, paths, identities and error messages belong in
// logs or in the span status.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc, attrs ...attribute.KeyValue) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	ctx, span := t.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	))
	defer span.End()

	span.SetAttributes(attrs...)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments journal database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentRetrieval instruments a single archive fetch. slot is the index of the
// credential used, which keeps the attribute bounded by the number of credentials.
func (t *Telemetry) InstrumentRetrieval(ctx context.Context, slot int, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.AddActiveRetrievals(ctx, 1)
	defer t.AddActiveRetrievals(ctx, -1)

	err := t.InstrumentOperation(ctx, "retrieval", "retriever", fn, attribute.Int("credential.slot", slot))

	t.RecordRetrieval(ctx, statusOf(err), time.Since(start))

	return err
}

// InstrumentBatch instruments a whole bulk download. fn reports whether every date succeeded.
func (t *Telemetry) InstrumentBatch(ctx context.Context, fn func(ctx context.Context) (bool, error)) error {
	if t == nil {
		_, err := fn(ctx)

		return err
	}

	start := time.Now()

	var ok bool

	err := t.InstrumentOperation(ctx, "bulk_download", "retriever", func(ctx context.Context) error {
		var err error
		ok, err = fn(ctx)

		return err
	})

	status := statusOf(err)
	if err == nil && !ok {
		status = "partial"
	}

	t.RecordBatch(ctx, status, time.Since(start))

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
