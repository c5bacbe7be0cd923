package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names.
const (
	tracerName   = "bdbt/analytics"
	dbTracerName = "bdbt/analytics/db"
)

// DBOperation classifies a store call.
type DBOperation string

const (
	DBOperationQuery  DBOperation = "query"
	DBOperationInsert DBOperation = "insert"
	DBOperationExec   DBOperation = "exec"
)

// StartDBSpan starts a client span for a store call against object, a table,
// view or SQL function name. The returned func ends the span and records err.
//
//	ctx, endSpan := tracing.StartDBSpan(ctx, "get_top_content", tracing.DBOperationQuery)
//	defer func() { endSpan(err) }()
func StartDBSpan(ctx context.Context, object string, operation DBOperation) (context.Context, func(error)) {
	name := string(operation)
	if object != "" {
		name += " " + object
	}

	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", string(operation)),
	}
	if object != "" {
		attrs = append(attrs, attribute.String("db.sql.table", object))
	}

	ctx, span := otel.Tracer(dbTracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, endFunc(span)
}

// StartSpan starts an internal span, typically for a background job cycle.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, endFunc(span)
}

func endFunc(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
