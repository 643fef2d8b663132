package monitoring

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// tracerName is the instrumentation scope name registered with OTel.
const tracerName = "lambda-manager"

// Annotation keys that carry trace context on build Jobs, so the completion
// path can join the trace that launched the build. Keys we own stay under
// the notifi.network/ prefix.
const (
	annotationTraceparent   = "notifi.network/traceparent"
	annotationTracestate    = "notifi.network/tracestate"
	annotationTraceparentTS = "notifi.network/traceparent-ts"
)

// traceContextMaxAge bounds how old a propagated trace context may be before
// the completion path starts a fresh trace instead of joining it. Image
// builds routinely run for many minutes, so the window is generous.
const traceContextMaxAge = 30 * time.Minute

// Tracer is the package-level OTel tracer for the manager.
// It returns a noop tracer when no TracerProvider is registered,
// making instrumentation zero-cost in the default configuration.
var Tracer = otel.Tracer(tracerName)

// InitTracing wires the global TracerProvider from the standard OTEL_*
// environment variables. When OTEL_EXPORTER_OTLP_ENDPOINT is unset the noop
// provider stays in place and the returned shutdown func does nothing.
func InitTracing(ctx context.Context, serviceName, serviceVersion string) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := autoexport.NewSpanExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Re-acquire the package tracer now that a real provider is registered.
	Tracer = otel.Tracer(tracerName)

	return tp.Shutdown, nil
}

// StartBuildSpan starts a new span for one build attempt.
// The span is annotated with the tenant and handler identity.
// Callers must call span.End() when the operation completes.
func StartBuildSpan(ctx context.Context, spanName, tenant, handler string) (context.Context, trace.Span) {
	ctx, span := Tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("lambda.tenant", tenant),
			attribute.String("lambda.handler", handler),
		),
	)
	return ctx, span
}

// StartChildSpan starts a child span under the current trace context.
// Use this for sub-operations within a build (e.g. FetchSource, SubmitJob).
func StartChildSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, spanName)
}

// RecordSpanError records an error on a span and sets the span status to Error.
// If err is nil, this is a no-op.
func RecordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// InjectTraceContext writes the current trace context into the given
// annotations map, typically a build Job's metadata.annotations. A timestamp
// annotation records when the context was captured. No-op when the context
// has no valid span.
func InjectTraceContext(ctx context.Context, annotations map[string]string) {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if parent, ok := carrier["traceparent"]; ok {
		annotations[annotationTraceparent] = parent
	}
	if state, ok := carrier["tracestate"]; ok {
		annotations[annotationTracestate] = state
	}
	annotations[annotationTraceparentTS] = strconv.FormatInt(time.Now().Unix(), 10)
}

// ExtractTraceContext restores a trace context previously injected into the
// given annotations. The second return reports staleness: a missing,
// malformed, or too-old capture timestamp means the caller should start a
// fresh trace rather than join a long-dead one.
func ExtractTraceContext(annotations map[string]string) (context.Context, bool) {
	parent, ok := annotations[annotationTraceparent]
	if !ok {
		return context.Background(), false
	}

	stale := true
	if raw, ok := annotations[annotationTraceparentTS]; ok {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			stale = time.Since(time.Unix(ts, 0)) > traceContextMaxAge
		}
	}

	carrier := propagation.MapCarrier{"traceparent": parent}
	if state, ok := annotations[annotationTracestate]; ok {
		carrier["tracestate"] = state
	}
	return otel.GetTextMapPropagator().Extract(context.Background(), carrier), stale
}

// EnrichLoggerWithTrace returns a context whose logger carries the current
// trace and span IDs, so log lines can be correlated with the trace backend.
// The context is returned unchanged when it has no valid span.
func EnrichLoggerWithTrace(ctx context.Context) context.Context {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ctx
	}
	logger := log.FromContext(ctx).WithValues(
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)
	return log.IntoContext(ctx, logger)
}
