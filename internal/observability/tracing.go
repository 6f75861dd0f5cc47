package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/felipemaragno/hookline"

// Tracer emits one span per delivery attempt. Without a configured
// TracerProvider the global no-op provider is used.
type Tracer struct {
	tracer trace.Tracer
}

func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// NewTracerWith uses the given provider, mainly for tests.
func NewTracerWith(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// StartDeliverySpan starts the span for one attempt of a delivery.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, webhookID, event string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hookline.delivery",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("hookline.delivery_id", deliveryID),
			attribute.String("hookline.webhook_id", webhookID),
			attribute.String("hookline.event", event),
			attribute.Int("hookline.attempt", attempt),
		),
	)
}

// EndDeliverySpan records the outcome and ends the span. statusCode is 0
// when no response was received.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode int, latencyMs int64, errMsg string) {
	if statusCode > 0 {
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}
	span.SetAttributes(attribute.Int64("hookline.latency_ms", latencyMs))
	if errMsg != "" {
		span.SetAttributes(attribute.String("hookline.error", errMsg))
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}
