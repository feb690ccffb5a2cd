package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ProvisionTracer opens spans around a provisioning run and its steps.
type ProvisionTracer struct {
	tracer trace.Tracer
}

// NewProvisionTracer creates a ProvisionTracer. A nil tracer uses the global
// provider, which is a no-op until NewProvider installs one.
func NewProvisionTracer(tracer trace.Tracer) *ProvisionTracer {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("tenancy/provision")
	}
	return &ProvisionTracer{tracer: tracer}
}

// StartRun begins the parent span for provisioning subdomain.
func (p *ProvisionTracer) StartRun(ctx context.Context, subdomain, plan string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "provision.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tenant.subdomain", subdomain),
			attribute.String("tenant.plan", plan),
		),
	)
}

// StartStep begins a child span for one step.
func (p *ProvisionTracer) StartStep(ctx context.Context, step string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "provision.step."+step,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("provision.step", step)),
	)
}

// End closes span, recording err when it is non-nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
