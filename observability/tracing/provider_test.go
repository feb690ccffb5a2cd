package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Enabled() {
		t.Error("default config should be disabled")
	}
	if cfg.ServiceName != "tenancy" {
		t.Errorf("expected default service name tenancy, got %s", cfg.ServiceName)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	cfg.SampleRate = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected sample rate error")
	}
}

func TestNewProviderRequiresEndpoint(t *testing.T) {
	if _, err := NewProvider(context.Background(), DefaultConfig()); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestProvider_ShutdownNil(t *testing.T) {
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown of nil provider should not error: %v", err)
	}
}

func TestSampler(t *testing.T) {
	for rate, want := range map[float64]string{
		0:   "ParentBased{root:AlwaysOnSampler",
		1:   "ParentBased{root:AlwaysOnSampler",
		0.5: "ParentBased{root:TraceIDRatioBased{0.5}",
	} {
		got := Sampler(rate).Description()
		if len(got) < len(want) || got[:len(want)] != want {
			t.Errorf("Sampler(%g) = %s, want prefix %s", rate, got, want)
		}
	}
}

func TestProvisionTracer(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pt := NewProvisionTracer(tp.Tracer("test"))
	ctx, run := pt.StartRun(context.Background(), "acme", "basic")
	_, ok := pt.StartStep(ctx, "validate")
	End(ok, nil)
	_, bad := pt.StartStep(ctx, "create_tenant")
	End(bad, errors.New("boom"))
	End(run, nil)

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	root := byName["provision.run"]
	for _, name := range []string{"provision.step.validate", "provision.step.create_tenant"} {
		s, found := byName[name]
		if !found {
			t.Fatalf("missing span %s", name)
		}
		if s.Parent.SpanID() != root.SpanContext.SpanID() {
			t.Errorf("%s is not a child of the run span", name)
		}
	}
	if byName["provision.step.create_tenant"].Status.Code != codes.Error {
		t.Error("failed step should be marked as error")
	}
	if byName["provision.step.validate"].Status.Code != codes.Ok {
		t.Error("successful step should be ok")
	}
}
