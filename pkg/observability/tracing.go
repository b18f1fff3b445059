package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/odvcencio/testfleet"

// Span attribute keys.
var (
	AttrRunID       = attribute.Key("testfleet.run.id")
	AttrBrowserID   = attribute.Key("testfleet.browser.id")
	AttrBrowserCnt  = attribute.Key("testfleet.run.browsers")
	AttrDeltaFiles  = attribute.Key("testfleet.delta.files")
	AttrOutcome     = attribute.Key("testfleet.browser.outcome")
	AttrRunFailures = attribute.Key("testfleet.run.failures")
)

// TracerProvider exports dispatch spans as JSON lines.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

type tracingOptions struct {
	out   io.Writer
	ratio float64
}

// TracingOption configures NewTracerProvider.
type TracingOption func(*tracingOptions)

// WithTraceWriter sends exported spans to w instead of stderr.
func WithTraceWriter(w io.Writer) TracingOption {
	return func(o *tracingOptions) { o.out = w }
}

// WithSampleRatio samples the given fraction of root spans. Child spans
// follow their parent.
func WithSampleRatio(ratio float64) TracingOption {
	return func(o *tracingOptions) { o.ratio = ratio }
}

// NewTracerProvider builds a provider and installs it as the global one so
// Tracer picks it up.
func NewTracerProvider(serviceName, version string, opts ...TracingOption) (*TracerProvider, error) {
	o := tracingOptions{out: os.Stderr, ratio: 1}
	for _, opt := range opts {
		opt(&o)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(o.out))
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.ratio))),
	)
	otel.SetTracerProvider(provider)
	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes pending spans. Safe on nil.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the testfleet tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
