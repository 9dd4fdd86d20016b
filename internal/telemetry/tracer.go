package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// syncSpanPrefix names the spans opened by the sync runner
const syncSpanPrefix = "sync."

// NewTracerProvider creates an OTLP-exporting TracerProvider for cfg.
// Returns a no-op provider if cfg is nil or tracing is disabled.
// res may be nil, in which case a resource is built from cfg alone.
// The caller is responsible for calling Shutdown on the returned provider.
func NewTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource) (trace.TracerProvider, error) {
	if cfg == nil || cfg.Tracing == nil || !cfg.Tracing.Enabled {
		slog.Info("Tracing disabled, using no-op tracer provider")
		return noop.NewTracerProvider(), nil
	}

	if res == nil {
		var err error
		if res, err = newResource(ctx, cfg, ""); err != nil {
			return nil, err
		}
	}

	exportOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.GetEndpoint())}
	if cfg.GetInsecure() {
		exportOpts = append(exportOpts, otlptracehttp.WithInsecure())
		slog.Warn("Tracing exports over unencrypted HTTP, use only in development")
	}
	exporter, err := otlptracehttp.New(ctx, exportOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP tracing exporter: %w", err)
	}

	ratio := cfg.Tracing.GetSampling()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(newSampler(ratio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("Tracing initialized",
		"endpoint", cfg.GetEndpoint(),
		"sampling_ratio", ratio,
	)

	return tp, nil
}

// newSampler keeps every root sync run and its scopes, samples API requests
// at ratio, and lets children follow their parent's decision
func newSampler(ratio float64) sdktrace.Sampler {
	return sdktrace.ParentBased(syncRunSampler{ratio: sdktrace.TraceIDRatioBased(ratio)})
}

// syncRunSampler decides for root spans only
type syncRunSampler struct {
	ratio sdktrace.Sampler
}

func (s syncRunSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if strings.HasPrefix(p.Name, syncSpanPrefix) {
		return sdktrace.SamplingResult{
			Decision:   sdktrace.RecordAndSample,
			Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
		}
	}
	return s.ratio.ShouldSample(p)
}

func (s syncRunSampler) Description() string {
	return fmt.Sprintf("SyncRunSampler{%s}", s.ratio.Description())
}

// newResource describes this process. A non-empty tenancyID is recorded as
// the cloud account so traces and metrics of different mirrors stay apart.
func newResource(ctx context.Context, cfg *Config, tenancyID string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.GetServiceName()),
		semconv.ServiceVersion(cfg.GetServiceVersion()),
		semconv.CloudProviderKey.String("oci"),
	}
	if tenancyID != "" {
		attrs = append(attrs, semconv.CloudAccountID(tenancyID))
	}

	// resource.New avoids schema URL conflicts with resource.Default()
	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
