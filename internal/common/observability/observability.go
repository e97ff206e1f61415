// Package observability wires OpenTelemetry metrics and tracing for the service.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"storefront-assistant/internal/common/config"
)

type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer

	recommendations      otelmetric.Int64Counter
	recommendationTiming otelmetric.Float64Histogram
	providerCalls        otelmetric.Int64Counter
}

// New installs global meter and tracer providers. Metrics are exported through
// reg (nil means the default Prometheus registerer). Spans go to Jaeger only
// when an endpoint is configured.
func New(cfg config.ObservabilityConfig, reg promclient.Registerer) (*Observability, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "storefront-assistant"
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	meterProvider := metric.NewMeterProvider(metric.WithReader(exporter), metric.WithResource(res))
	otel.SetMeterProvider(meterProvider)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.JaegerEndpoint != "" {
		jexp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
		if err != nil {
			_ = meterProvider.Shutdown(context.Background())
			return nil, fmt.Errorf("create jaeger exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(jexp))
	}
	tracerProvider := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tracerProvider)

	meter := meterProvider.Meter(serviceName)

	recommendations, _ := meter.Int64Counter(
		"recommendations.processed",
		otelmetric.WithDescription("Number of recommendation requests processed"),
	)
	recommendationTiming, _ := meter.Float64Histogram(
		"recommendations.duration",
		otelmetric.WithDescription("Recommendation processing duration"),
		otelmetric.WithUnit("ms"),
	)
	providerCalls, _ := meter.Int64Counter(
		"llm.provider.calls",
		otelmetric.WithDescription("LLM provider calls by outcome"),
	)

	return &Observability{
		meterProvider:        meterProvider,
		tracerProvider:       tracerProvider,
		tracer:               tracerProvider.Tracer(serviceName),
		recommendations:      recommendations,
		recommendationTiming: recommendationTiming,
		providerCalls:        providerCalls,
	}, nil
}

func (o *Observability) Tracer() trace.Tracer {
	return o.tracer
}

// RecordRecommendation counts one pipeline run. path is cache, ranked, request, empty or error.
func (o *Observability) RecordRecommendation(ctx context.Context, path string, duration time.Duration) {
	attrs := otelmetric.WithAttributes(attribute.String("path", path))
	o.recommendations.Add(ctx, 1, attrs)
	o.recommendationTiming.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (o *Observability) RecordProviderCall(ctx context.Context, provider, outcome string) {
	o.providerCalls.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

// Shutdown flushes pending spans and stops both providers.
func (o *Observability) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return errors.Join(
		o.tracerProvider.Shutdown(ctx),
		o.meterProvider.Shutdown(ctx),
	)
}
