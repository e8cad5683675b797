// Package observability sets up OpenTelemetry tracing for the service: an
// OTLP gRPC exporter, a parent-based ratio sampler, the service resource and
// the W3C propagators used by otelgin, otelhttp and the gorm plugin.
package observability

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-labsync-backend/internal/config"
)

// Replaced in tests.
var (
	newOTLPClient     = otlptracegrpc.NewClient
	newOTLPExporterFn = otlptrace.New

	newServiceResourceFn = func(ctx context.Context, serviceName, version string, extra ...attribute.KeyValue) (*resource.Resource, error) {
		attrs := append([]attribute.KeyValue{
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		}, extra...)
		return resource.New(ctx, resource.WithAttributes(attrs...))
	}
)

// AttrUpstreamHost tags the resource with the partner API host so traces
// from different partner environments are told apart.
const AttrUpstreamHost = attribute.Key("labsync.upstream.host")

// UpstreamHost returns the resource attribute for a partner base URL, or
// false when the URL has no host.
func UpstreamHost(baseURL string) (attribute.KeyValue, bool) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" {
		return attribute.KeyValue{}, false
	}
	return AttrUpstreamHost.String(u.Host), true
}

// Sampler maps a ratio to a parent-based sampler. Ratios >= 1 sample
// everything, ratios <= 0 nothing.
func Sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// grpcOptions builds the exporter options for cfg; TLS uses the system
// roots.
func grpcOptions(cfg config.OTELConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
}

// SetupOTel installs the global tracer provider and propagator and returns
// the provider's Shutdown. When tracing is disabled it returns a no-op and
// leaves the globals alone; on error nothing is installed.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string, extra ...attribute.KeyValue) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	// Resource first: a failure here must not leave an exporter behind.
	res, err := newServiceResourceFn(ctx, cfg.ServiceName, version, extra...)
	if err != nil {
		return nil, err
	}
	exp, err := newOTLPExporterFn(ctx, newOTLPClient(grpcOptions(cfg)...))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(Sampler(cfg.SampleRatio)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn().Err(err).Str("endpoint", cfg.Endpoint).Msg("otel export error")
	}))
	return tp.Shutdown, nil
}
