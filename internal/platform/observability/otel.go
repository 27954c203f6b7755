// Package observability sets up the zap logger and the OpenTelemetry trace
// and log SDKs.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bloodlink/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ServiceVersion = "0.1.0"
	ExportTimeout  = 30 * time.Second
	MaxQueueSize   = 2048
)

// ShutdownFunc flushes and stops a provider.
type ShutdownFunc func(context.Context) error

func newResource() (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func headers(cfg config.OTelConfig) map[string]string {
	if cfg.AuthHeader == "" {
		return nil
	}
	return map[string]string{"Authorization": cfg.AuthHeader}
}

// SetupLoggingSDK installs a global OTLP log provider.
func SetupLoggingSDK(ctx context.Context, cfg config.OTelConfig) (ShutdownFunc, error) {
	res, err := newResource()
	if err != nil {
		return nil, err
	}
	opts := []otlploghttp.Option{
		otlploghttp.WithEndpoint(cfg.Endpoint),
		otlploghttp.WithURLPath(cfg.LogsPath),
	}
	if h := headers(cfg); h != nil {
		opts = append(opts, otlploghttp.WithHeaders(h))
	}
	if cfg.Insecure {
		opts = append(opts, otlploghttp.WithInsecure())
	}
	exporter, err := otlploghttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("OTLP log exporter: %w", err)
	}
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportTimeout(ExportTimeout),
			sdklog.WithMaxQueueSize(MaxQueueSize),
		)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(provider)
	return provider.Shutdown, nil
}

// SetupTracingSDK installs a global OTLP tracer provider and the W3C propagators.
func SetupTracingSDK(ctx context.Context, cfg config.OTelConfig) (*sdktrace.TracerProvider, ShutdownFunc, error) {
	res, err := newResource()
	if err != nil {
		return nil, nil, err
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithURLPath(cfg.TracesPath),
	}
	if h := headers(cfg); h != nil {
		opts = append(opts, otlptracehttp.WithHeaders(h))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("OTLP trace exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithExportTimeout(ExportTimeout),
			sdktrace.WithMaxQueueSize(MaxQueueSize),
		)),
	)
	otel.SetTracerProvider(provider)
	return provider, provider.Shutdown, nil
}

// Telemetry holds the providers installed by Setup.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	shutdown       []ShutdownFunc
}

// Enabled reports whether OTLP export is active.
func (t *Telemetry) Enabled() bool { return t != nil && t.TracerProvider != nil }

// Shutdown flushes every provider, joining their errors.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var err error
	for _, fn := range t.shutdown {
		err = errors.Join(err, fn(ctx))
	}
	t.shutdown = nil
	return err
}

// Setup installs both SDKs when cfg.Endpoint is set; otherwise it returns an
// inert Telemetry and the global no-op providers stay in place. A failure in
// one SDK does not prevent the other.
func Setup(ctx context.Context, cfg config.OTelConfig) (*Telemetry, error) {
	t := &Telemetry{}
	if cfg.Endpoint == "" {
		return t, nil
	}
	var setupErr error
	if shutdown, err := SetupLoggingSDK(ctx, cfg); err != nil {
		setupErr = errors.Join(setupErr, err)
	} else {
		t.shutdown = append(t.shutdown, shutdown)
	}
	if tp, shutdown, err := SetupTracingSDK(ctx, cfg); err != nil {
		setupErr = errors.Join(setupErr, err)
	} else {
		t.TracerProvider = tp
		t.shutdown = append(t.shutdown, shutdown)
	}
	return t, setupErr
}
