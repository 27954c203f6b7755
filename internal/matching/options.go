// Package matching implements the two-tier matching run: partner facility
// inventory first, then registered donors.
package matching

import (
	"time"

	"bloodlink/internal/core"
	"bloodlink/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "bloodlink/internal/matching"

// FacilityDirectory enumerates partner facilities in a stable order.
type FacilityDirectory interface {
	Facilities() []domain.Facility
}

type options struct {
	logger          core.Logger
	metrics         core.MetricsRecorder
	tracer          trace.Tracer
	storeTimeout    time.Duration
	composerTimeout time.Duration
	deliveryTimeout time.Duration
	concurrency     int
}

func defaultOptions() options {
	return options{
		logger:      core.NoopLogger(),
		tracer:      otel.Tracer(instrumentationName),
		concurrency: DefaultDeliveryConcurrency,
	}
}

// Option configures the matching components.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder observes run and phase outcomes.
func WithMetricsRecorder(m core.MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithStoreTimeout bounds each store call. Zero means no bound.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *options) { o.storeTimeout = d }
}

// WithComposerTimeout bounds each composer call.
func WithComposerTimeout(d time.Duration) Option {
	return func(o *options) { o.composerTimeout = d }
}

// WithDeliveryTimeout bounds each sink delivery.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(o *options) { o.deliveryTimeout = d }
}

// DefaultDeliveryConcurrency caps in-flight deliveries when no bound is configured.
const DefaultDeliveryConcurrency = 8

// WithDeliveryConcurrency caps how many deliveries of one batch run at once.
// Values below one keep the default.
func WithDeliveryConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func buildOptions(opts []Option) options {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
