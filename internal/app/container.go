// Package app wires configuration into a running bloodlink service.
package app

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net/http"

	"bloodlink/internal/blob"
	"bloodlink/internal/config"
	"bloodlink/internal/core"
	"bloodlink/internal/facility"
	"bloodlink/internal/matching"
	"bloodlink/internal/notify"
	"bloodlink/internal/platform/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Container holds the long-lived components built from a Config.
type Container struct {
	config     config.Config
	logger     *zap.Logger
	telemetry  *observability.Telemetry
	store      core.PersistentStore
	archive    blob.Store
	facilities matching.FacilityDirectory
	sink       matching.Sink
	metrics    core.MetricsRecorder
	registry   *prometheus.Registry
	service    *core.Service
	closers    []func(context.Context) error
}

type containerOptions struct {
	logOutput io.Writer
	sink      matching.Sink
	composer  matching.Composer
}

// Option adjusts container construction.
type Option func(*containerOptions)

// WithLogOutput redirects the JSON logger.
func WithLogOutput(w io.Writer) Option {
	return func(o *containerOptions) { o.logOutput = w }
}

// WithSink replaces the configured notification sink.
func WithSink(sink matching.Sink) Option {
	return func(o *containerOptions) { o.sink = sink }
}

// WithComposer replaces the configured message composer.
func WithComposer(c matching.Composer) Option {
	return func(o *containerOptions) { o.composer = c }
}

// New builds every component named by cfg. On error, whatever was already
// opened is closed.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *Container, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	var o containerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	telemetry, telErr := observability.Setup(ctx, cfg.Observability.OTel)
	c.telemetry = telemetry
	logger, err := observability.NewLogger(observability.LoggerOptions{
		Level:  cfg.Observability.LogLevel,
		Output: o.logOutput,
		OTel:   telemetry.Enabled(),
	})
	if err != nil {
		return nil, err
	}
	c.logger = logger
	if telErr != nil {
		logger.Error("failed to setup OpenTelemetry", zap.Error(telErr))
	}
	coreLogger := core.NewZapLogger(logger)

	if err := c.setupMetrics(); err != nil {
		return nil, err
	}
	if err := c.setupStore(ctx); err != nil {
		return nil, err
	}
	if err := c.setupArchive(ctx); err != nil {
		return nil, err
	}
	if err := c.setupFacilities(ctx, coreLogger); err != nil {
		return nil, err
	}

	composer := o.composer
	if composer == nil {
		if composer, err = newComposer(cfg.Composer); err != nil {
			return nil, err
		}
	}
	c.sink = o.sink
	if c.sink == nil {
		if c.sink, err = c.newSink(); err != nil {
			return nil, err
		}
	}

	matchOpts := []matching.Option{
		matching.WithLogger(coreLogger),
		matching.WithMetricsRecorder(c.metrics),
		matching.WithStoreTimeout(cfg.Matching.StoreTimeout),
		matching.WithComposerTimeout(cfg.Composer.Timeout),
		matching.WithDeliveryTimeout(cfg.Matching.DeliveryTimeout),
		matching.WithDeliveryConcurrency(cfg.Matching.DeliveryConcurrency),
	}
	orchestrator, err := matching.NewOrchestrator(matching.Dependencies{
		Inventory:  matching.NewInventoryAdapter(c.store, c.facilities, matchOpts...),
		Donors:     matching.NewDonorDirectory(c.store, matchOpts...),
		Composer:   composer,
		Sink:       c.sink,
		Ledger:     c.store,
		Facilities: c.facilities,
	}, matchOpts...)
	if err != nil {
		return nil, err
	}

	serviceOpts := []core.ServiceOption{
		core.WithLogger(coreLogger),
		core.WithMetricsRecorder(c.metrics),
		core.WithTracer(core.NewOTelTracer(otel.Tracer(config.ServiceName))),
		core.WithMatcher(orchestrator),
		core.WithAutoFulfill(cfg.Matching.AutoFulfill),
	}
	if c.archive != nil {
		serviceOpts = append(serviceOpts, core.WithArchive(c.archive))
	}
	c.service = core.NewService(c.store, serviceOpts...)

	logger.Info("bloodlink ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("archive", cfg.Archive.Driver),
		zap.String("notify", cfg.Notify.Driver),
		zap.String("composer", cfg.Composer.Driver),
		zap.Int("facilities", len(c.facilities.Facilities())),
	)
	return c, nil
}

func (c *Container) setupMetrics() error {
	switch c.config.Observability.Metrics.Driver {
	case "expvar":
		c.metrics = core.NewExpvarMetricsRecorder("")
	case "prometheus":
		c.registry = prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(c.registry)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		c.metrics = rec
	}
	return nil
}

func (c *Container) setupStore(ctx context.Context) error {
	store, err := core.OpenPersistentStore(ctx, core.StorageOptions{
		Driver:      core.StorageDriver(c.config.Storage.Driver),
		SQLitePath:  c.config.Storage.SQLitePath,
		PostgresDSN: c.config.Storage.PostgresDSN,
	}, core.NewDefaultRulesEngine())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	c.store = store
	if closer, ok := store.(io.Closer); ok {
		c.closers = append(c.closers, func(context.Context) error { return closer.Close() })
	}
	return nil
}

func (c *Container) setupArchive(ctx context.Context) error {
	cfg := c.config.Archive
	if cfg.Driver == "none" {
		return nil
	}
	store, err := blob.Open(ctx, blob.Options{
		Driver: blob.Driver(cfg.Driver),
		FSRoot: cfg.FSRoot,
		S3: blob.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		},
	})
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	c.archive = store
	return nil
}

func (c *Container) setupFacilities(ctx context.Context, logger core.Logger) error {
	cfg := c.config.Facilities
	switch {
	case cfg.File != "":
		file, err := facility.OpenFile(cfg.File, facility.WithLogger(logger))
		if err != nil {
			return err
		}
		c.facilities = file
		if cfg.Watch {
			watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			done := make(chan error, 1)
			go func() { done <- file.Watch(watchCtx) }()
			c.closers = append(c.closers, func(context.Context) error {
				cancel()
				return <-done
			})
		}
	case len(cfg.Inline) > 0:
		list, err := facility.NewStatic(cfg.Inline)
		if err != nil {
			return err
		}
		c.facilities = list
	default:
		c.facilities = facility.Defaults()
	}
	return nil
}

func newComposer(cfg config.ComposerConfig) (matching.Composer, error) {
	if cfg.Driver == "http" {
		return matching.NewHTTPComposer(cfg.Endpoint, cfg.APIKey, &http.Client{Timeout: cfg.Timeout}), nil
	}
	return matching.NewTemplateComposer(cfg.Template)
}

func (c *Container) newSink() (matching.Sink, error) {
	cfg := c.config.Notify
	switch cfg.Driver {
	case "kafka":
		producer, err := notify.NewKafkaProducer(notify.KafkaConfig{
			Broker:       cfg.Kafka.Broker,
			Topic:        cfg.Kafka.Topic,
			ClientID:     config.ServiceName,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			BatchSize:    cfg.Kafka.BatchSize,
		}, otel.GetTracerProvider())
		if err != nil {
			return nil, err
		}
		sink := notify.NewKafka(producer)
		c.closers = append(c.closers, func(context.Context) error { return sink.Close() })
		return sink, nil
	case "telegram":
		bot, err := notify.NewTelegramBot(cfg.Telegram.Token)
		if err != nil {
			return nil, err
		}
		return notify.NewTelegram(bot, notify.NewStoreChats(c.store)), nil
	case "memory":
		return notify.NewRecorder(), nil
	default:
		return notify.NewInbox(c.store), nil
	}
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config { return c.config }

// Service returns the request lifecycle service.
func (c *Container) Service() *core.Service { return c.service }

// Store returns the persistent store.
func (c *Container) Store() core.PersistentStore { return c.store }

// Archive returns the archive store, or nil when archiving is disabled.
func (c *Container) Archive() blob.Store { return c.archive }

// Sink returns the notification sink in use.
func (c *Container) Sink() matching.Sink { return c.sink }

// Facilities returns the partner facility directory.
func (c *Container) Facilities() matching.FacilityDirectory { return c.facilities }

// Logger returns the process logger.
func (c *Container) Logger() *zap.Logger { return c.logger }

// MetricsHandler serves the configured metrics backend, or nil when metrics are off.
func (c *Container) MetricsHandler() http.Handler {
	switch {
	case c.registry != nil:
		return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	case c.metrics != nil:
		return expvar.Handler()
	default:
		return nil
	}
}

// Close releases components in reverse construction order, then flushes
// telemetry and the logger.
func (c *Container) Close(ctx context.Context) error {
	var err error
	for i := len(c.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, c.closers[i](ctx))
	}
	c.closers = nil
	if c.telemetry != nil {
		err = errors.Join(err, c.telemetry.Shutdown(ctx))
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	return err
}
