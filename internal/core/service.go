package core

import (
	"context"
	"sync"
	"time"

	"bloodlink/internal/infra/persistence/memory"
)

// Service is the request lifecycle manager. Every mutation is one store
// transaction and is visible to readers before the call returns.
type Service struct {
	store PersistentStore

	clock       Clock
	logger      Logger
	audit       AuditRecorder
	metrics     MetricsRecorder
	tracer      Tracer
	matcher     Matcher
	archive     archiver
	autoFulfill bool

	matchMu  sync.Mutex
	matching map[string]struct{}

	watchMu  sync.Mutex
	watchSeq uint64
	watchers map[uint64]*requestWatcher
	feeds    map[string]*sync.Mutex
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if setter, ok := store.(interface{ SetNowFunc(func() time.Time) }); ok {
		setter.SetNowFunc(func() time.Time { return cfg.clock.Now().UTC() })
	}
	return &Service{
		store:       store,
		clock:       cfg.clock,
		logger:      cfg.logger,
		audit:       cfg.audit,
		metrics:     cfg.metrics,
		tracer:      cfg.tracer,
		matcher:     cfg.matcher,
		archive:     archiver{store: cfg.archive, logger: cfg.logger},
		autoFulfill: cfg.autoFulfill,
		watchers:    make(map[uint64]*requestWatcher),
		feeds:       make(map[string]*sync.Mutex),
		matching:    make(map[string]struct{}),
	}
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

type operationMeta struct {
	entity EntityType
	action Action
}

var auditedOperations = map[string]operationMeta{
	"create_request":         {EntityRequest, ActionCreate},
	"apply_run":              {EntityRequest, ActionUpdate},
	"mark_fulfilled":         {EntityRequest, ActionUpdate},
	"cancel_request":         {EntityRequest, ActionUpdate},
	"delete_request":         {EntityRequest, ActionDelete},
	"purge_archive":          {EntityRequest, ActionDelete},
	"set_inventory":          {EntityInventory, ActionUpdate},
	"register_identity":      {EntityIdentity, ActionCreate},
	"mark_notification_read": {EntityNotification, ActionUpdate},
}

// instrument wraps fn with a span, a metrics observation, a log line and an
// audit entry. fn returns the id of the entity it touched.
func (s *Service) instrument(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("core operation failed", "operation", op, "entity_id", entityID, "error", err)
		s.recordAuditError(ctx, op, entityID, duration, err)
		return err
	}
	s.logger.Debug("core operation succeeded", "operation", op, "entity_id", entityID, "duration", duration)
	s.recordAuditSuccess(ctx, op, entityID, duration)
	return nil
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID string, duration time.Duration) {
	s.recordAudit(ctx, op, entityID, duration, AuditStatusSuccess, "")
}

func (s *Service) recordAuditError(ctx context.Context, op, entityID string, duration time.Duration, err error) {
	s.recordAudit(ctx, op, entityID, duration, AuditStatusError, err.Error())
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, duration time.Duration, status AuditStatus, errMsg string) {
	meta, ok := auditedOperations[op]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    status,
		Duration:  duration,
		Timestamp: s.now(),
		Error:     errMsg,
	})
}
