// Package postgres keeps bloodlink state in Postgres. Transactions run against
// the in-memory store; every committed transaction upserts the buckets whose
// JSON changed into a `state` table.
package postgres

import (
	"bloodlink/internal/infra/persistence/memory"
	"bloodlink/pkg/domain"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/bloodlink?sslmode=disable"
)

const (
	createStateSQL = `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	selectStateSQL = `SELECT bucket, payload FROM state`
	upsertStateSQL = `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload, updated_at=now()`
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a memory.Store whose committed state is mirrored into Postgres.
type Store struct {
	*memory.Store
	db      *sql.DB
	written map[string][]byte
}

// NewStore connects to dsn (DefaultDSN when empty), creates the state table
// and hydrates the in-memory store from it. Connection failures wrap
// domain.ErrStoreUnavailable.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %w", domain.ErrStoreUnavailable, err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db, written: make(map[string][]byte)}
	if err := s.hydrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) hydrate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping postgres: %w", domain.ErrStoreUnavailable, err)
	}
	if _, err := s.db.ExecContext(ctx, createStateSQL); err != nil {
		return fmt.Errorf("create state table: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, selectStateSQL)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if err := snapshot.DecodeBucket(bucket, payload); err != nil {
			return err
		}
		s.written[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

// RunInTransaction commits fn only once the changed buckets are written to
// Postgres. A failed write leaves memory at the previous state and is
// reported as domain.ErrStoreUnavailable.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	return s.RunInTransactionWithCommit(ctx, fn, func(ctx context.Context, next memory.Snapshot) error {
		if err := s.persist(context.WithoutCancel(ctx), next); err != nil {
			return fmt.Errorf("%w: persist snapshot: %w", domain.ErrStoreUnavailable, err)
		}
		return nil
	})
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

// persist runs under the memory store's writer lock.
func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) error {
	dirty := make(map[string][]byte)
	for _, bucket := range memory.Buckets() {
		data, err := snapshot.EncodeBucket(bucket)
		if err != nil {
			return err
		}
		if prev, ok := s.written[bucket]; ok && bytes.Equal(prev, data) {
			continue
		}
		dirty[bucket] = data
	}
	if len(dirty) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, bucket := range memory.Buckets() {
		data, ok := dirty[bucket]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertStateSQL, bucket, data); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for bucket, data := range dirty {
		s.written[bucket] = data
	}
	return nil
}

// OverrideSQLOpen replaces the connection opener for tests and returns a
// function restoring the previous one.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
