package core

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"bloodlink/pkg/domain"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	store, err := OpenPersistentStore(context.Background(), StorageOptions{Driver: StorageMemory}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := store.(io.Closer); ok {
		t.Fatalf("memory store should not hold resources")
	}
}

func TestOpenPersistentStoreDefaultsToSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "bloodlink.db")
	store, err := OpenPersistentStore(ctx, StorageOptions{SQLitePath: path}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	svc := NewService(store)
	req, err := svc.CreateRequest(ctx, "city", "City Hospital", domain.BloodTypeAPos, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	closer, ok := store.(io.Closer)
	if !ok {
		t.Fatalf("sqlite store should be closable")
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenPersistentStore(ctx, StorageOptions{Driver: StorageSQLite, SQLitePath: path}, NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.(io.Closer).Close()
	if _, ok := reopened.GetRequest(req.ID); !ok {
		t.Fatalf("request not persisted across reopen")
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	if _, err := OpenPersistentStore(context.Background(), StorageOptions{Driver: "etcd"}, nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
