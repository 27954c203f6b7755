package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"bloodlink/pkg/domain"
)

type snapshotCollector struct {
	mu        sync.Mutex
	snapshots [][]Request
}

func (c *snapshotCollector) observe(reqs []Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = append(c.snapshots, reqs)
}

func (c *snapshotCollector) all() [][]Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]Request(nil), c.snapshots...)
}

func TestWatchFacilityRequestsDeliversFullSets(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	existing := mustCreateRequest(t, svc, "city", domain.BloodTypeAPos, 1)

	collector := &snapshotCollector{}
	cancel, err := svc.WatchFacilityRequests(ctx, "city", collector.observe)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	got := collector.all()
	if len(got) != 1 || len(got[0]) != 1 || got[0][0].ID != existing.ID {
		t.Fatalf("expected initial snapshot with existing request, got %+v", got)
	}

	newer := mustCreateRequest(t, svc, "city", domain.BloodTypeONeg, 2)
	mustCreateRequest(t, svc, "district", domain.BloodTypeONeg, 2)
	if _, err := svc.Cancel(ctx, existing.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got = collector.all()
	if len(got) != 3 {
		t.Fatalf("expected 3 deliveries (initial, create, cancel), got %d", len(got))
	}
	afterCreate := got[1]
	if len(afterCreate) != 2 || afterCreate[0].ID != newer.ID || afterCreate[1].ID != existing.ID {
		t.Fatalf("expected newest first after create, got %+v", afterCreate)
	}
	afterCancel := got[2]
	if afterCancel[1].Status != domain.RequestStatusCancelled {
		t.Fatalf("expected cancelled status in latest snapshot, got %+v", afterCancel[1])
	}
}

func TestWatchConcurrentChangesNeverDeliverOlderSets(t *testing.T) {
	svc := newTestService(t)
	var (
		mu    sync.Mutex
		sizes []int
	)
	cancel, err := svc.WatchFacilityRequests(context.Background(), "city", func(reqs []Request) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		sizes = append(sizes, len(reqs))
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	const writers = 8
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CreateRequest(context.Background(), "city", "City Hospital", domain.BloodTypeBNeg, 1); err != nil {
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(sizes); i++ {
		if sizes[i] < sizes[i-1] {
			t.Fatalf("older set delivered after newer one: %v", sizes)
		}
	}
	if last := sizes[len(sizes)-1]; last != writers {
		t.Fatalf("expected final set of %d requests, got %d (%v)", writers, last, sizes)
	}
}

func TestWatchCancelStopsDelivery(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	collector := &snapshotCollector{}
	cancel, err := svc.WatchFacilityRequests(ctx, "city", collector.observe)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	cancel()
	cancel()
	mustCreateRequest(t, svc, "city", domain.BloodTypeAPos, 1)
	if got := collector.all(); len(got) != 1 || len(got[0]) != 0 {
		t.Fatalf("expected only the empty initial snapshot, got %+v", got)
	}
}

func TestWatchContextCancellationStopsDelivery(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	svc := newTestService(t)
	collector := &snapshotCollector{}
	cancel, err := svc.WatchFacilityRequests(ctx, "city", collector.observe)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()
	cancelCtx()
	deadline := time.Now().Add(time.Second)
	for svc.watcherCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("watcher not removed after context cancellation")
		}
		time.Sleep(time.Millisecond)
	}
	mustCreateRequest(t, svc, "city", domain.BloodTypeAPos, 1)
	if got := collector.all(); len(got) != 1 {
		t.Fatalf("expected no delivery after context cancellation, got %d", len(got))
	}
}

func TestWatchRequiresObserver(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.WatchFacilityRequests(context.Background(), "city", nil); err == nil {
		t.Fatalf("expected error for nil observer")
	}
}

func (s *Service) watcherCount() int {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	return len(s.watchers)
}
