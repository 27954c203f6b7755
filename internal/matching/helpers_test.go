package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"bloodlink/internal/infra/persistence/memory"
	"bloodlink/pkg/domain"
)

const (
	cityHospitalID     = "city_hospital_id"
	districtClinicID   = "district_clinic_id"
	kollamHospitalID   = "kollam_hospital_id"
	districtClinicName = "District Clinic"
)

type staticFacilities []domain.Facility

func (s staticFacilities) Facilities() []domain.Facility { return append([]domain.Facility(nil), s...) }

func testFacilities() staticFacilities {
	return staticFacilities{
		{ID: cityHospitalID, Name: "City Hospital"},
		{ID: districtClinicID, Name: districtClinicName},
		{ID: kollamHospitalID, Name: "Kollam General"},
	}
}

type failingStore struct {
	*memory.Store
	err error
}

func (f failingStore) RunInTransaction(context.Context, func(domain.Transaction) error) (domain.Result, error) {
	return domain.Result{}, f.err
}

func (f failingStore) View(context.Context, func(domain.TransactionView) error) error {
	return f.err
}

// vetoStore commits through the memory store's commit hook and rejects every
// commit while vetoed, like a snapshot store whose disk write fails.
type vetoStore struct {
	*memory.Store
	vetoed atomic.Bool
}

func newVetoStore() *vetoStore { return &vetoStore{Store: newTestStore()} }

func (v *vetoStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	return v.RunInTransactionWithCommit(ctx, fn, func(context.Context, memory.Snapshot) error {
		if v.vetoed.Load() {
			return fmt.Errorf("%w: persist snapshot: %w", domain.ErrStoreUnavailable, errBackend)
		}
		return nil
	})
}

type delivery struct {
	recipient string
	request   string
	message   string
}

type recordingSink struct {
	mu        sync.Mutex
	delivered []delivery
	fail      map[string]bool
}

func (s *recordingSink) Deliver(_ context.Context, recipientID, requestID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[recipientID] {
		return fmt.Errorf("%w: %s unreachable", domain.ErrDeliveryFailed, recipientID)
	}
	s.delivered = append(s.delivered, delivery{recipient: recipientID, request: requestID, message: message})
	return nil
}

func (s *recordingSink) recipients() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.delivered))
	for _, d := range s.delivered {
		out[d.recipient]++
	}
	return out
}

type stubComposer struct {
	text string
	err  error
}

func (c stubComposer) Compose(context.Context, string, string) (string, error) {
	return c.text, c.err
}

type stubReserver struct {
	err error
}

func (r stubReserver) Reserve(context.Context, string, string, domain.BloodType, int) (domain.Reservation, bool, error) {
	return domain.Reservation{}, false, r.err
}

var errBackend = errors.New("backend down")

func newTestStore() *memory.Store {
	return memory.NewStore(domain.NewRulesEngine())
}

func seedInventory(t *testing.T, store domain.PersistentStore, facilityID string, bt domain.BloodType, units int) {
	t.Helper()
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.PutInventory(domain.InventoryRecord{FacilityID: facilityID, BloodType: bt, Available: units})
		return err
	}); err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
}

func registerDonor(t *testing.T, store domain.PersistentStore, id, name string, bt domain.BloodType) {
	t.Helper()
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateIdentity(domain.Identity{ID: id, Username: name, Profile: domain.DonorProfile{BloodType: bt}})
		return err
	}); err != nil {
		t.Fatalf("register donor %s: %v", id, err)
	}
}

func available(t *testing.T, store domain.PersistentStore, facilityID string, bt domain.BloodType) int {
	t.Helper()
	var units int
	if err := store.View(context.Background(), func(v domain.TransactionView) error {
		rec, _ := v.FindInventory(facilityID, bt)
		units = rec.Available
		return nil
	}); err != nil {
		t.Fatalf("view inventory: %v", err)
	}
	return units
}

func phases(events []domain.MatchEvent) []domain.MatchPhase {
	out := make([]domain.MatchPhase, len(events))
	for i, ev := range events {
		out[i] = ev.Phase
	}
	return out
}
