package matching

import (
	"context"
	"errors"
	"slices"
	"testing"

	"bloodlink/pkg/domain"
)

func TestFindDonorsFiltersByTypeInRegistrationOrder(t *testing.T) {
	store := newTestStore()
	registerDonor(t, store, "d1", "John Doe", domain.BloodTypeBNeg)
	registerDonor(t, store, "d2", "Asha", domain.BloodTypeAPos)
	registerDonor(t, store, "d3", "Jane Roe", domain.BloodTypeBNeg)
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateIdentity(domain.Identity{ID: "h1", Username: "city", Profile: domain.HospitalProfile{HospitalName: "City Hospital", FacilityID: cityHospitalID}})
		return err
	}); err != nil {
		t.Fatalf("register hospital: %v", err)
	}

	dir := NewDonorDirectory(store)
	seq, err := dir.FindDonors(context.Background(), domain.BloodTypeBNeg)
	if err != nil {
		t.Fatalf("find donors: %v", err)
	}
	var ids []string
	for c := range seq {
		if c.BloodType != domain.BloodTypeBNeg {
			t.Fatalf("unexpected candidate %+v", c)
		}
		ids = append(ids, c.ID)
	}
	if !slices.Equal(ids, []string{"d1", "d3"}) {
		t.Fatalf("expected [d1 d3], got %v", ids)
	}

	// Registrations after the call are not visible to the snapshot.
	seq, err = dir.FindDonors(context.Background(), domain.BloodTypeAPos)
	if err != nil {
		t.Fatalf("find donors: %v", err)
	}
	registerDonor(t, store, "d4", "Late", domain.BloodTypeAPos)
	count := 0
	for range seq {
		count++
	}
	if count != 1 {
		t.Fatalf("expected snapshot of 1 donor, got %d", count)
	}
}

func TestFindDonorsStoreFailure(t *testing.T) {
	dir := NewDonorDirectory(failingStore{Store: newTestStore(), err: errBackend})
	if _, err := dir.FindDonors(context.Background(), domain.BloodTypeONeg); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}
