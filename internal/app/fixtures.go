package app

import (
	"context"
	"errors"
	"fmt"

	"bloodlink/internal/core"
	"bloodlink/pkg/domain"
)

// DemoIdentities are the accounts seeded by SeedDemo.
func DemoIdentities() []domain.Identity {
	return []domain.Identity{
		{ID: "donor-123", Username: "John Doe", Email: "john@test.com", Profile: domain.DonorProfile{BloodType: domain.BloodTypeBNeg}},
		{ID: "donor-456", Username: "Jane Smith", Email: "jane@test.com", Profile: domain.DonorProfile{BloodType: domain.BloodTypeAPos}},
		{ID: "donor-789", Username: "Peter Jones", Email: "peter@test.com", Profile: domain.DonorProfile{BloodType: domain.BloodTypeONeg}},
		{ID: "organizer-abc", Username: "Red Cross Kollam", Email: "organizer@test.com", Profile: domain.OrganizerProfile{OrganizationName: "Red Cross Kollam"}},
		{ID: "hospital-xyz", Username: "Dr. Emily Carter", Email: "hospital@test.com", Profile: domain.HospitalProfile{HospitalName: "Mercy Hospital, Kollam", FacilityID: "mercy_hospital_id"}},
	}
}

// DemoInventory is the partner stock seeded by SeedDemo, keyed by facility.
func DemoInventory() map[string]map[domain.BloodType]int {
	return map[string]map[domain.BloodType]int{
		"city_hospital_id": {domain.BloodTypeBNeg: 1},
	}
}

// SeedDemo registers the demo accounts and stock. Accounts that already exist
// are left alone, so seeding twice is harmless.
func SeedDemo(ctx context.Context, svc *core.Service) error {
	for _, identity := range DemoIdentities() {
		if _, err := svc.RegisterIdentity(ctx, identity); err != nil && !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("seed identity %s: %w", identity.ID, err)
		}
	}
	for facilityID, levels := range DemoInventory() {
		if _, err := svc.SetFacilityInventory(ctx, facilityID, levels); err != nil {
			return fmt.Errorf("seed inventory %s: %w", facilityID, err)
		}
	}
	return nil
}
