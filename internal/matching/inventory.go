package matching

import (
	"context"
	"errors"
	"fmt"

	"bloodlink/pkg/domain"
)

// InventoryAdapter reserves stock from partner facilities.
type InventoryAdapter struct {
	store      domain.PersistentStore
	facilities FacilityDirectory
	opts       options
}

// NewInventoryAdapter builds an adapter over store, visiting facilities in directory order.
func NewInventoryAdapter(store domain.PersistentStore, facilities FacilityDirectory, opts ...Option) *InventoryAdapter {
	return &InventoryAdapter{store: store, facilities: facilities, opts: buildOptions(opts)}
}

// Reserve takes min(available, unitsNeeded) from the first facility other than
// the requester that has stock. The decrement and the reservation record commit
// in one transaction, so concurrent callers never take the same unit. found is
// false when no facility has stock; errors wrap domain.ErrStoreUnavailable.
func (a *InventoryAdapter) Reserve(ctx context.Context, requestID, requestingFacility string, bt domain.BloodType, unitsNeeded int) (domain.Reservation, bool, error) {
	if unitsNeeded <= 0 {
		return domain.Reservation{}, false, nil
	}
	ctx, cancel := withTimeout(ctx, a.opts.storeTimeout)
	defer cancel()

	for _, facility := range a.facilities.Facilities() {
		if facility.ID == requestingFacility {
			continue
		}
		var (
			reservation domain.Reservation
			reserved    bool
		)
		_, err := a.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			rec, ok := tx.FindInventory(facility.ID, bt)
			if !ok || rec.Available <= 0 {
				return nil
			}
			units := min(rec.Available, unitsNeeded)
			if _, err := tx.UpdateInventory(facility.ID, bt, func(r *domain.InventoryRecord) error {
				r.Available -= units
				return nil
			}); err != nil {
				return err
			}
			var err error
			reservation, err = tx.CreateReservation(domain.Reservation{
				RequestID:  requestID,
				FacilityID: facility.ID,
				BloodType:  bt,
				Units:      units,
			})
			reserved = err == nil
			return err
		})
		if err != nil {
			if !errors.Is(err, domain.ErrStoreUnavailable) {
				err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
			}
			return domain.Reservation{}, false, fmt.Errorf("reserve %s at %s: %w", bt, facility.ID, err)
		}
		if reserved {
			a.opts.logger.Info("inventory reserved",
				"request_id", requestID,
				"facility_id", facility.ID,
				"blood_type", string(bt),
				"units", reservation.Units,
			)
			return reservation, true, nil
		}
	}
	return domain.Reservation{}, false, nil
}
