package core

import (
	"context"
	"fmt"
	"sort"

	"bloodlink/pkg/domain"
)

// SetFacilityInventory replaces the facility's stock for every blood type in
// levels. Types absent from levels keep their current value.
func (s *Service) SetFacilityInventory(ctx context.Context, facilityID string, levels map[BloodType]int) ([]InventoryRecord, error) {
	var out []InventoryRecord
	err := s.instrument(ctx, "set_inventory", func(ctx context.Context) (string, error) {
		if facilityID == "" {
			return "", domain.InvalidRequestError{Field: "facility_id", Reason: "must not be empty"}
		}
		types := make([]BloodType, 0, len(levels))
		for bt, units := range levels {
			if !bt.Valid() {
				return facilityID, domain.InvalidRequestError{Field: "blood_type", Reason: fmt.Sprintf("unknown blood type %q", bt)}
			}
			if units < 0 {
				return facilityID, domain.InvalidRequestError{Field: "available", Reason: fmt.Sprintf("%s must not be negative", bt)}
			}
			types = append(types, bt)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			out = out[:0]
			for _, bt := range types {
				rec, err := tx.PutInventory(InventoryRecord{FacilityID: facilityID, BloodType: bt, Available: levels[bt]})
				if err != nil {
					return err
				}
				out = append(out, rec)
			}
			return nil
		})
		return facilityID, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FacilityInventory returns the facility's stock for all eight blood types.
// Untracked types report zero.
func (s *Service) FacilityInventory(ctx context.Context, facilityID string) (map[BloodType]int, error) {
	out := make(map[BloodType]int, len(domain.BloodTypes()))
	for _, bt := range domain.BloodTypes() {
		out[bt] = 0
	}
	err := s.store.View(ctx, func(v TransactionView) error {
		for _, bt := range domain.BloodTypes() {
			if rec, ok := v.FindInventory(facilityID, bt); ok {
				out[bt] = rec.Available
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterIdentity validates and stores a donor, organizer or hospital account.
func (s *Service) RegisterIdentity(ctx context.Context, identity Identity) (Identity, error) {
	var created Identity
	err := s.instrument(ctx, "register_identity", func(ctx context.Context) (string, error) {
		if err := identity.Validate(); err != nil {
			return identity.ID, err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateIdentity(identity)
			return err
		})
		return created.ID, err
	})
	if err != nil {
		return Identity{}, err
	}
	return created, nil
}

// ListNotifications returns the recipient's inbox, newest first.
func (s *Service) ListNotifications(ctx context.Context, recipientID string) ([]Notification, error) {
	var out []Notification
	err := s.store.View(ctx, func(v TransactionView) error {
		for _, n := range v.ListNotifications() {
			if n.RecipientID == recipientID {
				out = append(out, n)
			}
		}
		return nil
	})
	return out, err
}

// MarkNotificationRead flags an inbox message as read.
func (s *Service) MarkNotificationRead(ctx context.Context, notificationID string) (Notification, error) {
	var updated Notification
	err := s.instrument(ctx, "mark_notification_read", func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateNotification(notificationID, func(n *Notification) error {
				n.Read = true
				return nil
			})
			return err
		})
		return notificationID, err
	})
	if err != nil {
		return Notification{}, err
	}
	return updated, nil
}
