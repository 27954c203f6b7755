package core

import (
	"bloodlink/pkg/domain"
	"context"
	"fmt"
)

// InventoryFloorRule blocks commits that leave any inventory record below zero.
func InventoryFloorRule() domain.Rule {
	return inventoryFloorRule{}
}

type inventoryFloorRule struct{}

func (inventoryFloorRule) Name() string { return "inventory_floor" }

func (inventoryFloorRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	touched := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityInventory {
			continue
		}
		if rec, ok := decodeChangePayload[domain.InventoryRecord](change.After); ok {
			touched[rec.Key()] = struct{}{}
		}
	}
	if len(touched) == 0 {
		return res, nil
	}
	for _, rec := range view.ListInventory() {
		if _, ok := touched[rec.Key()]; !ok || rec.Available >= 0 {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "inventory_floor",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("inventory %s would drop to %d", rec.Key(), rec.Available),
			Entity:   domain.EntityInventory,
			EntityID: rec.Key(),
		})
	}
	return res, nil
}
