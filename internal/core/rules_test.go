package core

import (
	"context"
	"errors"
	"testing"

	"bloodlink/pkg/domain"
)

func mustChangePayload(t *testing.T, v any) domain.ChangePayload {
	t.Helper()
	p, err := domain.NewChangePayloadFromValue(v)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	return p
}

func evaluate(t *testing.T, rule Rule, changes ...Change) Result {
	t.Helper()
	ctx := context.Background()
	var res Result
	store := NewInMemoryService(NewRulesEngine()).Store()
	if err := store.View(ctx, func(v TransactionView) error {
		var err error
		res, err = rule.Evaluate(ctx, v, changes)
		return err
	}); err != nil {
		t.Fatalf("evaluate %s: %v", rule.Name(), err)
	}
	return res
}

func TestLifecycleTransitionRule(t *testing.T) {
	rule := LifecycleTransitionRule()
	urgent := Request{ID: "r1", Status: domain.RequestStatusUrgent, UnitsRequired: 1}
	fulfilled := urgent
	fulfilled.Status = domain.RequestStatusFulfilled
	cancelled := urgent
	cancelled.Status = domain.RequestStatusCancelled
	bogus := urgent
	bogus.Status = "paused"

	cases := []struct {
		name    string
		change  Change
		blocked bool
	}{
		{"urgent to fulfilled", Change{Entity: EntityRequest, Action: ActionUpdate, Before: mustChangePayload(t, urgent), After: mustChangePayload(t, fulfilled)}, false},
		{"fulfilled to urgent", Change{Entity: EntityRequest, Action: ActionUpdate, Before: mustChangePayload(t, fulfilled), After: mustChangePayload(t, urgent)}, true},
		{"cancelled to fulfilled", Change{Entity: EntityRequest, Action: ActionUpdate, Before: mustChangePayload(t, cancelled), After: mustChangePayload(t, fulfilled)}, true},
		{"invalid state", Change{Entity: EntityRequest, Action: ActionCreate, After: mustChangePayload(t, bogus)}, true},
		{"delete terminal", Change{Entity: EntityRequest, Action: ActionDelete, Before: mustChangePayload(t, fulfilled)}, true},
		{"delete urgent", Change{Entity: EntityRequest, Action: ActionDelete, Before: mustChangePayload(t, urgent)}, false},
		{"garbage payload", Change{Entity: EntityRequest, Action: ActionUpdate, After: domain.NewChangePayload([]byte("{"))}, false},
		{"other entity", Change{Entity: EntityNotification, Action: ActionUpdate, After: mustChangePayload(t, bogus)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := evaluate(t, rule, tc.change)
			if res.HasBlocking() != tc.blocked {
				t.Fatalf("blocked=%v, want %v (%v)", res.HasBlocking(), tc.blocked, res.Violations)
			}
		})
	}
}

func TestFulfillmentBoundsRule(t *testing.T) {
	rule := FulfillmentBoundsRule()
	base := Request{ID: "r1", Status: domain.RequestStatusUrgent, UnitsRequired: 3, UnitsFulfilled: 2}
	over := base
	over.UnitsFulfilled = 4
	lower := base
	lower.UnitsFulfilled = 1
	zero := base
	zero.UnitsRequired = 0
	zero.UnitsFulfilled = 0
	raised := base
	raised.UnitsFulfilled = 3

	cases := []struct {
		name    string
		change  Change
		blocked bool
	}{
		{"raise", Change{Entity: EntityRequest, Action: ActionUpdate, Before: mustChangePayload(t, base), After: mustChangePayload(t, raised)}, false},
		{"over required", Change{Entity: EntityRequest, Action: ActionUpdate, Before: mustChangePayload(t, base), After: mustChangePayload(t, over)}, true},
		{"decrease", Change{Entity: EntityRequest, Action: ActionUpdate, Before: mustChangePayload(t, base), After: mustChangePayload(t, lower)}, true},
		{"zero required", Change{Entity: EntityRequest, Action: ActionCreate, After: mustChangePayload(t, zero)}, true},
		{"delete ignored", Change{Entity: EntityRequest, Action: ActionDelete, Before: mustChangePayload(t, over)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := evaluate(t, rule, tc.change).HasBlocking(); got != tc.blocked {
				t.Fatalf("blocked=%v, want %v", got, tc.blocked)
			}
		})
	}
}

func TestInventoryFloorRuleIgnoresUntouchedRecords(t *testing.T) {
	rule := InventoryFloorRule()
	rec := InventoryRecord{FacilityID: "city", BloodType: domain.BloodTypeAPos, Available: 2}
	res := evaluate(t, rule, Change{Entity: EntityInventory, Action: ActionUpdate, After: mustChangePayload(t, rec)})
	if res.HasBlocking() {
		t.Fatalf("unexpected violation %v", res.Violations)
	}
}

func TestDefaultRulesBackUpServiceChecks(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	req := mustCreateRequest(t, svc, "city", domain.BloodTypeAPos, 2)
	if _, err := svc.MarkFulfilled(ctx, req.ID); err != nil {
		t.Fatalf("mark fulfilled: %v", err)
	}

	// Bypass the service guard and write straight to the store.
	_, err := svc.Store().RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.UpdateRequest(req.ID, func(r *Request) error {
			r.Status = domain.RequestStatusUrgent
			return nil
		})
		return err
	})
	var violation RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if got, _ := svc.GetRequest(ctx, req.ID); got.Status != domain.RequestStatusFulfilled {
		t.Fatalf("blocked transaction must not commit, status=%s", got.Status)
	}

	_, err = svc.Store().RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.UpdateRequest(req.ID, func(r *Request) error {
			r.UnitsFulfilled = 5
			return nil
		})
		return err
	})
	if !errors.As(err, &violation) {
		t.Fatalf("expected bounds violation, got %v", err)
	}
}

type negativeInventoryView struct{ records []InventoryRecord }

func (negativeInventoryView) ListRequests() []Request            { return nil }
func (negativeInventoryView) FindRequest(string) (Request, bool) { return Request{}, false }
func (v negativeInventoryView) ListInventory() []InventoryRecord { return v.records }
func (negativeInventoryView) FindInventory(string, BloodType) (InventoryRecord, bool) {
	return InventoryRecord{}, false
}

func TestInventoryFloorRuleBlocksNegativeStock(t *testing.T) {
	rec := InventoryRecord{FacilityID: "city", BloodType: domain.BloodTypeAPos, Available: -1}
	view := negativeInventoryView{records: []InventoryRecord{rec}}
	res, err := InventoryFloorRule().Evaluate(context.Background(), view, []Change{{
		Entity: EntityInventory,
		Action: ActionUpdate,
		After:  mustChangePayload(t, rec),
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.HasBlocking() || res.Violations[0].EntityID != rec.Key() {
		t.Fatalf("expected blocking violation for %s, got %v", rec.Key(), res.Violations)
	}
}
