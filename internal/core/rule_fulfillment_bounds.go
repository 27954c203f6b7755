package core

import (
	"bloodlink/pkg/domain"
	"context"
	"fmt"
)

// FulfillmentBoundsRule keeps 0 <= units_fulfilled <= units_required and
// blocks any update that lowers units_fulfilled.
func FulfillmentBoundsRule() domain.Rule {
	return fulfillmentBoundsRule{}
}

type fulfillmentBoundsRule struct{}

func (fulfillmentBoundsRule) Name() string { return "fulfillment_bounds" }

func (r fulfillmentBoundsRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityRequest || change.Action == domain.ActionDelete {
			continue
		}
		after, ok := decodeChangePayload[domain.Request](change.After)
		if !ok {
			continue
		}
		switch {
		case after.UnitsRequired <= 0:
			res.Violations = append(res.Violations, r.block(after.ID, fmt.Sprintf("request %s requires %d units", after.ID, after.UnitsRequired)))
			continue
		case after.UnitsFulfilled < 0 || after.UnitsFulfilled > after.UnitsRequired:
			res.Violations = append(res.Violations, r.block(after.ID, fmt.Sprintf("request %s fulfilled %d outside [0, %d]", after.ID, after.UnitsFulfilled, after.UnitsRequired)))
			continue
		}
		if before, ok := decodeChangePayload[domain.Request](change.Before); ok && after.UnitsFulfilled < before.UnitsFulfilled {
			res.Violations = append(res.Violations, r.block(after.ID, fmt.Sprintf("request %s fulfilled decreased from %d to %d", after.ID, before.UnitsFulfilled, after.UnitsFulfilled)))
		}
	}
	return res, nil
}

func (fulfillmentBoundsRule) block(id, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "fulfillment_bounds",
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   domain.EntityRequest,
		EntityID: id,
	}
}
