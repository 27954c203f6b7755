package core

import "bloodlink/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	return NewRulesEngine(
		LifecycleTransitionRule(),
		FulfillmentBoundsRule(),
		InventoryFloorRule(),
	)
}

func decodeChangePayload[T any](payload domain.ChangePayload) (T, bool) {
	value, ok, err := domain.DecodePayload[T](payload)
	if err != nil || !ok {
		var zero T
		return zero, false
	}
	return value, true
}
