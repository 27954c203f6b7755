package domain

import (
	"context"
	"fmt"
)

// RuleView is the read-only state a rule sees: the transaction's pending
// requests and inventory.
type RuleView interface {
	ListRequests() []Request
	FindRequest(id string) (Request, bool)
	ListInventory() []InventoryRecord
	FindInventory(facilityID string, bt BloodType) (InventoryRecord, bool)
}

// Rule inspects the changes of one transaction before it commits.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine evaluates rules in registration order.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine returns an engine holding rules.
func NewRulesEngine(rules ...Rule) *RulesEngine {
	e := &RulesEngine{}
	for _, r := range rules {
		e.Register(r)
	}
	return e
}

// Register appends a rule. Nil rules are ignored.
func (e *RulesEngine) Register(rule Rule) {
	if rule == nil {
		return
	}
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rules in evaluation order.
func (e *RulesEngine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate runs every rule over changes. A rule error aborts evaluation and is
// returned with the rule's name.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	if len(changes) == 0 {
		return combined, nil
	}
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		combined.Merge(res)
	}
	return combined, nil
}
